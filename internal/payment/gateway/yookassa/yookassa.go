package yookassa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/tutorstack/tutorcrm/internal/config"
	"github.com/tutorstack/tutorcrm/internal/payment/domain"
	"go.uber.org/zap"
)

// Client talks to the YooKassa payments API. Calls are synchronous with
// bounded timeouts and no automatic retry; idempotency of charge creation is
// carried by the Idempotence-Key header.
type Client struct {
	baseURL   string
	shopID    string
	secretKey string
	returnURL string
	http      *http.Client
	log       *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) domain.Gateway {
	return &Client{
		baseURL:   cfg.YooKassa.BaseURL,
		shopID:    cfg.YooKassa.ShopID,
		secretKey: cfg.YooKassa.SecretKey,
		returnURL: cfg.YooKassa.ReturnURL,
		http: &http.Client{
			Timeout: cfg.YooKassa.ReadTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.YooKassa.ConnectTimeout}).DialContext,
			},
		},
		log: log.Named("gateway.yookassa"),
	}
}

type amountBody struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type confirmationBody struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type receiptItem struct {
	Description string     `json:"description"`
	Quantity    string     `json:"quantity"`
	Amount      amountBody `json:"amount"`
	VatCode     string     `json:"vat_code"`
}

type receiptBody struct {
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
	Items []receiptItem `json:"items"`
}

type createPaymentRequest struct {
	Amount       amountBody        `json:"amount"`
	Confirmation confirmationBody  `json:"confirmation"`
	Capture      bool              `json:"capture"`
	Description  string            `json:"description"`
	Receipt      receiptBody       `json:"receipt"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type paymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
	PaymentMethod json.RawMessage `json:"payment_method"`
}

func (c *Client) CreateCharge(ctx context.Context, in domain.CreateChargeInput) (*domain.Charge, error) {
	currency := in.Currency
	if currency == "" {
		currency = "RUB"
	}
	amount := amountBody{Value: strconv.FormatInt(in.Amount, 10), Currency: currency}

	reqBody := createPaymentRequest{
		Amount:       amount,
		Confirmation: confirmationBody{Type: "redirect", ReturnURL: c.returnURL},
		Capture:      true,
		Description:  in.Description,
		Metadata:     in.Metadata,
	}
	reqBody.Receipt.Customer.Email = "customer@example.com"
	reqBody.Receipt.Items = []receiptItem{{
		Description: in.Description,
		Quantity:    "1.00",
		Amount:      amount,
		VatCode:     "1",
	}}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())

	resp, err := c.do(req, "create")
	if err != nil {
		return nil, err
	}
	if resp.Confirmation.ConfirmationURL == "" {
		c.log.Warn("create charge response missing confirmation url", zap.String("gateway_id", resp.ID))
		return nil, domain.ErrGatewayUnavailable
	}
	return &domain.Charge{
		ID:              resp.ID,
		Status:          resp.Status,
		ConfirmationURL: resp.Confirmation.ConfirmationURL,
		PaymentMethod:   resp.PaymentMethod,
	}, nil
}

func (c *Client) GetCharge(ctx context.Context, gatewayID string) (*domain.Charge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payments/"+gatewayID, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.shopID, c.secretKey)

	resp, err := c.do(req, "get")
	if err != nil {
		return nil, err
	}
	return &domain.Charge{
		ID:              resp.ID,
		Status:          resp.Status,
		ConfirmationURL: resp.Confirmation.ConfirmationURL,
		PaymentMethod:   resp.PaymentMethod,
	}, nil
}

func (c *Client) do(req *http.Request, op string) (*paymentResponse, error) {
	httpResp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("gateway call failed", zap.String("op", op), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	if httpResp.StatusCode >= 500 {
		c.log.Warn("gateway server error",
			zap.String("op", op),
			zap.Int("status", httpResp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, httpResp.StatusCode)
	}
	if httpResp.StatusCode >= 400 {
		var apiErr struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		}
		_ = json.Unmarshal(body, &apiErr)
		c.log.Error("gateway rejected request",
			zap.String("op", op),
			zap.Int("status", httpResp.StatusCode),
			zap.String("code", apiErr.Code),
			zap.String("description", apiErr.Description))
		return nil, fmt.Errorf("%w: status %d %s", domain.ErrGatewayUnavailable, httpResp.StatusCode, apiErr.Code)
	}

	var resp paymentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	if resp.ID == "" {
		return nil, domain.ErrGatewayUnavailable
	}
	return &resp, nil
}
