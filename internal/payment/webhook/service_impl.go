package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tutorstack/tutorcrm/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lifecycle domain.Service
	Log       *zap.Logger
}

type Service struct {
	lifecycle domain.Service
	log       *zap.Logger
}

func NewService(p Params) domain.WebhookService {
	return &Service{
		lifecycle: p.Lifecycle,
		log:       p.Log.Named("payment.webhook"),
	}
}

type event struct {
	Event  string `json:"event"`
	Object struct {
		ID            string          `json:"id"`
		Status        string          `json:"status"`
		PaymentMethod json.RawMessage `json:"payment_method"`
	} `json:"object"`
}

// IngestWebhook applies a gateway notification to the local state machine.
// Duplicate and out-of-order deliveries are safe: terminal payments are never
// transitioned again and the ledger insert is idempotent.
func (s *Service) IngestWebhook(ctx context.Context, payload []byte) error {
	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return domain.ErrInvalidPayload
	}
	if ev.Object.ID == "" {
		return domain.ErrInvalidPayload
	}

	var remote string
	switch strings.TrimSpace(ev.Event) {
	case "payment.succeeded":
		remote = domain.RemoteSucceeded
	case "payment.canceled":
		remote = domain.RemoteCanceled
	case "payment.waiting_for_capture":
		remote = domain.RemoteWaitingForCapture
	default:
		s.log.Debug("webhook event ignored", zap.String("event", ev.Event))
		return domain.ErrEventIgnored
	}

	p, err := s.lifecycle.GetByGatewayID(ctx, ev.Object.ID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			s.log.Warn("webhook for unknown payment", zap.String("gateway_id", ev.Object.ID))
		}
		return err
	}

	result, err := s.lifecycle.ApplyRemoteStatus(ctx, p, remote, ev.Object.PaymentMethod)
	if err != nil {
		s.log.Error("webhook processing failed",
			zap.String("gateway_id", ev.Object.ID),
			zap.Error(err))
		return err
	}

	s.log.Info("webhook processed",
		zap.String("gateway_id", ev.Object.ID),
		zap.String("event", ev.Event),
		zap.Int("result", int(result)))
	return nil
}
