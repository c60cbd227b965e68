package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Local lifecycle statuses.
const (
	StatusPending         = "pending"
	StatusAwaitingCapture = "awaiting_capture"
	StatusSettled         = "settled"
	StatusCanceled        = "canceled"
)

// Remote gateway statuses as reported by the charge API.
const (
	RemotePending           = "pending"
	RemoteWaitingForCapture = "waiting_for_capture"
	RemoteSucceeded         = "succeeded"
	RemoteCanceled          = "canceled"
)

// PendingPayment tracks one gateway-side charge until it settles or cancels.
// It is an audit trail feeding the ledger, never a source of truth for the
// paid check, and it is only ever mutated by the lifecycle service.
type PendingPayment struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	StudentID       snowflake.ID   `json:"student_id" gorm:"not null;index"`
	GatewayID       string         `json:"gateway_id" gorm:"type:varchar(100);not null;uniqueIndex"`
	Amount          int64          `json:"amount" gorm:"not null"`
	Currency        string         `json:"currency" gorm:"type:varchar(3);not null;default:RUB"`
	Status          string         `json:"status" gorm:"type:varchar(20);not null"`
	Description     string         `json:"description" gorm:"type:text"`
	Month           int            `json:"month" gorm:"not null"`
	Year            int            `json:"year" gorm:"not null"`
	TariffKey       string         `json:"tariff_key" gorm:"type:varchar(50);not null"`
	ConfirmationURL string         `json:"confirmation_url" gorm:"type:text"`
	PaymentMethod   datatypes.JSON `json:"payment_method"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"not null"`
}

func (PendingPayment) TableName() string { return "pending_payments" }

// Terminal reports whether the payment can never transition again.
func (p *PendingPayment) Terminal() bool {
	return p.Status == StatusSettled || p.Status == StatusCanceled
}

var (
	ErrPaymentNotFound    = errors.New("payment_not_found")
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
	ErrInvalidPayload     = errors.New("invalid_payload")
	ErrEventIgnored       = errors.New("event_ignored")
)

// Charge is the gateway's view of a payment.
type Charge struct {
	ID              string
	Status          string // remote status
	ConfirmationURL string
	PaymentMethod   []byte // raw payment_method object, may be nil
}

// CreateChargeInput describes an outbound charge creation. Metadata travels to
// the gateway so webhook events can be traced back.
type CreateChargeInput struct {
	Amount      int64
	Currency    string
	Description string
	Metadata    map[string]string
}

// Gateway is the payment provider surface the lifecycle consumes. Every
// CreateCharge call must carry a fresh idempotency token so a retried request
// cannot create a duplicate remote charge.
type Gateway interface {
	CreateCharge(ctx context.Context, in CreateChargeInput) (*Charge, error)
	GetCharge(ctx context.Context, gatewayID string) (*Charge, error)
}

// ApplyResult describes what a remote status did to a pending payment.
type ApplyResult int

const (
	ApplyNoop ApplyResult = iota
	ApplySettled
	ApplyCanceled
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, p *PendingPayment) error
	Update(ctx context.Context, db *gorm.DB, p *PendingPayment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PendingPayment, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PendingPayment, error)
	FindByGatewayID(ctx context.Context, db *gorm.DB, gatewayID string) (*PendingPayment, error)
	ListInFlight(ctx context.Context, db *gorm.DB) ([]PendingPayment, error)
	ListByStudent(ctx context.Context, db *gorm.DB, studentID snowflake.ID) ([]PendingPayment, error)
}

// Service is the payment lifecycle controller.
type Service interface {
	// CreatePending quotes the student's tariff, creates the remote charge and
	// persists the local record. Nothing is persisted when the gateway call
	// fails.
	CreatePending(ctx context.Context, studentID snowflake.ID, month, year int) (*PendingPayment, error)

	// CheckStatus polls the gateway and applies the resulting transition.
	CheckStatus(ctx context.Context, paymentID snowflake.ID) (*PendingPayment, error)

	// ApplyRemoteStatus maps a remote status onto the local state machine.
	// Settling updates the payment and records the ledger entry in one
	// transaction; a ledger conflict is treated as success. Terminal payments
	// are never transitioned again.
	ApplyRemoteStatus(ctx context.Context, p *PendingPayment, remoteStatus string, paymentMethod []byte) (ApplyResult, error)

	Get(ctx context.Context, paymentID snowflake.ID) (*PendingPayment, error)
	GetByGatewayID(ctx context.Context, gatewayID string) (*PendingPayment, error)
	ListInFlight(ctx context.Context) ([]PendingPayment, error)
	ListByStudent(ctx context.Context, studentID snowflake.ID) ([]PendingPayment, error)
}

// Notifier delivers settlement notices to the payer and staff. Implementations
// are fire-and-forget: a failed delivery never fails the settlement.
type Notifier interface {
	NotifySettled(ctx context.Context, studentID snowflake.ID, month, year int, amount int64)
}

// WebhookService ingests asynchronous gateway events.
type WebhookService interface {
	IngestWebhook(ctx context.Context, payload []byte) error
}
