package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Settlement channels.
const (
	ChannelGateway = "gateway"
	ChannelCash    = "cash"
	ChannelBalance = "balance"
)

// StatusCompleted is the only status that counts for the paid check.
const StatusCompleted = "completed"

// LedgerEntry is the ground truth for "is period (month, year) paid for this
// student". Immutable after creation; at most one entry per
// (student, month, year), enforced by a unique index.
type LedgerEntry struct {
	ID               snowflake.ID  `json:"id" gorm:"primaryKey"`
	StudentID        snowflake.ID  `json:"student_id" gorm:"not null;uniqueIndex:idx_ledger_student_period,priority:1"`
	Month            int           `json:"month" gorm:"not null;uniqueIndex:idx_ledger_student_period,priority:2"`
	Year             int           `json:"year" gorm:"not null;uniqueIndex:idx_ledger_student_period,priority:3"`
	AmountPaid       int64         `json:"amount_paid" gorm:"not null"`
	TariffLabel      string        `json:"tariff_label" gorm:"type:varchar(100);not null"`
	Channel          string        `json:"channel" gorm:"type:varchar(20);not null"`
	Status           string        `json:"status" gorm:"type:varchar(20);not null"`
	PendingPaymentID *snowflake.ID `json:"pending_payment_id"`
	SettledAt        time.Time     `json:"settled_at" gorm:"not null"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

var (
	// ErrPeriodAlreadySettled signals the uniqueness invariant: callers treat
	// it as "already paid, no-op".
	ErrPeriodAlreadySettled = errors.New("period_already_settled")
	ErrInvalidPeriod        = errors.New("invalid_period")
)

// SettlementInput carries everything RecordSettlement needs.
type SettlementInput struct {
	StudentID        snowflake.ID
	Month            int
	Year             int
	Amount           int64
	TariffLabel      string
	Channel          string
	PendingPaymentID *snowflake.ID
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, e *LedgerEntry) error
	Exists(ctx context.Context, db *gorm.DB, studentID snowflake.ID, month, year int) (bool, error)
	ListByStudent(ctx context.Context, db *gorm.DB, studentID snowflake.ID) ([]LedgerEntry, error)
	ListByPeriod(ctx context.Context, db *gorm.DB, month, year int) ([]LedgerEntry, error)
	ListYears(ctx context.Context, db *gorm.DB) ([]int, error)
}

type Service interface {
	IsPeriodSettled(ctx context.Context, studentID snowflake.ID, month, year int) (bool, error)

	// RecordSettlement creates the entry exactly once. A duplicate for the
	// same (student, month, year) returns ErrPeriodAlreadySettled. When tx is
	// non-nil the insert joins the caller's transaction.
	RecordSettlement(ctx context.Context, tx *gorm.DB, in SettlementInput) (*LedgerEntry, error)

	// History returns entries ordered year desc, month desc.
	History(ctx context.Context, studentID snowflake.ID) ([]LedgerEntry, error)
	ListByPeriod(ctx context.Context, month, year int) ([]LedgerEntry, error)
	Years(ctx context.Context) ([]int, error)
}
