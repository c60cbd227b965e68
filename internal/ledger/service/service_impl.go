package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/tutorstack/tutorcrm/internal/clock"
	"github.com/tutorstack/tutorcrm/internal/ledger/domain"
	"github.com/tutorstack/tutorcrm/internal/observability"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Repo    domain.Repository
	GenID   *snowflake.Node
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *observability.Metrics
}

type service struct {
	db      *gorm.DB
	repo    domain.Repository
	genID   *snowflake.Node
	clock   clock.Clock
	log     *zap.Logger
	metrics *observability.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		db:      p.DB,
		repo:    p.Repo,
		genID:   p.GenID,
		clock:   p.Clock,
		log:     p.Log.Named("ledger"),
		metrics: p.Metrics,
	}
}

func (s *service) IsPeriodSettled(ctx context.Context, studentID snowflake.ID, month, year int) (bool, error) {
	if err := validatePeriod(month, year); err != nil {
		return false, err
	}
	return s.repo.Exists(ctx, nil, studentID, month, year)
}

func (s *service) RecordSettlement(ctx context.Context, tx *gorm.DB, in domain.SettlementInput) (*domain.LedgerEntry, error) {
	if err := validatePeriod(in.Month, in.Year); err != nil {
		return nil, err
	}

	entry := &domain.LedgerEntry{
		ID:               s.genID.Generate(),
		StudentID:        in.StudentID,
		Month:            in.Month,
		Year:             in.Year,
		AmountPaid:       in.Amount,
		TariffLabel:      in.TariffLabel,
		Channel:          in.Channel,
		Status:           domain.StatusCompleted,
		PendingPaymentID: in.PendingPaymentID,
		SettledAt:        s.clock.Now(ctx),
	}

	// The unique index is the backstop: two racing settlements for the same
	// period collapse to one insert and one ErrPeriodAlreadySettled.
	if err := s.repo.Insert(ctx, tx, entry); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, domain.ErrPeriodAlreadySettled
		}
		return nil, err
	}

	s.metrics.SettlementsTotal.WithLabelValues(in.Channel).Inc()
	s.log.Info("settlement recorded",
		zap.Int64("student_id", int64(in.StudentID)),
		zap.Int("month", in.Month),
		zap.Int("year", in.Year),
		zap.Int64("amount", in.Amount),
		zap.String("channel", in.Channel))
	return entry, nil
}

func (s *service) History(ctx context.Context, studentID snowflake.ID) ([]domain.LedgerEntry, error) {
	return s.repo.ListByStudent(ctx, nil, studentID)
}

func (s *service) ListByPeriod(ctx context.Context, month, year int) ([]domain.LedgerEntry, error) {
	if err := validatePeriod(month, year); err != nil {
		return nil, err
	}
	return s.repo.ListByPeriod(ctx, nil, month, year)
}

func (s *service) Years(ctx context.Context) ([]int, error) {
	return s.repo.ListYears(ctx, nil)
}

func validatePeriod(month, year int) error {
	if month < 1 || month > 12 || year < 2000 || year > 2100 {
		return domain.ErrInvalidPeriod
	}
	return nil
}
