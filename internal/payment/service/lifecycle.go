package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/tutorstack/tutorcrm/internal/account/domain"
	"github.com/tutorstack/tutorcrm/internal/clock"
	ledgerdomain "github.com/tutorstack/tutorcrm/internal/ledger/domain"
	"github.com/tutorstack/tutorcrm/internal/observability"
	"github.com/tutorstack/tutorcrm/internal/payment/domain"
	"github.com/tutorstack/tutorcrm/internal/pricing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var monthNames = [13]string{"",
	"Январь", "Февраль", "Март", "Апрель", "Май", "Июнь",
	"Июль", "Август", "Сентябрь", "Октябрь", "Ноябрь", "Декабрь",
}

// MonthName returns the localized month label used in descriptions and chat
// messages. Out-of-range months return an empty string.
func MonthName(m int) string {
	if m < 1 || m > 12 {
		return ""
	}
	return monthNames[m]
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Repo     domain.Repository
	Gateway  domain.Gateway
	Ledger   ledgerdomain.Service
	Accounts accountdomain.Service
	GenID    *snowflake.Node
	Clock    clock.Clock
	Log      *zap.Logger
	Metrics  *observability.Metrics
	Notifier domain.Notifier `optional:"true"`
}

type service struct {
	db       *gorm.DB
	repo     domain.Repository
	gateway  domain.Gateway
	ledger   ledgerdomain.Service
	accounts accountdomain.Service
	genID    *snowflake.Node
	clock    clock.Clock
	log      *zap.Logger
	metrics  *observability.Metrics
	notifier domain.Notifier
}

func NewService(p Params) domain.Service {
	return &service{
		db:       p.DB,
		repo:     p.Repo,
		gateway:  p.Gateway,
		ledger:   p.Ledger,
		accounts: p.Accounts,
		genID:    p.GenID,
		clock:    p.Clock,
		log:      p.Log.Named("payment.lifecycle"),
		metrics:  p.Metrics,
		notifier: p.Notifier,
	}
}

func (s *service) CreatePending(ctx context.Context, studentID snowflake.ID, month, year int) (*domain.PendingPayment, error) {
	student, err := s.accounts.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	settled, err := s.ledger.IsPeriodSettled(ctx, studentID, month, year)
	if err != nil {
		return nil, err
	}
	if settled {
		return nil, ledgerdomain.ErrPeriodAlreadySettled
	}

	tariff, err := pricing.Resolve(student.GradeKey)
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("Оплата занятий за %s %d — %s", MonthName(month), year, tariff.Name)
	charge, err := s.gateway.CreateCharge(ctx, domain.CreateChargeInput{
		Amount:      tariff.Price,
		Currency:    "RUB",
		Description: description,
		Metadata: map[string]string{
			"student_id": studentID.String(),
			"month":      fmt.Sprintf("%d", month),
			"year":       fmt.Sprintf("%d", year),
			"tariff":     tariff.Key,
		},
	})
	if err != nil {
		// No local record on a failed creation: a timed-out call leaves
		// nothing to reconcile.
		s.metrics.GatewayErrorsTotal.WithLabelValues("create").Inc()
		return nil, err
	}

	now := s.clock.Now(ctx)
	p := &domain.PendingPayment{
		ID:              s.genID.Generate(),
		StudentID:       studentID,
		GatewayID:       charge.ID,
		Amount:          tariff.Price,
		Currency:        "RUB",
		Status:          localStatus(charge.Status),
		Description:     description,
		Month:           month,
		Year:            year,
		TariffKey:       tariff.Key,
		ConfirmationURL: charge.ConfirmationURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, nil, p); err != nil {
		return nil, err
	}

	s.log.Info("pending payment created",
		zap.String("gateway_id", p.GatewayID),
		zap.Int64("student_id", int64(studentID)),
		zap.Int("month", month),
		zap.Int("year", year),
		zap.Int64("amount", p.Amount))
	return p, nil
}

func (s *service) CheckStatus(ctx context.Context, paymentID snowflake.ID) (*domain.PendingPayment, error) {
	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Terminal() {
		return p, nil
	}

	charge, err := s.gateway.GetCharge(ctx, p.GatewayID)
	if err != nil {
		s.metrics.GatewayErrorsTotal.WithLabelValues("get").Inc()
		return nil, err
	}

	if _, err := s.ApplyRemoteStatus(ctx, p, charge.Status, charge.PaymentMethod); err != nil {
		return nil, err
	}
	return s.Get(ctx, paymentID)
}

func (s *service) ApplyRemoteStatus(ctx context.Context, p *domain.PendingPayment, remoteStatus string, paymentMethod []byte) (domain.ApplyResult, error) {
	switch remoteStatus {
	case domain.RemoteSucceeded:
		return s.settle(ctx, p.ID, paymentMethod)
	case domain.RemoteCanceled:
		return s.cancel(ctx, p.ID)
	case domain.RemotePending, domain.RemoteWaitingForCapture:
		return s.refresh(ctx, p.ID, localStatus(remoteStatus))
	default:
		s.log.Warn("unknown remote status, leaving payment untouched",
			zap.String("gateway_id", p.GatewayID),
			zap.String("remote_status", remoteStatus))
		return domain.ApplyNoop, nil
	}
}

// settle marks the payment settled and records the ledger entry in one
// transaction, so a settled payment can never exist without its entry. A
// ledger conflict means another path won the race and is treated as success.
func (s *service) settle(ctx context.Context, paymentID snowflake.ID, paymentMethod []byte) (domain.ApplyResult, error) {
	var settled *domain.PendingPayment
	result := domain.ApplyNoop

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.repo.FindByIDForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return domain.ErrPaymentNotFound
		}
		if p.Terminal() {
			return nil
		}

		p.Status = domain.StatusSettled
		if len(paymentMethod) > 0 {
			p.PaymentMethod = paymentMethod
		}
		p.UpdatedAt = s.clock.Now(ctx)
		if err := s.repo.Update(ctx, tx, p); err != nil {
			return err
		}

		tariff, err := pricing.Resolve(p.TariffKey)
		if err != nil {
			return err
		}
		// The insert runs under a savepoint: on postgres a unique violation
		// poisons the whole transaction, and the status write above must
		// survive losing the race to a cash or balance entry.
		ref := p.ID
		err = tx.Transaction(func(inner *gorm.DB) error {
			_, err := s.ledger.RecordSettlement(ctx, inner, ledgerdomain.SettlementInput{
				StudentID:        p.StudentID,
				Month:            p.Month,
				Year:             p.Year,
				Amount:           p.Amount,
				TariffLabel:      tariff.Name,
				Channel:          ledgerdomain.ChannelGateway,
				PendingPaymentID: &ref,
			})
			return err
		})
		if err != nil && !errors.Is(err, ledgerdomain.ErrPeriodAlreadySettled) {
			return err
		}

		settled = p
		result = domain.ApplySettled
		return nil
	})
	if err != nil {
		return domain.ApplyNoop, err
	}

	if settled != nil {
		s.log.Info("payment settled",
			zap.String("gateway_id", settled.GatewayID),
			zap.Int64("student_id", int64(settled.StudentID)))
		if s.notifier != nil {
			s.notifier.NotifySettled(ctx, settled.StudentID, settled.Month, settled.Year, settled.Amount)
		}
	}
	return result, nil
}

func (s *service) cancel(ctx context.Context, paymentID snowflake.ID) (domain.ApplyResult, error) {
	result := domain.ApplyNoop
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.repo.FindByIDForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return domain.ErrPaymentNotFound
		}
		if p.Terminal() {
			return nil
		}
		p.Status = domain.StatusCanceled
		p.UpdatedAt = s.clock.Now(ctx)
		if err := s.repo.Update(ctx, tx, p); err != nil {
			return err
		}
		result = domain.ApplyCanceled
		return nil
	})
	if err != nil {
		return domain.ApplyNoop, err
	}
	return result, nil
}

func (s *service) refresh(ctx context.Context, paymentID snowflake.ID, status string) (domain.ApplyResult, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.repo.FindByIDForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return domain.ErrPaymentNotFound
		}
		if p.Terminal() || p.Status == status {
			return nil
		}
		p.Status = status
		p.UpdatedAt = s.clock.Now(ctx)
		return s.repo.Update(ctx, tx, p)
	})
	return domain.ApplyNoop, err
}

func (s *service) Get(ctx context.Context, paymentID snowflake.ID) (*domain.PendingPayment, error) {
	p, err := s.repo.FindByID(ctx, nil, paymentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return p, nil
}

func (s *service) GetByGatewayID(ctx context.Context, gatewayID string) (*domain.PendingPayment, error) {
	p, err := s.repo.FindByGatewayID(ctx, nil, gatewayID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return p, nil
}

func (s *service) ListInFlight(ctx context.Context) ([]domain.PendingPayment, error) {
	return s.repo.ListInFlight(ctx, nil)
}

func (s *service) ListByStudent(ctx context.Context, studentID snowflake.ID) ([]domain.PendingPayment, error) {
	return s.repo.ListByStudent(ctx, nil, studentID)
}

func localStatus(remote string) string {
	switch remote {
	case domain.RemoteWaitingForCapture:
		return domain.StatusAwaitingCapture
	case domain.RemoteSucceeded:
		return domain.StatusSettled
	case domain.RemoteCanceled:
		return domain.StatusCanceled
	default:
		return domain.StatusPending
	}
}
