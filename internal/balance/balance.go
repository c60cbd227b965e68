package balance

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/tutorstack/tutorcrm/internal/account/domain"
	"github.com/tutorstack/tutorcrm/internal/clock"
	ledgerdomain "github.com/tutorstack/tutorcrm/internal/ledger/domain"
	"github.com/tutorstack/tutorcrm/internal/pricing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("balance",
	fx.Provide(NewService),
)

// InsufficientFundsError reports how much is missing so the UI can show the
// shortfall. No partial debit ever happens.
type InsufficientFundsError struct {
	Shortfall int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient_funds: short %d", e.Shortfall)
}

type Params struct {
	fx.In

	DB     *gorm.DB
	Repo   accountdomain.Repository
	Ledger ledgerdomain.Service
	Clock  clock.Clock
	Log    *zap.Logger
}

type Service struct {
	db     *gorm.DB
	repo   accountdomain.Repository
	ledger ledgerdomain.Service
	clock  clock.Clock
	log    *zap.Logger
}

func NewService(p Params) *Service {
	return &Service{
		db:     p.DB,
		repo:   p.Repo,
		ledger: p.Ledger,
		clock:  p.Clock,
		log:    p.Log.Named("balance"),
	}
}

// SettleFromBalance pays a period out of the stored balance. Check order:
// already settled, tariff, sufficiency. The debit and the ledger insert commit
// in one transaction with a row lock on the student, so two concurrent
// attempts for the same period cannot both succeed.
func (s *Service) SettleFromBalance(ctx context.Context, studentID snowflake.ID, month, year int) (*ledgerdomain.LedgerEntry, error) {
	var entry *ledgerdomain.LedgerEntry

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		student, err := s.repo.FindStudentForUpdate(ctx, tx, studentID)
		if err != nil {
			return err
		}
		if student == nil {
			return accountdomain.ErrStudentNotFound
		}

		settled, err := s.ledger.IsPeriodSettled(ctx, studentID, month, year)
		if err != nil {
			return err
		}
		if settled {
			return ledgerdomain.ErrPeriodAlreadySettled
		}

		tariff, err := pricing.Resolve(student.GradeKey)
		if err != nil {
			return err
		}

		if student.Balance < tariff.Price {
			return &InsufficientFundsError{Shortfall: tariff.Price - student.Balance}
		}

		student.Balance -= tariff.Price
		student.UpdatedAt = s.clock.Now(ctx)
		if err := s.repo.UpdateStudent(ctx, tx, student); err != nil {
			return err
		}

		entry, err = s.ledger.RecordSettlement(ctx, tx, ledgerdomain.SettlementInput{
			StudentID:   studentID,
			Month:       month,
			Year:        year,
			Amount:      tariff.Price,
			TariffLabel: tariff.Name,
			Channel:     ledgerdomain.ChannelBalance,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("period settled from balance",
		zap.Int64("student_id", int64(studentID)),
		zap.Int("month", month),
		zap.Int("year", year),
		zap.Int64("amount", entry.AmountPaid))
	return entry, nil
}
