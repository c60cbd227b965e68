package backfill

import (
	"context"
	"errors"

	accountdomain "github.com/tutorstack/tutorcrm/internal/account/domain"
	ledgerdomain "github.com/tutorstack/tutorcrm/internal/ledger/domain"
	"github.com/tutorstack/tutorcrm/internal/pricing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("backfill",
	fx.Provide(NewService),
)

// Report summarizes one backfill run.
type Report struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

type Params struct {
	fx.In

	Accounts accountdomain.Service
	Ledger   ledgerdomain.Service
	Log      *zap.Logger
}

type Service struct {
	accounts accountdomain.Service
	ledger   ledgerdomain.Service
	log      *zap.Logger
}

func NewService(p Params) *Service {
	return &Service{accounts: p.Accounts, ledger: p.Ledger, log: p.Log.Named("backfill")}
}

// Fill records a cash settlement for every active registered student that has
// none for the period. Used when a period was collected offline before the
// ledger existed. Existing entries are left untouched.
func (s *Service) Fill(ctx context.Context, month, year int) (Report, error) {
	students, err := s.accounts.ListActiveRegistered(ctx)
	if err != nil {
		return Report{}, err
	}

	var rep Report
	for i := range students {
		st := &students[i]

		tariff, err := pricing.Resolve(st.GradeKey)
		if err != nil {
			rep.Skipped++
			s.log.Warn("backfill: no tariff for student",
				zap.Int64("student_id", int64(st.ID)),
				zap.String("grade_key", st.GradeKey))
			continue
		}

		_, err = s.ledger.RecordSettlement(ctx, nil, ledgerdomain.SettlementInput{
			StudentID:   st.ID,
			Month:       month,
			Year:        year,
			Amount:      tariff.Price,
			TariffLabel: tariff.Name,
			Channel:     ledgerdomain.ChannelCash,
		})
		switch {
		case errors.Is(err, ledgerdomain.ErrPeriodAlreadySettled):
			rep.Skipped++
		case err != nil:
			rep.Errors++
			s.log.Warn("backfill: settlement failed",
				zap.Int64("student_id", int64(st.ID)), zap.Error(err))
		default:
			rep.Created++
		}
	}

	s.log.Info("backfill complete",
		zap.Int("month", month),
		zap.Int("year", year),
		zap.Int("created", rep.Created),
		zap.Int("skipped", rep.Skipped),
		zap.Int("errors", rep.Errors))
	return rep, nil
}
