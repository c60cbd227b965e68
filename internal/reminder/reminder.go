package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	accountdomain "github.com/tutorstack/tutorcrm/internal/account/domain"
	"github.com/tutorstack/tutorcrm/internal/bot/telegram"
	"github.com/tutorstack/tutorcrm/internal/clock"
	"github.com/tutorstack/tutorcrm/internal/config"
	ledgerdomain "github.com/tutorstack/tutorcrm/internal/ledger/domain"
	paymentservice "github.com/tutorstack/tutorcrm/internal/payment/service"
	"github.com/tutorstack/tutorcrm/internal/pricing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("reminder",
	fx.Provide(NewService),
)

// Report summarizes one reminder run.
type Report struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

type Params struct {
	fx.In

	Cfg      config.Config
	Accounts accountdomain.Service
	Ledger   ledgerdomain.Service
	Telegram telegram.API
	Clock    clock.Clock
	Log      *zap.Logger
}

type Service struct {
	accounts  accountdomain.Service
	ledger    ledgerdomain.Service
	tg        telegram.API
	clock     clock.Clock
	urgentDay int
	log       *zap.Logger
}

func NewService(p Params) *Service {
	return &Service{
		accounts:  p.Accounts,
		ledger:    p.Ledger,
		tg:        p.Telegram,
		clock:     p.Clock,
		urgentDay: p.Cfg.Reminder.UrgentDay,
		log:       p.Log.Named("reminder"),
	}
}

// SendReminders messages every registered payer whose active profile has not
// settled the target period. The regular run targets next month; the urgent
// run targets the already started current month and only fires on or after the
// configured cutoff day. Payers without a resolvable tariff are skipped with a
// warning, never invoiced at a guessed price.
func (s *Service) SendReminders(ctx context.Context, urgent bool) (Report, error) {
	now := s.clock.Now(ctx)
	month, year := int(now.Month()), now.Year()
	if urgent {
		if now.Day() < s.urgentDay {
			s.log.Info("urgent run before cutoff day, nothing to send",
				zap.Int("day", now.Day()), zap.Int("cutoff", s.urgentDay))
			return Report{}, nil
		}
	} else {
		month++
		if month > 12 {
			month = 1
			year++
		}
	}

	accounts, err := s.accounts.ListRegistered(ctx)
	if err != nil {
		return Report{}, err
	}

	var rep Report
	for i := range accounts {
		acc := &accounts[i]

		st, err := s.accounts.ActiveProfile(ctx, acc.TelegramID)
		if err != nil {
			if errors.Is(err, accountdomain.ErrNoActiveProfile) {
				rep.Skipped++
				continue
			}
			rep.Errors++
			s.log.Warn("reminder: profile lookup failed",
				zap.String("telegram_id", acc.TelegramID), zap.Error(err))
			continue
		}

		settled, err := s.ledger.IsPeriodSettled(ctx, st.ID, month, year)
		if err != nil {
			rep.Errors++
			s.log.Warn("reminder: settled check failed",
				zap.Int64("student_id", int64(st.ID)), zap.Error(err))
			continue
		}
		if settled {
			rep.Skipped++
			continue
		}

		tariff, err := pricing.Resolve(st.GradeKey)
		if err != nil {
			rep.Skipped++
			s.log.Warn("reminder: no tariff for student",
				zap.Int64("student_id", int64(st.ID)),
				zap.String("grade_key", st.GradeKey))
			continue
		}

		if err := s.notify(ctx, acc, st, tariff, month, year, urgent); err != nil {
			rep.Errors++
			continue
		}
		rep.Sent++
	}

	s.log.Info("reminders sent",
		zap.Bool("urgent", urgent),
		zap.Int("month", month),
		zap.Int("year", year),
		zap.Int("sent", rep.Sent),
		zap.Int("skipped", rep.Skipped),
		zap.Int("errors", rep.Errors))
	return rep, nil
}

func (s *Service) notify(ctx context.Context, owner *accountdomain.Account, st *accountdomain.Student, tariff pricing.Tariff, month, year int, urgent bool) error {
	chatID, err := strconv.ParseInt(owner.TelegramID, 10, 64)
	if err != nil {
		s.log.Warn("reminder: bad chat id", zap.String("telegram_id", owner.TelegramID))
		return err
	}

	period := fmt.Sprintf("%s %d", paymentservice.MonthName(month), year)
	var text string
	if urgent {
		text = fmt.Sprintf("❗️ Занятия за %s (%s) ещё не оплачены: %d ₽. Пожалуйста, оплатите через меню бота.",
			period, st.Name, tariff.Price)
	} else {
		text = fmt.Sprintf("🔔 Напоминание: приближается оплата за %s (%s), %d ₽. Оплатить можно через меню бота.",
			period, st.Name, tariff.Price)
	}

	if err := s.tg.SendMessage(ctx, chatID, text, nil); err != nil {
		s.log.Warn("reminder: send failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return err
	}
	return nil
}
