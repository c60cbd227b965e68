package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	accountdomain "github.com/tutorstack/tutorcrm/internal/account/domain"
	accountrepository "github.com/tutorstack/tutorcrm/internal/account/repository"
	accountservice "github.com/tutorstack/tutorcrm/internal/account/service"
	"github.com/tutorstack/tutorcrm/internal/bot/telegram"
	"github.com/tutorstack/tutorcrm/internal/clock"
	"github.com/tutorstack/tutorcrm/internal/config"
	ledgerdomain "github.com/tutorstack/tutorcrm/internal/ledger/domain"
	ledgerrepository "github.com/tutorstack/tutorcrm/internal/ledger/repository"
	ledgerservice "github.com/tutorstack/tutorcrm/internal/ledger/service"
	"github.com/tutorstack/tutorcrm/internal/observability"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingAPI struct {
	messages map[int64][]string
}

func (r *recordingAPI) SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error {
	if r.messages == nil {
		r.messages = map[int64][]string{}
	}
	r.messages[chatID] = append(r.messages[chatID], text)
	return nil
}

func (r *recordingAPI) EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *telegram.InlineKeyboardMarkup) error {
	return nil
}

func (r *recordingAPI) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	return nil
}

type fixture struct {
	svc      *Service
	api      *recordingAPI
	accounts accountdomain.Service
	ledger   ledgerdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&accountdomain.Account{},
		&accountdomain.Student{},
		&ledgerdomain.LedgerEntry{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	// Mid September: the regular reminder targets October.
	fixed := clock.Fixed{T: time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC)}

	accounts := accountservice.NewService(accountservice.Params{
		DB: db, Repo: accountrepository.Provide(db), GenID: node, Clock: fixed, Log: zap.NewNop(),
	})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Repo: ledgerrepository.Provide(db), GenID: node, Clock: fixed,
		Log: zap.NewNop(), Metrics: observability.NewMetrics(),
	})

	cfg := config.Config{}
	cfg.Reminder.UrgentDay = 5

	api := &recordingAPI{}
	svc := NewService(Params{
		Cfg: cfg, Accounts: accounts, Ledger: ledger, Telegram: api, Clock: fixed, Log: zap.NewNop(),
	})
	return &fixture{svc: svc, api: api, accounts: accounts, ledger: ledger}
}

func (f *fixture) registered(t *testing.T, telegramID, gradeKey string) *accountdomain.Student {
	t.Helper()
	ctx := context.Background()
	_, err := f.accounts.EnsureAccount(ctx, telegramID)
	require.NoError(t, err)
	_, err = f.accounts.CompleteRegistration(ctx, telegramID, "Родитель "+telegramID)
	require.NoError(t, err)
	st, err := f.accounts.CreateProfile(ctx, telegramID, "Ученик "+telegramID, gradeKey)
	require.NoError(t, err)
	return st
}

func TestSendRemindersSkipsSettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.registered(t, "100", "7")
	paid := f.registered(t, "200", "9")

	// October is the upcoming period; 200 already paid for it.
	_, err := f.ledger.RecordSettlement(ctx, nil, ledgerdomain.SettlementInput{
		StudentID: paid.ID, Month: 10, Year: 2025,
		Amount: 5650, TariffLabel: "ОГЭ (9 класс)", Channel: ledgerdomain.ChannelBalance,
	})
	require.NoError(t, err)

	// Registered but without a profile: skipped, never an error.
	_, err = f.accounts.EnsureAccount(ctx, "300")
	require.NoError(t, err)
	_, err = f.accounts.CompleteRegistration(ctx, "300", "Родитель 300")
	require.NoError(t, err)

	report, err := f.svc.SendReminders(ctx, false)
	require.NoError(t, err)
	require.Equal(t, Report{Sent: 1, Skipped: 2}, report)
	require.Len(t, f.api.messages[100], 1)
	require.Empty(t, f.api.messages[200])
	require.Contains(t, f.api.messages[100][0], "Октябрь 2025")
}

func TestSendRemindersUrgentTargetsCurrentMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registered(t, "100", "7")

	report, err := f.svc.SendReminders(ctx, true)
	require.NoError(t, err)
	require.Equal(t, Report{Sent: 1}, report)
	require.Contains(t, f.api.messages[100][0], "Сентябрь 2025")
}

func TestSendRemindersUrgentBeforeCutoffDay(t *testing.T) {
	f := newFixture(t)
	// Day 3 is before the cutoff (day 5): the urgent run sends nothing.
	f.svc.clock = clock.Fixed{T: time.Date(2025, 9, 3, 12, 0, 0, 0, time.UTC)}
	f.registered(t, "100", "7")

	report, err := f.svc.SendReminders(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, Report{}, report)
	require.Empty(t, f.api.messages)
}

func TestSendRemindersSkipsUnknownTariff(t *testing.T) {
	f := newFixture(t)
	f.registered(t, "100", "no-such-grade")

	report, err := f.svc.SendReminders(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, Report{Skipped: 1}, report)
	require.Empty(t, f.api.messages)
}

func TestSendRemindersYearRollover(t *testing.T) {
	f := newFixture(t)
	// December: the regular reminder targets January of the next year.
	f.svc.clock = clock.Fixed{T: time.Date(2025, 12, 10, 12, 0, 0, 0, time.UTC)}
	f.registered(t, "100", "7")

	report, err := f.svc.SendReminders(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, Report{Sent: 1}, report)
	require.Contains(t, f.api.messages[100][0], "Январь 2026")
}
