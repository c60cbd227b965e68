package webhook

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	accountdomain "github.com/tutorstack/tutorcrm/internal/account/domain"
	accountrepository "github.com/tutorstack/tutorcrm/internal/account/repository"
	accountservice "github.com/tutorstack/tutorcrm/internal/account/service"
	"github.com/tutorstack/tutorcrm/internal/clock"
	ledgerdomain "github.com/tutorstack/tutorcrm/internal/ledger/domain"
	ledgerrepository "github.com/tutorstack/tutorcrm/internal/ledger/repository"
	ledgerservice "github.com/tutorstack/tutorcrm/internal/ledger/service"
	"github.com/tutorstack/tutorcrm/internal/observability"
	"github.com/tutorstack/tutorcrm/internal/payment/domain"
	"github.com/tutorstack/tutorcrm/internal/payment/repository"
	paymentservice "github.com/tutorstack/tutorcrm/internal/payment/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type staticGateway struct{}

func (staticGateway) CreateCharge(ctx context.Context, in domain.CreateChargeInput) (*domain.Charge, error) {
	return &domain.Charge{ID: "gw-1", Status: domain.RemotePending, ConfirmationURL: "https://pay.example/confirm"}, nil
}

func (staticGateway) GetCharge(ctx context.Context, gatewayID string) (*domain.Charge, error) {
	return &domain.Charge{ID: gatewayID, Status: domain.RemotePending}, nil
}

type fixture struct {
	webhooks  domain.WebhookService
	lifecycle domain.Service
	ledger    ledgerdomain.Service
	pendingID snowflake.ID
	studentID snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&accountdomain.Account{},
		&accountdomain.Student{},
		&ledgerdomain.LedgerEntry{},
		&domain.PendingPayment{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fixed := clock.Fixed{T: time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)}
	metrics := observability.NewMetrics()

	accounts := accountservice.NewService(accountservice.Params{
		DB: db, Repo: accountrepository.Provide(db), GenID: node, Clock: fixed, Log: zap.NewNop(),
	})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Repo: ledgerrepository.Provide(db), GenID: node, Clock: fixed,
		Log: zap.NewNop(), Metrics: metrics,
	})
	lifecycle := paymentservice.NewService(paymentservice.Params{
		DB: db, Repo: repository.Provide(db), Gateway: staticGateway{}, Ledger: ledger,
		Accounts: accounts, GenID: node, Clock: fixed, Log: zap.NewNop(), Metrics: metrics,
	})

	ctx := context.Background()
	_, err = accounts.EnsureAccount(ctx, "100500")
	require.NoError(t, err)
	st, err := accounts.CreateProfile(ctx, "100500", "Петя", "9")
	require.NoError(t, err)
	p, err := lifecycle.CreatePending(ctx, st.ID, 9, 2025)
	require.NoError(t, err)

	return &fixture{
		webhooks:  NewService(Params{Lifecycle: lifecycle, Log: zap.NewNop()}),
		lifecycle: lifecycle,
		ledger:    ledger,
		pendingID: p.ID,
		studentID: st.ID,
	}
}

func succeededEvent(gatewayID string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"payment.succeeded","object":{"id":%q,"status":"succeeded","payment_method":{"type":"bank_card"}}}`,
		gatewayID))
}

func TestIngestWebhookSettles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.webhooks.IngestWebhook(ctx, succeededEvent("gw-1")))

	p, err := f.lifecycle.Get(ctx, f.pendingID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSettled, p.Status)

	entries, err := f.ledger.History(ctx, f.studentID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestIngestWebhookDuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.webhooks.IngestWebhook(ctx, succeededEvent("gw-1")))
	require.NoError(t, f.webhooks.IngestWebhook(ctx, succeededEvent("gw-1")))

	entries, err := f.ledger.History(ctx, f.studentID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestIngestWebhookCanceled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := []byte(`{"event":"payment.canceled","object":{"id":"gw-1","status":"canceled"}}`)
	require.NoError(t, f.webhooks.IngestWebhook(ctx, payload))

	p, err := f.lifecycle.Get(ctx, f.pendingID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCanceled, p.Status)
}

func TestIngestWebhookMalformed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.webhooks.IngestWebhook(ctx, []byte("not json")), domain.ErrInvalidPayload)
	require.ErrorIs(t, f.webhooks.IngestWebhook(ctx, []byte(`{"event":"payment.succeeded","object":{}}`)), domain.ErrInvalidPayload)
}

func TestIngestWebhookIgnoredEvent(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"event":"refund.succeeded","object":{"id":"gw-1"}}`)
	require.ErrorIs(t, f.webhooks.IngestWebhook(context.Background(), payload), domain.ErrEventIgnored)
}

func TestIngestWebhookUnknownPayment(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.webhooks.IngestWebhook(context.Background(), succeededEvent("gw-unknown")), domain.ErrPaymentNotFound)
}
