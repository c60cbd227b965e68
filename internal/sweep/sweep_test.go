package sweep

import (
	"context"
	"errors"
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

type mapGateway struct {
	statuses map[string]string
	failing  map[string]bool
	created  int
}

func (g *mapGateway) CreateCharge(ctx context.Context, in domain.CreateChargeInput) (*domain.Charge, error) {
	g.created++
	id := fmt.Sprintf("gw-%d", g.created)
	return &domain.Charge{ID: id, Status: domain.RemotePending, ConfirmationURL: "https://pay.example/confirm"}, nil
}

func (g *mapGateway) GetCharge(ctx context.Context, gatewayID string) (*domain.Charge, error) {
	if g.failing[gatewayID] {
		return nil, errors.New("gateway boom")
	}
	status, ok := g.statuses[gatewayID]
	if !ok {
		status = domain.RemotePending
	}
	return &domain.Charge{ID: gatewayID, Status: status}, nil
}

type fixture struct {
	sweeper   *Service
	lifecycle domain.Service
	ledger    ledgerdomain.Service
	gateway   *mapGateway
	accounts  accountdomain.Service
	node      *snowflake.Node
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
	gateway := &mapGateway{statuses: map[string]string{}, failing: map[string]bool{}}
	lifecycle := paymentservice.NewService(paymentservice.Params{
		DB: db, Repo: repository.Provide(db), Gateway: gateway, Ledger: ledger,
		Accounts: accounts, GenID: node, Clock: fixed, Log: zap.NewNop(), Metrics: metrics,
	})
	sweeper := NewService(Params{
		Lifecycle: lifecycle, Gateway: gateway, Log: zap.NewNop(), Metrics: metrics,
	})
	return &fixture{sweeper: sweeper, lifecycle: lifecycle, ledger: ledger, gateway: gateway, accounts: accounts, node: node}
}

func (f *fixture) pending(t *testing.T, month int) *domain.PendingPayment {
	t.Helper()
	ctx := context.Background()
	telegramID := f.node.Generate().String()
	_, err := f.accounts.EnsureAccount(ctx, telegramID)
	require.NoError(t, err)
	st, err := f.accounts.CreateProfile(ctx, telegramID, "Ученик "+telegramID, "7")
	require.NoError(t, err)
	p, err := f.lifecycle.CreatePending(ctx, st.ID, month, 2025)
	require.NoError(t, err)
	return p
}

func TestSweepRepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	succeeded := f.pending(t, 9)
	canceled := f.pending(t, 10)
	still := f.pending(t, 11)
	f.gateway.statuses[succeeded.GatewayID] = domain.RemoteSucceeded
	f.gateway.statuses[canceled.GatewayID] = domain.RemoteCanceled
	f.gateway.statuses[still.GatewayID] = domain.RemotePending

	report, err := f.sweeper.Sweep(ctx, false)
	require.NoError(t, err)
	require.Equal(t, Report{Checked: 3, Updated: 2, Settled: 1, Canceled: 1}, report)

	p, err := f.lifecycle.Get(ctx, succeeded.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSettled, p.Status)

	entries, err := f.ledger.History(ctx, succeeded.StudentID)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	p, err = f.lifecycle.Get(ctx, canceled.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCanceled, p.Status)

	p, err = f.lifecycle.Get(ctx, still.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, p.Status)
}

func TestSweepDryRunClassifiesWithoutWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	succeeded := f.pending(t, 9)
	f.gateway.statuses[succeeded.GatewayID] = domain.RemoteSucceeded

	report, err := f.sweeper.Sweep(ctx, true)
	require.NoError(t, err)
	require.Equal(t, Report{Checked: 1, Updated: 1, Settled: 1}, report)

	// Same classification, zero persistence.
	p, err := f.lifecycle.Get(ctx, succeeded.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, p.Status)

	entries, err := f.ledger.History(ctx, succeeded.StudentID)
	require.NoError(t, err)
	require.Empty(t, entries)

	// The wet run over the same state matches the dry report.
	wet, err := f.sweeper.Sweep(ctx, false)
	require.NoError(t, err)
	require.Equal(t, report, wet)
}

func TestSweepCountsGatewayErrorsAndContinues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	broken := f.pending(t, 9)
	fine := f.pending(t, 10)
	f.gateway.failing[broken.GatewayID] = true
	f.gateway.statuses[fine.GatewayID] = domain.RemoteSucceeded

	report, err := f.sweeper.Sweep(ctx, false)
	require.NoError(t, err)
	require.Equal(t, Report{Checked: 2, Updated: 1, Settled: 1, Errors: 1}, report)

	p, err := f.lifecycle.Get(ctx, fine.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSettled, p.Status)
}
