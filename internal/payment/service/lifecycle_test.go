package service

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
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeGateway struct {
	createCalls int
	getCalls    int
	createErr   error
	getErr      error
	status      string
	method      []byte
}

func (g *fakeGateway) CreateCharge(ctx context.Context, in domain.CreateChargeInput) (*domain.Charge, error) {
	g.createCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &domain.Charge{
		ID:              fmt.Sprintf("gw-%d", g.createCalls),
		Status:          domain.RemotePending,
		ConfirmationURL: "https://pay.example/confirm",
	}, nil
}

func (g *fakeGateway) GetCharge(ctx context.Context, gatewayID string) (*domain.Charge, error) {
	g.getCalls++
	if g.getErr != nil {
		return nil, g.getErr
	}
	return &domain.Charge{ID: gatewayID, Status: g.status, PaymentMethod: g.method}, nil
}

type fixture struct {
	svc      domain.Service
	gateway  *fakeGateway
	ledger   ledgerdomain.Service
	accounts accountdomain.Service
	db       *gorm.DB
	node     *snowflake.Node
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
		DB:    db,
		Repo:  accountrepository.Provide(db),
		GenID: node,
		Clock: fixed,
		Log:   zap.NewNop(),
	})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:      db,
		Repo:    ledgerrepository.Provide(db),
		GenID:   node,
		Clock:   fixed,
		Log:     zap.NewNop(),
		Metrics: metrics,
	})

	gateway := &fakeGateway{status: domain.RemotePending}
	svc := NewService(Params{
		DB:       db,
		Repo:     repository.Provide(db),
		Gateway:  gateway,
		Ledger:   ledger,
		Accounts: accounts,
		GenID:    node,
		Clock:    fixed,
		Log:      zap.NewNop(),
		Metrics:  metrics,
	})
	return &fixture{svc: svc, gateway: gateway, ledger: ledger, accounts: accounts, db: db, node: node}
}

func (f *fixture) student(t *testing.T, gradeKey string) *accountdomain.Student {
	t.Helper()
	ctx := context.Background()
	telegramID := f.node.Generate().String()
	_, err := f.accounts.EnsureAccount(ctx, telegramID)
	require.NoError(t, err)
	st, err := f.accounts.CreateProfile(ctx, telegramID, "Петя "+telegramID, gradeKey)
	require.NoError(t, err)
	return st
}

func TestCreatePendingPersistsCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.student(t, "9")

	p, err := f.svc.CreatePending(ctx, st.ID, 9, 2025)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, p.Status)
	require.Equal(t, int64(5650), p.Amount)
	require.Equal(t, "https://pay.example/confirm", p.ConfirmationURL)
	require.Equal(t, "9", p.TariffKey)

	inflight, err := f.svc.ListInFlight(ctx)
	require.NoError(t, err)
	require.Len(t, inflight, 1)
}

func TestCreatePendingGatewayFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.student(t, "9")
	f.gateway.createErr = domain.ErrGatewayUnavailable

	_, err := f.svc.CreatePending(ctx, st.ID, 9, 2025)
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	inflight, err := f.svc.ListInFlight(ctx)
	require.NoError(t, err)
	require.Empty(t, inflight)
}

func TestCreatePendingRefusesSettledPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.student(t, "9")

	_, err := f.ledger.RecordSettlement(ctx, nil, ledgerdomain.SettlementInput{
		StudentID: st.ID, Month: 9, Year: 2025,
		Amount: 5650, TariffLabel: "ОГЭ (9 класс)", Channel: ledgerdomain.ChannelCash,
	})
	require.NoError(t, err)

	_, err = f.svc.CreatePending(ctx, st.ID, 9, 2025)
	require.ErrorIs(t, err, ledgerdomain.ErrPeriodAlreadySettled)
	require.Zero(t, f.gateway.createCalls)
}

func TestApplyRemoteSucceededSettlesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.student(t, "9")

	p, err := f.svc.CreatePending(ctx, st.ID, 9, 2025)
	require.NoError(t, err)

	method := []byte(`{"type":"bank_card"}`)
	result, err := f.svc.ApplyRemoteStatus(ctx, p, domain.RemoteSucceeded, method)
	require.NoError(t, err)
	require.Equal(t, domain.ApplySettled, result)

	settled, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSettled, settled.Status)
	require.JSONEq(t, `{"type":"bank_card"}`, string(settled.PaymentMethod))

	entries, err := f.ledger.History(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, ledgerdomain.ChannelGateway, entries[0].Channel)
	require.NotNil(t, entries[0].PendingPaymentID)
	require.Equal(t, p.ID, *entries[0].PendingPaymentID)

	// Duplicate delivery: webhook and poll race to the same terminal state.
	result, err = f.svc.ApplyRemoteStatus(ctx, settled, domain.RemoteSucceeded, method)
	require.NoError(t, err)
	require.Equal(t, domain.ApplyNoop, result)

	entries, err = f.ledger.History(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSettleToleratesLedgerConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.student(t, "9")

	p, err := f.svc.CreatePending(ctx, st.ID, 9, 2025)
	require.NoError(t, err)

	// Another channel wins the period while the charge is in flight.
	_, err = f.ledger.RecordSettlement(ctx, nil, ledgerdomain.SettlementInput{
		StudentID: st.ID, Month: 9, Year: 2025,
		Amount: 5650, TariffLabel: "ОГЭ (9 класс)", Channel: ledgerdomain.ChannelCash,
	})
	require.NoError(t, err)

	result, err := f.svc.ApplyRemoteStatus(ctx, p, domain.RemoteSucceeded, nil)
	require.NoError(t, err)
	require.Equal(t, domain.ApplySettled, result)

	settled, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSettled, settled.Status)

	// Still exactly one entry for the period, the earlier cash one.
	entries, err := f.ledger.History(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, ledgerdomain.ChannelCash, entries[0].Channel)

	// The payment is terminal: a redelivered success is a noop, not a retry.
	result, err = f.svc.ApplyRemoteStatus(ctx, settled, domain.RemoteSucceeded, nil)
	require.NoError(t, err)
	require.Equal(t, domain.ApplyNoop, result)
}

func TestApplyRemoteCanceled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.student(t, "7")

	p, err := f.svc.CreatePending(ctx, st.ID, 9, 2025)
	require.NoError(t, err)

	result, err := f.svc.ApplyRemoteStatus(ctx, p, domain.RemoteCanceled, nil)
	require.NoError(t, err)
	require.Equal(t, domain.ApplyCanceled, result)

	canceled, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCanceled, canceled.Status)

	entries, err := f.ledger.History(ctx, st.ID)
	require.NoError(t, err)
	require.Empty(t, entries)

	// Canceled is terminal: a late success event does not resurrect it.
	result, err = f.svc.ApplyRemoteStatus(ctx, canceled, domain.RemoteSucceeded, nil)
	require.NoError(t, err)
	require.Equal(t, domain.ApplyNoop, result)
}

func TestCheckStatusAppliesRemoteState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.student(t, "9")

	p, err := f.svc.CreatePending(ctx, st.ID, 9, 2025)
	require.NoError(t, err)

	f.gateway.status = domain.RemoteWaitingForCapture
	updated, err := f.svc.CheckStatus(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAwaitingCapture, updated.Status)

	f.gateway.status = domain.RemoteSucceeded
	updated, err = f.svc.CheckStatus(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSettled, updated.Status)

	// Terminal payments skip the gateway entirely.
	calls := f.gateway.getCalls
	_, err = f.svc.CheckStatus(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, calls, f.gateway.getCalls)
}
