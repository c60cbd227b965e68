package balance

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	accountdomain "github.com/tutorstack/tutorcrm/internal/account/domain"
	accountrepository "github.com/tutorstack/tutorcrm/internal/account/repository"
	"github.com/tutorstack/tutorcrm/internal/clock"
	ledgerdomain "github.com/tutorstack/tutorcrm/internal/ledger/domain"
	ledgerrepository "github.com/tutorstack/tutorcrm/internal/ledger/repository"
	ledgerservice "github.com/tutorstack/tutorcrm/internal/ledger/service"
	"github.com/tutorstack/tutorcrm/internal/observability"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc    *Service
	ledger ledgerdomain.Service
	db     *gorm.DB
	node   *snowflake.Node
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
	fixed := clock.Fixed{T: time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)}

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:      db,
		Repo:    ledgerrepository.Provide(db),
		GenID:   node,
		Clock:   fixed,
		Log:     zap.NewNop(),
		Metrics: observability.NewMetrics(),
	})

	svc := NewService(Params{
		DB:     db,
		Repo:   accountrepository.Provide(db),
		Ledger: ledgerSvc,
		Clock:  fixed,
		Log:    zap.NewNop(),
	})
	return &fixture{svc: svc, ledger: ledgerSvc, db: db, node: node}
}

func (f *fixture) student(t *testing.T, gradeKey string, balance int64) *accountdomain.Student {
	t.Helper()
	st := &accountdomain.Student{
		ID:        f.node.Generate(),
		AccountID: f.node.Generate(),
		Name:      "Петя",
		GradeKey:  gradeKey,
		IsActive:  true,
		Balance:   balance,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.db.Create(st).Error)
	return st
}

func TestSettleFromBalanceDebitsAndRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.student(t, "11_profile", 8000)

	entry, err := f.svc.SettleFromBalance(ctx, st.ID, 10, 2025)
	require.NoError(t, err)
	require.Equal(t, int64(7900), entry.AmountPaid)
	require.Equal(t, ledgerdomain.ChannelBalance, entry.Channel)

	var updated accountdomain.Student
	require.NoError(t, f.db.First(&updated, st.ID).Error)
	require.Equal(t, int64(100), updated.Balance)

	settled, err := f.ledger.IsPeriodSettled(ctx, st.ID, 10, 2025)
	require.NoError(t, err)
	require.True(t, settled)
}

func TestSettleFromBalanceInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.student(t, "11_profile", 7800)

	_, err := f.svc.SettleFromBalance(ctx, st.ID, 10, 2025)
	var short *InsufficientFundsError
	require.ErrorAs(t, err, &short)
	require.Equal(t, int64(100), short.Shortfall)

	// No partial debit, no ledger entry.
	var updated accountdomain.Student
	require.NoError(t, f.db.First(&updated, st.ID).Error)
	require.Equal(t, int64(7800), updated.Balance)

	settled, err := f.ledger.IsPeriodSettled(ctx, st.ID, 10, 2025)
	require.NoError(t, err)
	require.False(t, settled)
}

func TestSettleFromBalanceAlreadySettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.student(t, "7", 20000)

	_, err := f.svc.SettleFromBalance(ctx, st.ID, 10, 2025)
	require.NoError(t, err)

	_, err = f.svc.SettleFromBalance(ctx, st.ID, 10, 2025)
	require.ErrorIs(t, err, ledgerdomain.ErrPeriodAlreadySettled)

	// Exactly one debit happened.
	var updated accountdomain.Student
	require.NoError(t, f.db.First(&updated, st.ID).Error)
	require.Equal(t, int64(20000-5650), updated.Balance)
}

func TestSettleFromBalanceUnknownStudent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SettleFromBalance(context.Background(), f.node.Generate(), 10, 2025)
	require.ErrorIs(t, err, accountdomain.ErrStudentNotFound)
}

func TestSettleFromBalanceUnknownTariff(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "kindergarten", 10000)

	_, err := f.svc.SettleFromBalance(context.Background(), st.ID, 10, 2025)
	require.Error(t, err)

	var updated accountdomain.Student
	require.NoError(t, f.db.First(&updated, st.ID).Error)
	require.Equal(t, int64(10000), updated.Balance)
}
