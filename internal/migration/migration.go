package migration

import (
	accountdomain "github.com/tutorstack/tutorcrm/internal/account/domain"
	ledgerdomain "github.com/tutorstack/tutorcrm/internal/ledger/domain"
	paymentdomain "github.com/tutorstack/tutorcrm/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Run applies the schema. It must be run explicitly by the migrate entrypoint
// and is safe to re-run.
func Run(db *gorm.DB, log *zap.Logger) error {
	if err := db.AutoMigrate(
		&accountdomain.Account{},
		&accountdomain.Student{},
		&ledgerdomain.LedgerEntry{},
		&paymentdomain.PendingPayment{},
	); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}
