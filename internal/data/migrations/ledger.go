package migrations

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"funblink/app/internal/data/ledger"
)

// MigrateLedger applies the slot and deposit journal schema.
func MigrateLedger(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	logFields := logrus.Fields{"component": "ledger.migrate"}
	if logger != nil {
		logger.WithFields(logFields).Info("applying ledger schema")
	}

	if err := db.WithContext(ctx).AutoMigrate(&ledger.SlotRecord{}, &ledger.DepositEntry{}); err != nil {
		if logger != nil {
			logger.WithFields(logFields).WithField("error", err.Error()).Error("ledger schema migration failed")
		}
		return eris.Wrap(err, "auto migrating ledger schema")
	}

	if logger != nil {
		logger.WithFields(logFields).Info("ledger schema migration complete")
	}

	return nil
}
