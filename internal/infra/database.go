package infra

import (
	"fmt"

	"bencidata/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase establishes a GORM connection backed by pgx and brings the
// schema up to date (AutoMigrate plus the idempotent patches below).
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Models lists every persisted type in dependency order.
func Models() []interface{} {
	return []interface{}{
		&model.Branch{},
		&model.Profile{},
		&model.Island{},
		&model.Machine{},
		&model.FuelInventory{},
		&model.MachineFuelLink{},
		&model.Nozzle{},
		&model.Shift{},
		&model.ServiceSession{},
		&model.ReconciliationLine{},
		&model.DispenseEvent{},
		&model.FuelLoad{},
		&model.BranchProduct{},
		&model.ProductLoad{},
		&model.FuelPrice{},
		&model.ProductSale{},
		&model.ProductSaleItem{},
		&model.CreditSale{},
		&model.Withdrawal{},
		&model.CardVoucher{},
		&model.AttendantPayment{},
	}
}

// Migrate runs AutoMigrate and the schema patches. It works on postgres and on
// the sqlite databases used by tests.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}
	if err := applySchemaPatches(db); err != nil {
		return fmt.Errorf("schema patches: %w", err)
	}
	return nil
}

// applySchemaPatches runs idempotent DDL statements that GORM AutoMigrate cannot
// express (partial indexes). Each statement uses IF NOT EXISTS so re-running
// on an already-patched DB is safe.
func applySchemaPatches(db *gorm.DB) error {
	patches := []string{
		// at most one open session per shift
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_open_session_per_shift
		    ON service_sessions (shift_id) WHERE ended_at IS NULL`,
		// open-session lookup by branch used by device ingestion
		`CREATE INDEX IF NOT EXISTS idx_open_sessions_branch
		    ON service_sessions (branch_id, started_at) WHERE ended_at IS NULL`,
		// audit sweep over unattributed events
		`CREATE INDEX IF NOT EXISTS idx_dispense_events_unattributed
		    ON dispense_events (created_at) WHERE service_session_id IS NULL`,
	}

	for _, sql := range patches {
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", sql[:min(len(sql), 60)], err)
		}
	}
	return nil
}
