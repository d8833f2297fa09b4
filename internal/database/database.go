package database

import (
	"fmt"

	"github.com/ksred/dex-api/internal/database/migrations"
	"github.com/ksred/dex-api/internal/ledger"
	"github.com/ksred/dex-api/internal/orderbook"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddFillReceipts(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&ledger.Token{},
		&ledger.Balance{},
		&ledger.Allowance{},
		&orderbook.Order{},
		&orderbook.OrderCounter{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
