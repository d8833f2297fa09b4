package migrations

import (
	"github.com/ksred/dex-api/internal/settlement"
	"gorm.io/gorm"
)

func AddFillReceipts(db *gorm.DB) error {
	return db.AutoMigrate(&settlement.Fill{})
}
