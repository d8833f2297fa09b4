package orderbook

import (
	"time"

	"gorm.io/gorm"
)

// Order is a resting offer to swap a fixed amount of one asset for a fixed
// amount of another. OrderSeq is assigned per offered asset starting at 1,
// so the same numeric id can exist under different assets.
type Order struct {
	gorm.Model      `json:"-"`
	OrderSeq        uint64    `gorm:"uniqueIndex:idx_order_asset_seq" json:"order_id"`
	OfferedAsset    string    `gorm:"uniqueIndex:idx_order_asset_seq" json:"offered_asset"`
	RequestedAsset  string    `json:"requested_asset"`
	OfferedAmount   uint64    `json:"offered_amount"`
	RequestedAmount uint64    `json:"requested_amount"`
	Recipient       string    `json:"recipient"`
	Creator         string    `json:"creator"`
	IsFilled        bool      `json:"is_filled"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// OrderCounter tracks how many orders have ever been created for an asset.
// Count doubles as the last assigned sequence number.
type OrderCounter struct {
	gorm.Model
	Asset string `gorm:"uniqueIndex"`
	Count uint64
}
