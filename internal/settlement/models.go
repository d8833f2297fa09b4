package settlement

import (
	"time"

	"gorm.io/gorm"
)

// Fill is the receipt written by a successful fill. Exactly one exists per
// settled order.
type Fill struct {
	gorm.Model      `json:"-"`
	FillID          string    `gorm:"uniqueIndex" json:"fill_id"`
	OrderSeq        uint64    `json:"order_id"`
	OfferedAsset    string    `json:"offered_asset"`
	RequestedAsset  string    `json:"requested_asset"`
	OfferedAmount   uint64    `json:"offered_amount"`
	RequestedAmount uint64    `json:"requested_amount"`
	Filler          string    `json:"filler"`
	Recipient       string    `json:"recipient"`
	CreatedAt       time.Time `json:"created_at"`
}

// Drift is a mismatch between escrowed funds and open orders for one asset,
// reported by the reconciler.
type Drift struct {
	Asset      string `json:"asset"`
	Escrow     uint64 `json:"escrow_balance"`
	OpenOrders uint64 `json:"open_order_total"`
}
