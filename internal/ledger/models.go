package ledger

import (
	"time"

	"gorm.io/gorm"
)

type Token struct {
	gorm.Model  `json:"-"`
	Symbol      string    `gorm:"uniqueIndex" json:"symbol"`
	Name        string    `json:"name"`
	Issuer      string    `json:"issuer"`
	TotalSupply uint64    `json:"total_supply"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Balance struct {
	gorm.Model `json:"-"`
	Asset      string `gorm:"uniqueIndex:idx_balance_asset_account" json:"asset"`
	Account    string `gorm:"uniqueIndex:idx_balance_asset_account" json:"account"`
	Amount     uint64 `json:"amount"`
}

type Allowance struct {
	gorm.Model `json:"-"`
	Asset      string `gorm:"uniqueIndex:idx_allowance_key" json:"asset"`
	Owner      string `gorm:"uniqueIndex:idx_allowance_key" json:"owner"`
	Spender    string `gorm:"uniqueIndex:idx_allowance_key" json:"spender"`
	Amount     uint64 `json:"amount"`
}
