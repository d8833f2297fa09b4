package ledger

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrTokenExists           = errors.New("token symbol already registered")
	ErrTokenNotFound         = errors.New("token not found")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// ReservedAccounts are system accounts the HTTP surface refuses as transfer
// targets. The settlement engine moves funds in and out of them itself.
var ReservedAccounts = map[string]bool{
	"ESCROW": true,
}

// Database wraps a gorm handle with the balance and allowance operations.
// The handle may be a live transaction, which is how the settlement engine
// runs ledger movements inside its own transaction boundary.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateToken(token *Token) error {
	return d.db.Create(token).Error
}

func (d *Database) GetToken(symbol string) (*Token, error) {
	var token Token
	if err := d.db.Where("symbol = ?", symbol).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &token, nil
}

// BalanceOf returns the account's balance of an asset, zero if no row exists.
func (d *Database) BalanceOf(asset, account string) (uint64, error) {
	var balance Balance
	if err := d.db.Where("asset = ? AND account = ?", asset, account).First(&balance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return balance.Amount, nil
}

// AllowanceOf returns what spender may move out of owner's balance, zero if
// nothing has been approved.
func (d *Database) AllowanceOf(asset, owner, spender string) (uint64, error) {
	var allowance Allowance
	if err := d.db.Where("asset = ? AND owner = ? AND spender = ?", asset, owner, spender).
		First(&allowance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return allowance.Amount, nil
}

func (d *Database) credit(asset, account string, amount uint64) error {
	var balance Balance
	err := d.db.Where("asset = ? AND account = ?", asset, account).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.db.Create(&Balance{Asset: asset, Account: account, Amount: amount}).Error
	}
	if err != nil {
		return err
	}
	balance.Amount += amount
	return d.db.Save(&balance).Error
}

func (d *Database) debit(asset, account string, amount uint64) error {
	var balance Balance
	err := d.db.Where("asset = ? AND account = ?", asset, account).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInsufficientBalance
	}
	if err != nil {
		return err
	}
	if balance.Amount < amount {
		return ErrInsufficientBalance
	}
	balance.Amount -= amount
	return d.db.Save(&balance).Error
}

// Transfer moves amount of asset from one account to another. Fails with
// ErrInsufficientBalance before any row is touched if from cannot cover it.
func (d *Database) Transfer(asset, from, to string, amount uint64) error {
	if err := d.debit(asset, from, amount); err != nil {
		return err
	}
	return d.credit(asset, to, amount)
}

// Approve sets (not increments) the allowance of spender over owner's balance.
func (d *Database) Approve(asset, owner, spender string, amount uint64) error {
	var allowance Allowance
	err := d.db.Where("asset = ? AND owner = ? AND spender = ?", asset, owner, spender).
		First(&allowance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.db.Create(&Allowance{Asset: asset, Owner: owner, Spender: spender, Amount: amount}).Error
	}
	if err != nil {
		return err
	}
	allowance.Amount = amount
	return d.db.Save(&allowance).Error
}

// TransferFrom moves amount of asset from the owner to another account on the
// strength of a prior approval to spender. The allowance is consumed.
func (d *Database) TransferFrom(asset, spender, from, to string, amount uint64) error {
	var allowance Allowance
	err := d.db.Where("asset = ? AND owner = ? AND spender = ?", asset, from, spender).
		First(&allowance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInsufficientAllowance
	}
	if err != nil {
		return err
	}
	if allowance.Amount < amount {
		return ErrInsufficientAllowance
	}

	if err := d.Transfer(asset, from, to, amount); err != nil {
		return err
	}

	allowance.Amount -= amount
	return d.db.Save(&allowance).Error
}
