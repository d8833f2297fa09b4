package orderbook

import (
	"errors"

	"gorm.io/gorm"
)

var ErrOrderNotFound = errors.New("order not found")

// Database owns all order records and the per-asset counters. Mutations are
// plain row operations; callers that need append + other effects to commit
// together hand in a transaction handle.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// NextID returns the id the next order for the asset would receive, without
// reserving it.
func (d *Database) NextID(asset string) (uint64, error) {
	count, err := d.Count(asset)
	if err != nil {
		return 0, err
	}
	return count + 1, nil
}

// Append increments the asset's counter and inserts the order under the new
// sequence number. The assigned id is written back to order.OrderSeq.
func (d *Database) Append(asset string, order *Order) (uint64, error) {
	var counter OrderCounter
	err := d.db.Where("asset = ?", asset).First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		counter = OrderCounter{Asset: asset}
	} else if err != nil {
		return 0, err
	}

	counter.Count++
	if err := d.db.Save(&counter).Error; err != nil {
		return 0, err
	}

	order.OfferedAsset = asset
	order.OrderSeq = counter.Count
	if err := d.db.Create(order).Error; err != nil {
		return 0, err
	}

	return order.OrderSeq, nil
}

func (d *Database) Get(id uint64, asset string) (*Order, error) {
	var order Order
	if err := d.db.Where("order_seq = ? AND offered_asset = ?", id, asset).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// MarkFilled flips the order to filled and inactive. The two flags only ever
// change here, together.
func (d *Database) MarkFilled(id uint64, asset string) error {
	result := d.db.Model(&Order{}).
		Where("order_seq = ? AND offered_asset = ?", id, asset).
		Updates(map[string]interface{}{
			"is_filled": true,
			"is_active": false,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// Count returns how many orders have ever been created for the asset.
func (d *Database) Count(asset string) (uint64, error) {
	var counter OrderCounter
	if err := d.db.Where("asset = ?", asset).First(&counter).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return counter.Count, nil
}

// ActiveOrders returns the asset's open orders, used by the escrow reconciler.
func (d *Database) ActiveOrders(asset string) ([]Order, error) {
	var orders []Order
	if err := d.db.Where("offered_asset = ? AND is_active = ?", asset, true).
		Order("order_seq ASC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// Assets returns every asset that has at least one order counter row.
func (d *Database) Assets() ([]string, error) {
	var assets []string
	if err := d.db.Model(&OrderCounter{}).Pluck("asset", &assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}
