package settlement

import (
	"context"
	"time"

	"github.com/ksred/dex-api/internal/ledger"
	"github.com/ksred/dex-api/internal/orderbook"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Reconciler periodically checks that the escrow account's balance of every
// asset matches the total offered amount of that asset's open orders. It is
// read-only; drift means an engine bug and is only reported.
type Reconciler struct {
	db       *gorm.DB
	interval time.Duration
}

func NewReconciler(db *gorm.DB) *Reconciler {
	return &Reconciler{
		db:       db,
		interval: time.Minute,
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start(ctx context.Context) {
	logger := log.With().Str("component", "escrow_reconciler").Logger()
	logger.Info().Msg("starting escrow reconciler")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down escrow reconciler")
			return
		case <-ticker.C:
			drifts, err := r.Reconcile()
			if err != nil {
				logger.Error().Err(err).Msg("reconciliation pass failed")
				continue
			}
			for _, d := range drifts {
				logger.Warn().
					Str("asset", d.Asset).
					Uint64("escrow_balance", d.Escrow).
					Uint64("open_order_total", d.OpenOrders).
					Msg("escrow balance does not match open orders")
			}
		}
	}
}

// Reconcile runs one pass over every asset with an order history and returns
// the assets whose escrow balance diverges from their open-order total.
func (r *Reconciler) Reconcile() ([]Drift, error) {
	store := orderbook.NewDatabase(r.db)
	led := ledger.NewDatabase(r.db)

	assets, err := store.Assets()
	if err != nil {
		return nil, err
	}

	var drifts []Drift
	for _, asset := range assets {
		orders, err := store.ActiveOrders(asset)
		if err != nil {
			return nil, err
		}

		var open uint64
		for _, order := range orders {
			open += order.OfferedAmount
		}

		escrow, err := led.BalanceOf(asset, EscrowAccount)
		if err != nil {
			return nil, err
		}

		if escrow != open {
			drifts = append(drifts, Drift{
				Asset:      asset,
				Escrow:     escrow,
				OpenOrders: open,
			})
		}
	}

	return drifts, nil
}
