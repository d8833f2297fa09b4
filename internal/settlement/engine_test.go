package settlement

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ksred/dex-api/internal/ledger"
	"github.com/ksred/dex-api/internal/orderbook"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&ledger.Token{},
		&ledger.Balance{},
		&ledger.Allowance{},
		&orderbook.Order{},
		&orderbook.OrderCounter{},
		&Fill{},
	))

	return db
}

// setupEngine seeds alice with 1000 TKA and bob with 1000 TKB
func setupEngine(t *testing.T) (*Service, *ledger.Service, *gorm.DB) {
	t.Helper()

	db := setupTestDB(t)
	led := ledger.NewService(db)

	_, err := led.Issue("TKA", "Token A", "alice", 1000)
	require.NoError(t, err)
	_, err = led.Issue("TKB", "Token B", "bob", 1000)
	require.NoError(t, err)

	return NewService(db), led, db
}

func balance(t *testing.T, led *ledger.Service, asset, account string) uint64 {
	t.Helper()
	amount, err := led.BalanceOf(asset, account)
	require.NoError(t, err)
	return amount
}

func TestCreateOrderEscrowsFunds(t *testing.T) {
	engine, led, _ := setupEngine(t)

	require.NoError(t, led.Approve("TKA", "alice", EscrowAccount, 100))

	order, err := engine.CreateOrder("alice", "carol", "TKA", "TKB", 100, 200)
	require.NoError(t, err)
	require.Equal(t, uint64(1), order.OrderSeq)

	require.Equal(t, uint64(900), balance(t, led, "TKA", "alice"))
	require.Equal(t, uint64(100), balance(t, led, "TKA", EscrowAccount))

	got, err := engine.GetOrder(1, "TKA")
	require.NoError(t, err)
	require.Equal(t, "alice", got.Creator)
	require.Equal(t, "carol", got.Recipient)
	require.Equal(t, "TKA", got.OfferedAsset)
	require.Equal(t, "TKB", got.RequestedAsset)
	require.Equal(t, uint64(100), got.OfferedAmount)
	require.Equal(t, uint64(200), got.RequestedAmount)
	require.False(t, got.IsFilled)
	require.True(t, got.IsActive)

	count, err := engine.GetOrderCount("TKA")
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
}

func TestCreateOrderAssignsSequentialIDs(t *testing.T) {
	engine, led, _ := setupEngine(t)

	require.NoError(t, led.Approve("TKA", "alice", EscrowAccount, 1000))

	for i := 1; i <= 4; i++ {
		order, err := engine.CreateOrder("alice", "alice", "TKA", "TKB", 10, 20)
		require.NoError(t, err)
		require.Equal(t, uint64(i), order.OrderSeq)
	}

	count, err := engine.GetOrderCount("TKA")
	require.NoError(t, err)
	require.Equal(t, uint64(4), count)
}

func TestCreateOrderValidation(t *testing.T) {
	engine, led, _ := setupEngine(t)

	_, err := engine.CreateOrder("alice", "alice", "TKA", "TKB", 0, 200)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = engine.CreateOrder("alice", "alice", "TKA", "TKB", 100, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = engine.CreateOrder("alice", "alice", "TKA", "TKA", 100, 200)
	require.ErrorIs(t, err, ErrSameAsset)

	// Nothing moved and nothing was recorded
	require.Equal(t, uint64(1000), balance(t, led, "TKA", "alice"))
	count, err := engine.GetOrderCount("TKA")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestCreateOrderWithoutApproval(t *testing.T) {
	engine, led, _ := setupEngine(t)

	_, err := engine.CreateOrder("alice", "alice", "TKA", "TKB", 100, 200)
	require.ErrorIs(t, err, ErrTransferFailed)

	require.Equal(t, uint64(1000), balance(t, led, "TKA", "alice"))
	require.Zero(t, balance(t, led, "TKA", EscrowAccount))

	count, err := engine.GetOrderCount("TKA")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestCreateOrderInsufficientBalance(t *testing.T) {
	engine, led, _ := setupEngine(t)

	require.NoError(t, led.Approve("TKA", "alice", EscrowAccount, 5000))

	_, err := engine.CreateOrder("alice", "alice", "TKA", "TKB", 5000, 200)
	require.ErrorIs(t, err, ErrTransferFailed)

	count, err := engine.GetOrderCount("TKA")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestFillOrderSettlesBothLegs(t *testing.T) {
	engine, led, db := setupEngine(t)

	require.NoError(t, led.Approve("TKA", "alice", EscrowAccount, 100))
	_, err := engine.CreateOrder("alice", "alice", "TKA", "TKB", 100, 200)
	require.NoError(t, err)

	require.NoError(t, led.Approve("TKB", "bob", EscrowAccount, 200))

	fill, err := engine.FillOrder("bob", 1, "TKA")
	require.NoError(t, err)
	require.Equal(t, uint64(1), fill.OrderSeq)
	require.Equal(t, "bob", fill.Filler)
	require.Equal(t, "alice", fill.Recipient)

	// Payment leg: bob paid 200 TKB to the recipient
	require.Equal(t, uint64(800), balance(t, led, "TKB", "bob"))
	require.Equal(t, uint64(200), balance(t, led, "TKB", "alice"))

	// Release leg: escrowed 100 TKA went to bob
	require.Equal(t, uint64(100), balance(t, led, "TKA", "bob"))
	require.Zero(t, balance(t, led, "TKA", EscrowAccount))

	order, err := engine.GetOrder(1, "TKA")
	require.NoError(t, err)
	require.True(t, order.IsFilled)
	require.False(t, order.IsActive)

	// Exactly one receipt exists for the order
	var receipts int64
	require.NoError(t, db.Model(&Fill{}).Where("order_seq = ? AND offered_asset = ?", 1, "TKA").Count(&receipts).Error)
	require.Equal(t, int64(1), receipts)

	got, err := engine.GetFill(fill.FillID)
	require.NoError(t, err)
	require.Equal(t, fill.OrderSeq, got.OrderSeq)
}

func TestFillOrderTwice(t *testing.T) {
	engine, led, _ := setupEngine(t)

	require.NoError(t, led.Approve("TKA", "alice", EscrowAccount, 100))
	_, err := engine.CreateOrder("alice", "alice", "TKA", "TKB", 100, 200)
	require.NoError(t, err)

	require.NoError(t, led.Approve("TKB", "bob", EscrowAccount, 1000))

	_, err = engine.FillOrder("bob", 1, "TKA")
	require.NoError(t, err)

	_, err = engine.FillOrder("bob", 1, "TKA")
	require.ErrorIs(t, err, ErrOrderInactive)

	// The second attempt moved nothing
	require.Equal(t, uint64(800), balance(t, led, "TKB", "bob"))
	require.Equal(t, uint64(200), balance(t, led, "TKB", "alice"))
	require.Equal(t, uint64(100), balance(t, led, "TKA", "bob"))
}

func TestFillOrderNotFound(t *testing.T) {
	engine, _, _ := setupEngine(t)

	_, err := engine.FillOrder("bob", 42, "TKA")
	require.ErrorIs(t, err, orderbook.ErrOrderNotFound)

	_, err = engine.GetOrder(42, "TKA")
	require.ErrorIs(t, err, orderbook.ErrOrderNotFound)
}

func TestFillOrderUnfundedFiller(t *testing.T) {
	engine, led, _ := setupEngine(t)

	require.NoError(t, led.Approve("TKA", "alice", EscrowAccount, 100))
	_, err := engine.CreateOrder("alice", "alice", "TKA", "TKB", 100, 200)
	require.NoError(t, err)

	// No approval from the filler
	_, err = engine.FillOrder("bob", 1, "TKA")
	require.ErrorIs(t, err, ErrTransferFailed)

	// Order untouched, escrow intact
	order, err := engine.GetOrder(1, "TKA")
	require.NoError(t, err)
	require.True(t, order.IsActive)
	require.Equal(t, uint64(100), balance(t, led, "TKA", EscrowAccount))
	require.Equal(t, uint64(1000), balance(t, led, "TKB", "bob"))
}

// failingLedger delegates to the real ledger but refuses custody releases,
// simulating a fault between the two legs of the swap.
type failingLedger struct {
	TokenLedger
}

func (f failingLedger) Transfer(asset, from, to string, amount uint64) error {
	return errors.New("ledger offline")
}

func TestFillOrderRollsBackOnReleaseFailure(t *testing.T) {
	engine, led, _ := setupEngine(t)

	require.NoError(t, led.Approve("TKA", "alice", EscrowAccount, 100))
	_, err := engine.CreateOrder("alice", "alice", "TKA", "TKB", 100, 200)
	require.NoError(t, err)
	require.NoError(t, led.Approve("TKB", "bob", EscrowAccount, 200))

	engine.newLedger = func(tx *gorm.DB) TokenLedger {
		return failingLedger{ledger.NewDatabase(tx)}
	}

	_, err = engine.FillOrder("bob", 1, "TKA")
	require.ErrorIs(t, err, ErrTransferFailed)

	// The payment leg succeeded inside the transaction but must have been
	// rolled back with everything else
	require.Equal(t, uint64(1000), balance(t, led, "TKB", "bob"))
	require.Zero(t, balance(t, led, "TKB", "alice"))
	require.Equal(t, uint64(100), balance(t, led, "TKA", EscrowAccount))

	order, err := engine.GetOrder(1, "TKA")
	require.NoError(t, err)
	require.True(t, order.IsActive)
	require.False(t, order.IsFilled)

	// The allowance spent on the rolled-back payment leg is restored too
	allowance, err := led.AllowanceOf("TKB", "bob", EscrowAccount)
	require.NoError(t, err)
	require.Equal(t, uint64(200), allowance)
}

func TestConcurrentFillsSingleWinner(t *testing.T) {
	engine, led, _ := setupEngine(t)

	require.NoError(t, led.Approve("TKA", "alice", EscrowAccount, 100))
	_, err := engine.CreateOrder("alice", "alice", "TKA", "TKB", 100, 200)
	require.NoError(t, err)

	// Both fillers are fully funded, so only the inactive check can reject one
	require.NoError(t, led.Transfer("TKB", "bob", "carol", 500))
	require.NoError(t, led.Approve("TKB", "bob", EscrowAccount, 500))
	require.NoError(t, led.Approve("TKB", "carol", EscrowAccount, 500))

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, filler := range []string{"bob", "carol"} {
		wg.Add(1)
		go func(filler string) {
			defer wg.Done()
			_, err := engine.FillOrder(filler, 1, "TKA")
			results <- err
		}(filler)
	}
	wg.Wait()
	close(results)

	var successes, inactive int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrOrderInactive):
			inactive++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, inactive)

	// Total movements match exactly one fill
	require.Equal(t, uint64(200), balance(t, led, "TKB", "alice"))
	require.Zero(t, balance(t, led, "TKA", EscrowAccount))
	bobTKA := balance(t, led, "TKA", "bob")
	carolTKA := balance(t, led, "TKA", "carol")
	require.Equal(t, uint64(100), bobTKA+carolTKA)
}

func TestGetOrderIsStableAcrossReads(t *testing.T) {
	engine, led, _ := setupEngine(t)

	require.NoError(t, led.Approve("TKA", "alice", EscrowAccount, 100))
	_, err := engine.CreateOrder("alice", "carol", "TKA", "TKB", 100, 200)
	require.NoError(t, err)

	first, err := engine.GetOrder(1, "TKA")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := engine.GetOrder(1, "TKA")
		require.NoError(t, err)
		require.Equal(t, first.OrderSeq, again.OrderSeq)
		require.Equal(t, first.OfferedAmount, again.OfferedAmount)
		require.Equal(t, first.RequestedAmount, again.RequestedAmount)
		require.Equal(t, first.Creator, again.Creator)
		require.Equal(t, first.Recipient, again.Recipient)
		require.Equal(t, first.OfferedAsset, again.OfferedAsset)
		require.Equal(t, first.RequestedAsset, again.RequestedAsset)
	}
}

func TestPerAssetIDsCoexist(t *testing.T) {
	engine, led, _ := setupEngine(t)

	require.NoError(t, led.Approve("TKA", "alice", EscrowAccount, 100))
	require.NoError(t, led.Approve("TKB", "bob", EscrowAccount, 100))

	orderA, err := engine.CreateOrder("alice", "alice", "TKA", "TKB", 100, 200)
	require.NoError(t, err)
	orderB, err := engine.CreateOrder("bob", "bob", "TKB", "TKA", 100, 200)
	require.NoError(t, err)

	// Same numeric id under different offered assets
	require.Equal(t, uint64(1), orderA.OrderSeq)
	require.Equal(t, uint64(1), orderB.OrderSeq)

	gotA, err := engine.GetOrder(1, "TKA")
	require.NoError(t, err)
	require.Equal(t, "alice", gotA.Creator)

	gotB, err := engine.GetOrder(1, "TKB")
	require.NoError(t, err)
	require.Equal(t, "bob", gotB.Creator)
}
