package settlement

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/dex-api/internal/ledger"
	"github.com/ksred/dex-api/internal/orderbook"
	"github.com/ksred/dex-api/internal/types"
	"github.com/ksred/dex-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// EscrowAccount is the reserved ledger account holding escrowed funds between
// order creation and fill. It is also the spender identity callers approve.
const EscrowAccount = "ESCROW"

var (
	ErrInvalidAmount  = errors.New("amount must be greater than zero")
	ErrSameAsset      = errors.New("offered and requested assets must differ")
	ErrOrderInactive  = errors.New("order is no longer active")
	ErrTransferFailed = errors.New("transfer failed")
)

// TokenLedger is the slice of the token ledger the engine settles against.
type TokenLedger interface {
	Transfer(asset, from, to string, amount uint64) error
	TransferFrom(asset, spender, from, to string, amount uint64) error
}

// Service is the settlement engine. It validates orders, escrows the offered
// asset on creation and settles both legs of the swap on fill.
//
// All mutating operations run under a single mutex and inside one database
// transaction, so a fill either settles completely or leaves no trace, and
// two racing fills on the same order can never both succeed.
type Service struct {
	mu        sync.Mutex
	db        *gorm.DB
	newLedger func(tx *gorm.DB) TokenLedger
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: gormDB,
		newLedger: func(tx *gorm.DB) TokenLedger {
			return ledger.NewDatabase(tx)
		},
	}
}

// CreateOrder escrows offeredAmount of offeredAsset from the creator and
// appends a new order. The returned order carries its per-asset id.
func (s *Service) CreateOrder(creator, recipient, offeredAsset, requestedAsset string, offeredAmount, requestedAmount uint64) (*orderbook.Order, error) {
	logger := log.With().
		Str("creator", creator).
		Str("offered_asset", offeredAsset).
		Str("requested_asset", requestedAsset).
		Uint64("offered_amount", offeredAmount).
		Uint64("requested_amount", requestedAmount).
		Str("service", "settlement").
		Logger()

	if offeredAmount == 0 || requestedAmount == 0 {
		return nil, ErrInvalidAmount
	}
	if offeredAsset == requestedAsset {
		return nil, ErrSameAsset
	}

	order := &orderbook.Order{
		RequestedAsset:  requestedAsset,
		OfferedAmount:   offeredAmount,
		RequestedAmount: requestedAmount,
		Recipient:       recipient,
		Creator:         creator,
		IsFilled:        false,
		IsActive:        true,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		led := s.newLedger(tx)
		if err := led.TransferFrom(offeredAsset, EscrowAccount, creator, EscrowAccount, offeredAmount); err != nil {
			return fmt.Errorf("%w: escrow leg: %s", ErrTransferFailed, err)
		}

		_, err := orderbook.NewDatabase(tx).Append(offeredAsset, order)
		return err
	})
	if err != nil {
		logger.Error().Err(err).Msg("order creation failed")
		return nil, err
	}

	logger.Info().Uint64("order_id", order.OrderSeq).Msg("order created")
	return order, nil
}

// FillOrder atomically settles an open order: the filler pays the requested
// amount to the order's recipient, receives the escrowed offered amount, and
// the order is marked filled. Preconditions are re-checked against stored
// state inside the transaction, so a second fill of the same order fails with
// ErrOrderInactive before any asset moves.
func (s *Service) FillOrder(filler string, orderID uint64, offeredAsset string) (*Fill, error) {
	logger := log.With().
		Str("filler", filler).
		Uint64("order_id", orderID).
		Str("offered_asset", offeredAsset).
		Str("service", "settlement").
		Logger()

	var fill *Fill

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		store := orderbook.NewDatabase(tx)

		order, err := store.Get(orderID, offeredAsset)
		if err != nil {
			return err
		}
		if !order.IsActive {
			return ErrOrderInactive
		}

		led := s.newLedger(tx)
		if err := led.TransferFrom(order.RequestedAsset, EscrowAccount, filler, order.Recipient, order.RequestedAmount); err != nil {
			return fmt.Errorf("%w: payment leg: %s", ErrTransferFailed, err)
		}
		if err := led.Transfer(order.OfferedAsset, EscrowAccount, filler, order.OfferedAmount); err != nil {
			return fmt.Errorf("%w: release leg: %s", ErrTransferFailed, err)
		}

		if err := store.MarkFilled(orderID, offeredAsset); err != nil {
			return err
		}

		fill = &Fill{
			FillID:          "FIL_" + uuid.New().String(),
			OrderSeq:        order.OrderSeq,
			OfferedAsset:    order.OfferedAsset,
			RequestedAsset:  order.RequestedAsset,
			OfferedAmount:   order.OfferedAmount,
			RequestedAmount: order.RequestedAmount,
			Filler:          filler,
			Recipient:       order.Recipient,
		}
		return tx.Create(fill).Error
	})
	if err != nil {
		logger.Warn().Err(err).Msg("fill failed")
		return nil, err
	}

	logger.Info().
		Str("fill_id", fill.FillID).
		Str("recipient", fill.Recipient).
		Uint64("offered_amount", fill.OfferedAmount).
		Uint64("requested_amount", fill.RequestedAmount).
		Msg("order filled")

	return fill, nil
}

// GetOrder retrieves an order by its per-asset id.
func (s *Service) GetOrder(orderID uint64, offeredAsset string) (*orderbook.Order, error) {
	return orderbook.NewDatabase(s.db).Get(orderID, offeredAsset)
}

// GetOrderCount returns how many orders have ever been created for the asset.
func (s *Service) GetOrderCount(offeredAsset string) (uint64, error) {
	return orderbook.NewDatabase(s.db).Count(offeredAsset)
}

// GetFill retrieves a fill receipt by id.
func (s *Service) GetFill(fillID string) (*Fill, error) {
	var fill Fill
	if err := s.db.Where("fill_id = ?", fillID).First(&fill).Error; err != nil {
		return nil, err
	}
	return &fill, nil
}

// GinHandlers contains HTTP handlers for order and settlement endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests to create new orders
// The creator is taken from the authenticated caller.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		creator := c.GetString("clientID")
		if creator == "" {
			response.Unauthorized(c, "Missing caller identity")
			return
		}

		var req types.CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		recipient := req.Recipient
		if recipient == "" {
			recipient = creator
		}

		order, err := h.service.CreateOrder(creator, recipient, req.OfferedAsset, req.RequestedAsset, req.OfferedAmount, req.RequestedAmount)
		switch {
		case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrSameAsset):
			response.BadRequest(c, err.Error())
		case errors.Is(err, ErrTransferFailed):
			response.TransferFailed(c, err.Error())
		default:
			response.Handle(c, order, err)
		}
	}
}

// FillOrderHandler handles POST requests to fill an open order
// URL parameters: asset, order_id
func (h *GinHandlers) FillOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filler := c.GetString("clientID")
		if filler == "" {
			response.Unauthorized(c, "Missing caller identity")
			return
		}

		asset := c.Param("asset")
		orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 64)
		if err != nil {
			response.BadRequest(c, "Invalid order ID")
			return
		}

		fill, err := h.service.FillOrder(filler, orderID, asset)
		switch {
		case errors.Is(err, orderbook.ErrOrderNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, ErrOrderInactive):
			response.Conflict(c, err.Error())
		case errors.Is(err, ErrTransferFailed):
			response.TransferFailed(c, err.Error())
		default:
			response.Handle(c, fill, err)
		}
	}
}

// GetOrderHandler handles GET requests for a single order
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		asset := c.Param("asset")
		orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 64)
		if err != nil {
			response.BadRequest(c, "Invalid order ID")
			return
		}

		order, err := h.service.GetOrder(orderID, asset)
		if errors.Is(err, orderbook.ErrOrderNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.Handle(c, order, err)
	}
}

// GetOrderCountHandler handles GET requests for an asset's order count
func (h *GinHandlers) GetOrderCountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		asset := c.Param("asset")

		count, err := h.service.GetOrderCount(asset)
		response.Handle(c, types.OrderCountResponse{
			Asset: asset,
			Count: count,
		}, err)
	}
}
