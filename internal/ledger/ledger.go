package ledger

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/ksred/dex-api/internal/types"
	"github.com/ksred/dex-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service exposes the fungible-token ledger: issuance, transfers and
// approvals. The settlement engine settles swaps against the same tables
// through a transaction-scoped Database.
type Service struct {
	gormDB *gorm.DB
	db     *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		gormDB: gormDB,
		db:     NewDatabase(gormDB),
	}
}

// Issue registers a new token and mints its initial supply to the issuer.
func (s *Service) Issue(symbol, name, issuer string, supply uint64) (*Token, error) {
	logger := log.With().
		Str("symbol", symbol).
		Str("issuer", issuer).
		Uint64("supply", supply).
		Str("service", "ledger").
		Logger()

	existing, err := s.db.GetToken(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to check token registry: %w", err)
	}
	if existing != nil {
		return nil, ErrTokenExists
	}

	token := &Token{
		Symbol:      symbol,
		Name:        name,
		Issuer:      issuer,
		TotalSupply: supply,
	}

	err = s.gormDB.Transaction(func(tx *gorm.DB) error {
		txDB := NewDatabase(tx)
		if err := txDB.CreateToken(token); err != nil {
			return err
		}
		return txDB.credit(symbol, issuer, supply)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to issue token")
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	logger.Info().Msg("token issued")
	return token, nil
}

// Transfer moves amount of asset between two accounts in one transaction.
func (s *Service) Transfer(asset, from, to string, amount uint64) error {
	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		return NewDatabase(tx).Transfer(asset, from, to, amount)
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("asset", asset).
		Str("from", from).
		Str("to", to).
		Uint64("amount", amount).
		Str("service", "ledger").
		Msg("transfer completed")
	return nil
}

// Approve lets spender move up to amount of asset out of owner's balance.
func (s *Service) Approve(asset, owner, spender string, amount uint64) error {
	if err := s.db.Approve(asset, owner, spender, amount); err != nil {
		return err
	}

	log.Info().
		Str("asset", asset).
		Str("owner", owner).
		Str("spender", spender).
		Uint64("amount", amount).
		Str("service", "ledger").
		Msg("allowance set")
	return nil
}

// TransferFrom spends an allowance in one transaction.
func (s *Service) TransferFrom(asset, spender, from, to string, amount uint64) error {
	return s.gormDB.Transaction(func(tx *gorm.DB) error {
		return NewDatabase(tx).TransferFrom(asset, spender, from, to, amount)
	})
}

func (s *Service) BalanceOf(asset, account string) (uint64, error) {
	return s.db.BalanceOf(asset, account)
}

func (s *Service) AllowanceOf(asset, owner, spender string) (uint64, error) {
	return s.db.AllowanceOf(asset, owner, spender)
}

func (s *Service) GetToken(symbol string) (*Token, error) {
	return s.db.GetToken(symbol)
}

// GinHandlers contains HTTP handlers for ledger endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// IssueTokenHandler handles POST requests to register a token and mint its
// initial supply to the caller.
func (h *GinHandlers) IssueTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		issuer := c.GetString("clientID")
		if issuer == "" {
			response.Unauthorized(c, "Missing caller identity")
			return
		}

		var req types.IssueTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		token, err := h.service.Issue(req.Symbol, req.Name, issuer, req.Supply)
		if err == ErrTokenExists {
			response.Conflict(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}

// GetBalanceHandler handles GET requests for the caller's balance of a token.
func (h *GinHandlers) GetBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := c.GetString("clientID")
		symbol := c.Param("symbol")

		token, err := h.service.GetToken(symbol)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if token == nil {
			response.NotFound(c, "Token not found")
			return
		}

		amount, err := h.service.BalanceOf(symbol, account)
		response.Handle(c, types.BalanceResponse{
			Asset:   symbol,
			Account: account,
			Amount:  amount,
		}, err)
	}
}

// ApproveHandler handles POST requests to set an allowance for a spender.
func (h *GinHandlers) ApproveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetString("clientID")
		symbol := c.Param("symbol")

		var req types.ApproveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.service.Approve(symbol, owner, req.Spender, req.Amount)
		response.Handle(c, gin.H{"message": "allowance set"}, err)
	}
}

// TransferHandler handles POST requests to move the caller's own balance.
func (h *GinHandlers) TransferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		from := c.GetString("clientID")
		symbol := c.Param("symbol")

		var req types.TransferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if ReservedAccounts[req.To] {
			response.Forbidden(c, "Cannot transfer to a reserved account")
			return
		}

		err := h.service.Transfer(symbol, from, req.To, req.Amount)
		if err == ErrInsufficientBalance {
			response.TransferFailed(c, err.Error())
			return
		}
		response.Handle(c, gin.H{"message": "transfer completed"}, err)
	}
}
