package types

// IssueTokenRequest registers a new token; the initial supply is minted to
// the authenticated caller.
type IssueTokenRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Name   string `json:"name" binding:"required"`
	Supply uint64 `json:"supply" binding:"required"`
}

type ApproveRequest struct {
	Spender string `json:"spender" binding:"required"`
	Amount  uint64 `json:"amount"`
}

type TransferRequest struct {
	To     string `json:"to" binding:"required"`
	Amount uint64 `json:"amount" binding:"required"`
}

// CreateOrderRequest offers a fixed amount of one asset for a fixed amount of
// another. Recipient defaults to the caller when empty.
type CreateOrderRequest struct {
	Recipient       string `json:"recipient"`
	OfferedAsset    string `json:"offered_asset" binding:"required"`
	RequestedAsset  string `json:"requested_asset" binding:"required"`
	OfferedAmount   uint64 `json:"offered_amount"`
	RequestedAmount uint64 `json:"requested_amount"`
}
