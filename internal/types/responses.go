package types

// BalanceResponse reports one account's holding of one asset
type BalanceResponse struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

// OrderCountResponse reports how many orders have ever been created for an
// asset; ids run 1 through Count.
type OrderCountResponse struct {
	Asset string `json:"asset"`
	Count uint64 `json:"count"`
}
