package dto

// DepositSummaryRequest fetches the aggregate for one customer
type DepositSummaryRequest struct {
	ChatID int64 `json:"-"`
}

// DepositSummaryResponse returns per-customer deposit statistics along
// with the current balance
type DepositSummaryResponse struct {
	ChatID                  int64                   `json:"chat_id"`
	DepositsCount           int                     `json:"deposits_count"`
	TotalDeposited          string                  `json:"total_deposited"`
	TotalFeesPaid           string                  `json:"total_fees_paid"`
	AssetsDeposited         map[string]string       `json:"assets_deposited"`
	FirstDepositAt          *string                 `json:"first_deposit_at,omitempty"`
	LastDepositAt           *string                 `json:"last_deposit_at,omitempty"`
	LargestDepositAmount    *string                 `json:"largest_deposit_amount,omitempty"`
	LargestDepositInvoiceID *int64                  `json:"largest_deposit_invoice_id,omitempty"`
	Balance                 string                  `json:"balance"`
	RecentDeposits          []DepositHistoryItemDTO `json:"recent_deposits,omitempty"`
}

// DepositHistoryRequest pages through a customer's settled deposits
type DepositHistoryRequest struct {
	ChatID   int64 `json:"-"`
	Page     int   `json:"-"`
	PageSize int   `json:"-"`
}

// DepositHistoryItemDTO is one settled deposit
type DepositHistoryItemDTO struct {
	ProviderInvoiceID int64   `json:"provider_invoice_id"`
	Amount            string  `json:"amount"`
	Asset             string  `json:"asset"`
	FeeAmount         *string `json:"fee_amount,omitempty"`
	FeeAsset          *string `json:"fee_asset,omitempty"`
	RequestedAmount   string  `json:"requested_amount"`
	RequestedAsset    string  `json:"requested_asset"`
	DepositedAt       string  `json:"deposited_at"`
}

// DepositHistoryResponse returns one page of settled deposits
type DepositHistoryResponse struct {
	Items    []DepositHistoryItemDTO `json:"items"`
	Total    int64                   `json:"total"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
}

// BalanceRequest fetches the spendable balance for one customer
type BalanceRequest struct {
	ChatID int64 `json:"-"`
}

// BalanceResponse returns the spendable balance
type BalanceResponse struct {
	ChatID  int64  `json:"chat_id"`
	Balance string `json:"balance"`
}
