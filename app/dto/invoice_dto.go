package dto

import "github.com/shopspring/decimal"

// CreateDepositInvoiceRequest asks the provider for a balance top-up invoice.
// The chat id identifies the paying customer; the customer row is created
// on first contact.
type CreateDepositInvoiceRequest struct {
	ChatID    int64           `json:"chat_id" validate:"required"`
	Username  *string         `json:"username,omitempty" validate:"omitempty,max=255"`
	FirstName *string         `json:"first_name,omitempty" validate:"omitempty,max=255"`
	LastName  *string         `json:"last_name,omitempty" validate:"omitempty,max=255"`
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	Asset     string          `json:"asset" validate:"omitempty,uppercase,min=2,max=16"`
}

// CreateOrderPaymentInvoiceRequest asks the provider for an invoice
// settling an existing pending order
type CreateOrderPaymentInvoiceRequest struct {
	ChatID    int64  `json:"chat_id" validate:"required"`
	OrderUUID string `json:"order_uuid" validate:"required,uuid4"`
	Asset     string `json:"asset" validate:"omitempty,uppercase,min=2,max=16"`
}

// InvoiceDTO is the API shape of a tracked invoice. Amounts render as
// strings to survive JSON number precision.
type InvoiceDTO struct {
	UUID              string  `json:"uuid"`
	ProviderInvoiceID int64   `json:"provider_invoice_id"`
	Purpose           string  `json:"purpose"`
	Status            string  `json:"status"`
	Amount            string  `json:"amount"`
	Asset             string  `json:"asset"`
	Description       string  `json:"description,omitempty"`
	OrderUUID         *string `json:"order_uuid,omitempty"`
	BotInvoiceURL     string  `json:"bot_invoice_url,omitempty"`
	MiniAppInvoiceURL string  `json:"mini_app_invoice_url,omitempty"`
	PaidAmount        *string `json:"paid_amount,omitempty"`
	PaidAsset         *string `json:"paid_asset,omitempty"`
	FeeAmount         *string `json:"fee_amount,omitempty"`
	FeeAsset          *string `json:"fee_asset,omitempty"`
	CreatedAt         string  `json:"created_at"`
	ExpiresAt         *string `json:"expires_at,omitempty"`
	PaidAt            *string `json:"paid_at,omitempty"`
}

// CreateInvoiceResponse returns the created invoice with provider pay URLs
type CreateInvoiceResponse struct {
	Invoice InvoiceDTO `json:"invoice"`
}

// GetInvoiceRequest fetches one invoice by provider id for a customer
type GetInvoiceRequest struct {
	ChatID            int64 `json:"-"`
	ProviderInvoiceID int64 `json:"-"`
}

// ListInvoicesRequest pages through a customer's invoices
type ListInvoicesRequest struct {
	ChatID   int64   `json:"chat_id" validate:"required"`
	Status   *string `json:"status,omitempty" validate:"omitempty,oneof=pending paid expired cancelled"`
	Page     int     `json:"page" validate:"omitempty,gte=1"`
	PageSize int     `json:"page_size" validate:"omitempty,gte=1,lte=100"`
}

// ListInvoicesResponse returns one page of invoices
type ListInvoicesResponse struct {
	Invoices []InvoiceDTO `json:"invoices"`
	Total    int64        `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

// CancelInvoiceRequest cancels a pending invoice
type CancelInvoiceRequest struct {
	ChatID            int64 `json:"chat_id" validate:"required"`
	ProviderInvoiceID int64 `json:"-"`
}

// CancelInvoiceResponse acknowledges the cancellation
type CancelInvoiceResponse struct {
	Invoice InvoiceDTO `json:"invoice"`
	Message string     `json:"message"`
}
