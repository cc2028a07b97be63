package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// CreateInvoiceInput carries the parameters for a new provider invoice
type CreateInvoiceInput struct {
	Asset          string
	Amount         decimal.Decimal
	Description    string
	Payload        string
	PaidBtnName    string
	PaidBtnURL     string
	ExpiresIn      int // seconds
	AllowComments  bool
	AllowAnonymous bool
}

// ProviderInvoice mirrors the provider's invoice object. Amount fields
// arrive as JSON strings and decode through shopspring decimal.
type ProviderInvoice struct {
	InvoiceID         int64            `json:"invoice_id"`
	Hash              string           `json:"hash"`
	CurrencyType      string           `json:"currency_type"`
	Asset             string           `json:"asset"`
	Amount            decimal.Decimal  `json:"amount"`
	BotInvoiceURL     string           `json:"bot_invoice_url"`
	MiniAppInvoiceURL string           `json:"mini_app_invoice_url"`
	WebAppInvoiceURL  string           `json:"web_app_invoice_url"`
	Description       string           `json:"description"`
	Status            string           `json:"status"`
	CreatedAt         string           `json:"created_at"`
	ExpirationDate    *string          `json:"expiration_date"`
	PaidAt            *string          `json:"paid_at"`
	Payload           string           `json:"payload"`
	PaidAsset         *string          `json:"paid_asset"`
	PaidAmount        *decimal.Decimal `json:"paid_amount"`
	PaidUSDRate       *decimal.Decimal `json:"paid_usd_rate"`
	FeeAsset          *string          `json:"fee_asset"`
	FeeAmount         *decimal.Decimal `json:"fee_amount"`
	IsSwapped         bool             `json:"is_swapped"`
	SwappedTo         *string          `json:"swapped_to"`
	SwappedRate       *decimal.Decimal `json:"swapped_rate"`
	SwappedOutput     *decimal.Decimal `json:"swapped_output"`
}

// Invoice status values reported by the provider
const (
	ProviderInvoiceStatusActive  = "active"
	ProviderInvoiceStatusPaid    = "paid"
	ProviderInvoiceStatusExpired = "expired"
)

// WebhookUpdate is the envelope the provider delivers to the webhook endpoint
type WebhookUpdate struct {
	UpdateID    int64           `json:"update_id"`
	UpdateType  string          `json:"update_type"`
	RequestDate string          `json:"request_date"`
	Payload     json.RawMessage `json:"payload"`
}

// Update types the provider can deliver
const (
	UpdateTypeInvoicePaid = "invoice_paid"
)

// PaymentProvider abstracts the invoice provider API
type PaymentProvider interface {
	Name() string
	CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*ProviderInvoice, error)
	DeleteInvoice(ctx context.Context, invoiceID int64) (bool, error)
	GetInvoices(ctx context.Context, invoiceIDs []int64, status string) ([]ProviderInvoice, error)
	// VerifyWebhookSignature checks a delivery's HMAC header against the
	// raw request body
	VerifyWebhookSignature(body []byte, signature string) bool
}

// MockPaymentProvider implements PaymentProvider for testing
type MockPaymentProvider struct {
	mu       sync.Mutex
	nextID   int64
	invoices map[int64]*ProviderInvoice
	deleted  map[int64]bool
	// CreateErr makes CreateInvoice fail when set
	CreateErr error
}

// NewMockPaymentProvider creates a mock provider that hands out sequential invoice IDs
func NewMockPaymentProvider() *MockPaymentProvider {
	return &MockPaymentProvider{
		nextID:   1000,
		invoices: make(map[int64]*ProviderInvoice),
		deleted:  make(map[int64]bool),
	}
}

func (m *MockPaymentProvider) Name() string {
	return "mock"
}

func (m *MockPaymentProvider) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*ProviderInvoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateErr != nil {
		return nil, m.CreateErr
	}

	m.nextID++
	invoice := &ProviderInvoice{
		InvoiceID:     m.nextID,
		Hash:          fmt.Sprintf("mock-%d", m.nextID),
		CurrencyType:  "crypto",
		Asset:         in.Asset,
		Amount:        in.Amount,
		BotInvoiceURL: fmt.Sprintf("https://t.me/CryptoBot?start=mock-%d", m.nextID),
		Description:   in.Description,
		Status:        ProviderInvoiceStatusActive,
		Payload:       in.Payload,
	}
	m.invoices[invoice.InvoiceID] = invoice
	return invoice, nil
}

func (m *MockPaymentProvider) DeleteInvoice(ctx context.Context, invoiceID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.invoices[invoiceID]; !ok {
		return false, nil
	}
	delete(m.invoices, invoiceID)
	m.deleted[invoiceID] = true
	return true, nil
}

func (m *MockPaymentProvider) GetInvoices(ctx context.Context, invoiceIDs []int64, status string) ([]ProviderInvoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ProviderInvoice
	for _, id := range invoiceIDs {
		if invoice, ok := m.invoices[id]; ok {
			if status == "" || invoice.Status == status {
				out = append(out, *invoice)
			}
		}
	}
	return out, nil
}

// VerifyWebhookSignature accepts everything; signature checks are covered
// by the real client's tests
func (m *MockPaymentProvider) VerifyWebhookSignature(body []byte, signature string) bool {
	return true
}

// MarkInvoicePaid flips a stored invoice to paid so GetInvoices reflects it
func (m *MockPaymentProvider) MarkInvoicePaid(invoiceID int64, paidAmount decimal.Decimal, paidAsset string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if invoice, ok := m.invoices[invoiceID]; ok {
		invoice.Status = ProviderInvoiceStatusPaid
		invoice.PaidAmount = &paidAmount
		invoice.PaidAsset = &paidAsset
	}
}

// Deleted reports whether DeleteInvoice was called for an invoice
func (m *MockPaymentProvider) Deleted(invoiceID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleted[invoiceID]
}
