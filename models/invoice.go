package models

import (
	"encoding/json"
	"time"

	"github.com/amirphl/Kusanagi/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoicePurpose says what a paid invoice settles into
type InvoicePurpose string

const (
	InvoicePurposeDeposit      InvoicePurpose = "deposit"       // Credits the customer's balance
	InvoicePurposeOrderPayment InvoicePurpose = "order_payment" // Marks an order as paid
)

// InvoiceStatus represents the status of a provider invoice
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"   // Created at the provider, waiting for payment
	InvoiceStatusPaid      InvoiceStatus = "paid"      // Payment confirmed by the provider
	InvoiceStatusExpired   InvoiceStatus = "expired"   // Payment window elapsed without payment
	InvoiceStatusCancelled InvoiceStatus = "cancelled" // Cancelled before payment
)

// Invoice represents a CryptoPay invoice tracked by this service.
// The provider-assigned id is the only key webhook deliveries carry,
// so it is unique and indexed. Rows are never deleted; a final status
// plus the effect markers is the full history of the payment.
type Invoice struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID          uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`
	CorrelationID uuid.UUID `gorm:"type:uuid;index;not null" json:"correlation_id"` // Links related records

	// Provider identity
	ProviderInvoiceID int64 `gorm:"not null;uniqueIndex" json:"provider_invoice_id"` // CryptoPay invoice_id

	// Customer and purpose
	CustomerID uint           `gorm:"not null;index" json:"customer_id"`
	Purpose    InvoicePurpose `gorm:"type:varchar(20);not null;index" json:"purpose"`
	OrderID    *uint          `gorm:"index" json:"order_id,omitempty"` // Set for order_payment invoices

	// Requested payment
	Amount       decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"amount"`
	Asset        string          `gorm:"type:varchar(16);not null" json:"asset"`
	CurrencyType string          `gorm:"type:varchar(10);not null;default:'crypto'" json:"currency_type"`
	Description  string          `gorm:"type:text" json:"description"`

	// Settled payment (set exactly once, by MarkPaid)
	PaidAmount  *decimal.Decimal `gorm:"type:numeric(20,8)" json:"paid_amount,omitempty"`
	PaidAsset   *string          `gorm:"type:varchar(16)" json:"paid_asset,omitempty"`
	PaidUSDRate *decimal.Decimal `gorm:"type:numeric(20,8)" json:"paid_usd_rate,omitempty"`
	FeeAmount   *decimal.Decimal `gorm:"type:numeric(20,8)" json:"fee_amount,omitempty"`
	FeeAsset    *string          `gorm:"type:varchar(16)" json:"fee_asset,omitempty"`

	// Swap detail reported by the provider when the paid asset was converted
	IsSwapped     *bool            `gorm:"default:false" json:"is_swapped"`
	SwappedTo     *string          `gorm:"type:varchar(16)" json:"swapped_to,omitempty"`
	SwappedAmount *decimal.Decimal `gorm:"type:numeric(20,8)" json:"swapped_amount,omitempty"`
	SwappedRate   *decimal.Decimal `gorm:"type:numeric(20,8)" json:"swapped_rate,omitempty"`

	// Provider response data
	BotInvoiceURL     string `gorm:"type:text" json:"bot_invoice_url"`
	MiniAppInvoiceURL string `gorm:"type:text" json:"mini_app_invoice_url"`
	ProviderHash      string `gorm:"type:varchar(64);index" json:"provider_hash"`

	// Payload echoed through the provider and returned in the webhook
	PayloadData json.RawMessage `gorm:"type:jsonb;default:'{}'" json:"payload_data"`

	// Status tracking
	Status InvoiceStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	// Effect markers: nil means the effect has not been applied yet.
	// Each marker is set inside the same transaction as its effect.
	LedgerAppliedAt *time.Time `json:"ledger_applied_at,omitempty"`
	OrderAppliedAt  *time.Time `json:"order_applied_at,omitempty"`
	NotifiedAt      *time.Time `json:"notified_at,omitempty"`

	// Audit fields
	CreatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
	PaidAt    *time.Time `gorm:"index" json:"paid_at,omitempty"`

	// Relationships
	Customer Customer `gorm:"foreignKey:CustomerID;constraint:OnDelete:CASCADE" json:"customer,omitempty"`
	Order    *Order   `gorm:"foreignKey:OrderID" json:"order,omitempty"`
}

// BeforeCreate ensures UUID and CorrelationID are set
func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	if i.UUID == uuid.Nil {
		i.UUID = uuid.New()
	}
	if i.CorrelationID == uuid.Nil {
		i.CorrelationID = uuid.New()
	}
	return nil
}

// IsPending returns true if the invoice is still payable
func (i *Invoice) IsPending() bool {
	return i.Status == InvoiceStatusPending
}

// IsPaid returns true if the invoice has been paid
func (i *Invoice) IsPaid() bool {
	return i.Status == InvoiceStatusPaid
}

// IsFinal returns true if the invoice is in a terminal state
func (i *Invoice) IsFinal() bool {
	return i.Status == InvoiceStatusPaid ||
		i.Status == InvoiceStatusExpired ||
		i.Status == InvoiceStatusCancelled
}

// IsExpired returns true if the payment window has elapsed
func (i *Invoice) IsExpired() bool {
	if i.ExpiresAt == nil {
		return false
	}
	return utils.UTCNow().After(*i.ExpiresAt)
}

// SettledAmount returns the amount and asset that actually settled.
// Swapped payments settle in the swap target; unpaid invoices fall
// back to the requested amount.
func (i *Invoice) SettledAmount() (decimal.Decimal, string) {
	if utils.IsTrue(i.IsSwapped) && i.SwappedAmount != nil && i.SwappedTo != nil {
		return *i.SwappedAmount, *i.SwappedTo
	}
	if i.PaidAmount != nil && i.PaidAsset != nil {
		return *i.PaidAmount, *i.PaidAsset
	}
	return i.Amount, i.Asset
}

// PaymentDetails carries the settlement fields a provider notification
// reports for a paid invoice.
type PaymentDetails struct {
	PaidAmount    decimal.Decimal
	PaidAsset     string
	PaidUSDRate   *decimal.Decimal
	FeeAmount     *decimal.Decimal
	FeeAsset      *string
	IsSwapped     bool
	SwappedTo     *string
	SwappedAmount *decimal.Decimal
	SwappedRate   *decimal.Decimal
	PaidAt        time.Time
}

// SamePayment reports whether the stored settlement matches the given
// details. Used to tell a redelivered notification apart from a
// conflicting one.
func (i *Invoice) SamePayment(d PaymentDetails) bool {
	if i.PaidAmount == nil || i.PaidAsset == nil {
		return false
	}
	if !i.PaidAmount.Equal(d.PaidAmount) || *i.PaidAsset != d.PaidAsset {
		return false
	}
	if utils.IsTrue(i.IsSwapped) != d.IsSwapped {
		return false
	}
	return true
}

// RecordedPaymentDetails rebuilds the settlement details from the
// stored columns of a paid invoice
func (i *Invoice) RecordedPaymentDetails() PaymentDetails {
	details := PaymentDetails{
		PaidUSDRate:   i.PaidUSDRate,
		FeeAmount:     i.FeeAmount,
		FeeAsset:      i.FeeAsset,
		IsSwapped:     utils.IsTrue(i.IsSwapped),
		SwappedTo:     i.SwappedTo,
		SwappedAmount: i.SwappedAmount,
		SwappedRate:   i.SwappedRate,
	}
	if i.PaidAmount != nil {
		details.PaidAmount = *i.PaidAmount
	} else {
		details.PaidAmount = i.Amount
	}
	if i.PaidAsset != nil {
		details.PaidAsset = *i.PaidAsset
	} else {
		details.PaidAsset = i.Asset
	}
	if i.PaidAt != nil {
		details.PaidAt = *i.PaidAt
	}
	return details
}

// InvoiceFilter represents filter criteria for invoice queries
type InvoiceFilter struct {
	ID                *uint            `json:"id,omitempty"`
	UUID              *uuid.UUID       `json:"uuid,omitempty"`
	CorrelationID     *uuid.UUID       `json:"correlation_id,omitempty"`
	ProviderInvoiceID *int64           `json:"provider_invoice_id,omitempty"`
	CustomerID        *uint            `json:"customer_id,omitempty"`
	Purpose           *InvoicePurpose  `json:"purpose,omitempty"`
	OrderID           *uint            `json:"order_id,omitempty"`
	Asset             *string          `json:"asset,omitempty"`
	Status            *InvoiceStatus   `json:"status,omitempty"`
	PaidAsset         *string          `json:"paid_asset,omitempty"`
	CreatedAfter      *time.Time       `json:"created_after,omitempty"`
	CreatedBefore     *time.Time       `json:"created_before,omitempty"`
	ExpiresAfter      *time.Time       `json:"expires_after,omitempty"`
	ExpiresBefore     *time.Time       `json:"expires_before,omitempty"`
	PaidAfter         *time.Time       `json:"paid_after,omitempty"`
	PaidBefore        *time.Time       `json:"paid_before,omitempty"`
}
