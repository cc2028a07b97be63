package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DepositEntry is an immutable ledger row recording one settled deposit.
// The unique index on the provider invoice id is the idempotency
// authority: a second insert for the same invoice fails instead of
// double-counting. Entries are never updated or deleted.
type DepositEntry struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID          uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`
	CorrelationID uuid.UUID `gorm:"type:uuid;index;not null" json:"correlation_id"`

	ProviderInvoiceID int64 `gorm:"not null;uniqueIndex" json:"provider_invoice_id"`
	CustomerID        uint  `gorm:"not null;index" json:"customer_id"`

	// Settled value (what the balance was credited with)
	Amount decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"amount"`
	Asset  string          `gorm:"type:varchar(16);not null;index" json:"asset"`

	// Provider fee taken out of the payment
	FeeAmount *decimal.Decimal `gorm:"type:numeric(20,8)" json:"fee_amount,omitempty"`
	FeeAsset  *string          `gorm:"type:varchar(16)" json:"fee_asset,omitempty"`

	// Originally requested value, kept for audit
	RequestedAmount decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"requested_amount"`
	RequestedAsset  string          `gorm:"type:varchar(16);not null" json:"requested_asset"`

	// Swap detail when the provider converted the paid asset
	IsSwapped   *bool            `gorm:"default:false" json:"is_swapped"`
	SwappedFrom *string          `gorm:"type:varchar(16)" json:"swapped_from,omitempty"`
	SwappedRate *decimal.Decimal `gorm:"type:numeric(20,8)" json:"swapped_rate,omitempty"`

	DepositedAt time.Time `gorm:"not null;index" json:"deposited_at"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`

	// Relationships
	Customer Customer `gorm:"foreignKey:CustomerID;constraint:OnDelete:CASCADE" json:"customer,omitempty"`
}

// BeforeCreate ensures UUID and CorrelationID are set
func (d *DepositEntry) BeforeCreate(tx *gorm.DB) error {
	if d.UUID == uuid.Nil {
		d.UUID = uuid.New()
	}
	if d.CorrelationID == uuid.Nil {
		d.CorrelationID = uuid.New()
	}
	return nil
}

// NetOfFee returns the settled amount minus the provider fee when the
// fee was charged in the settled asset, otherwise the settled amount.
func (d *DepositEntry) NetOfFee() decimal.Decimal {
	if d.FeeAmount != nil && d.FeeAsset != nil && *d.FeeAsset == d.Asset {
		return d.Amount.Sub(*d.FeeAmount)
	}
	return d.Amount
}

// DepositEntryFilter represents filter criteria for deposit entry queries
type DepositEntryFilter struct {
	ID                *uint       `json:"id,omitempty"`
	UUID              *uuid.UUID  `json:"uuid,omitempty"`
	CorrelationID     *uuid.UUID  `json:"correlation_id,omitempty"`
	ProviderInvoiceID *int64      `json:"provider_invoice_id,omitempty"`
	CustomerID        *uint       `json:"customer_id,omitempty"`
	Asset             *string     `json:"asset,omitempty"`
	DepositedAfter    *time.Time  `json:"deposited_after,omitempty"`
	DepositedBefore   *time.Time  `json:"deposited_before,omitempty"`
}
