package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DepositAggregate holds per-customer deposit statistics. There is at
// most one row per customer and every field is derivable from that
// customer's deposit entries; the row exists so summaries never scan
// the ledger. It is maintained under a row lock inside the same
// transaction that inserts the entry.
type DepositAggregate struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID       uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`
	CustomerID uint      `gorm:"not null;uniqueIndex" json:"customer_id"`

	DepositsCount  int             `gorm:"not null;default:0" json:"deposits_count"`
	TotalDeposited decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"total_deposited"`
	TotalFeesPaid  decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"total_fees_paid"`

	// Per-asset running totals, stored as a jsonb map of asset to amount
	AssetsDeposited json.RawMessage `gorm:"type:jsonb;not null;default:'{}'" json:"assets_deposited"`

	FirstDepositAt *time.Time `json:"first_deposit_at,omitempty"`
	LastDepositAt  *time.Time `gorm:"index" json:"last_deposit_at,omitempty"`

	// Largest single deposit seen so far and the invoice that carried it
	LargestDepositAmount    *decimal.Decimal `gorm:"type:numeric(20,8)" json:"largest_deposit_amount,omitempty"`
	LargestDepositInvoiceID *int64           `json:"largest_deposit_invoice_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	// Relationships
	Customer Customer `gorm:"foreignKey:CustomerID;constraint:OnDelete:CASCADE" json:"customer,omitempty"`
}

// BeforeCreate ensures UUID is set
func (a *DepositAggregate) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == uuid.Nil {
		a.UUID = uuid.New()
	}
	return nil
}

// AssetTotals decodes the per-asset jsonb map
func (a *DepositAggregate) AssetTotals() (map[string]decimal.Decimal, error) {
	totals := make(map[string]decimal.Decimal)
	if len(a.AssetsDeposited) == 0 {
		return totals, nil
	}
	if err := json.Unmarshal(a.AssetsDeposited, &totals); err != nil {
		return nil, err
	}
	return totals, nil
}

// SetAssetTotals encodes the per-asset map back into the jsonb column
func (a *DepositAggregate) SetAssetTotals(totals map[string]decimal.Decimal) error {
	raw, err := json.Marshal(totals)
	if err != nil {
		return err
	}
	a.AssetsDeposited = raw
	return nil
}

// Absorb folds one settled deposit into the aggregate
func (a *DepositAggregate) Absorb(entry *DepositEntry, now time.Time) error {
	totals, err := a.AssetTotals()
	if err != nil {
		return err
	}
	totals[entry.Asset] = totals[entry.Asset].Add(entry.Amount)
	if err := a.SetAssetTotals(totals); err != nil {
		return err
	}

	a.DepositsCount++
	a.TotalDeposited = a.TotalDeposited.Add(entry.Amount)
	if entry.FeeAmount != nil {
		a.TotalFeesPaid = a.TotalFeesPaid.Add(*entry.FeeAmount)
	}
	if a.FirstDepositAt == nil {
		first := entry.DepositedAt
		a.FirstDepositAt = &first
	}
	last := entry.DepositedAt
	a.LastDepositAt = &last
	if a.LargestDepositAmount == nil || entry.Amount.GreaterThan(*a.LargestDepositAmount) {
		amount := entry.Amount
		invoiceID := entry.ProviderInvoiceID
		a.LargestDepositAmount = &amount
		a.LargestDepositInvoiceID = &invoiceID
	}
	a.UpdatedAt = now
	return nil
}

// DepositAggregateFilter represents filter criteria for aggregate queries
type DepositAggregateFilter struct {
	ID               *uint      `json:"id,omitempty"`
	UUID             *uuid.UUID `json:"uuid,omitempty"`
	CustomerID       *uint      `json:"customer_id,omitempty"`
	LastDepositAfter *time.Time `json:"last_deposit_after,omitempty"`
}
