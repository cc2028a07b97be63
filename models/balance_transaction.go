package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BalanceTransactionType represents the kind of balance mutation
type BalanceTransactionType string

const (
	BalanceTransactionTypeDepositCredit  BalanceTransactionType = "deposit_credit"  // Settled deposit credited to balance
	BalanceTransactionTypeCheckoutDebit  BalanceTransactionType = "checkout_debit"  // Balance spent on an order
	BalanceTransactionTypeCheckoutRefund BalanceTransactionType = "checkout_refund" // Debit compensated after a failed checkout step
	BalanceTransactionTypeOrderRefund    BalanceTransactionType = "order_refund"    // Paid order refunded to balance
)

// BalanceTransaction is an immutable audit row written for every
// balance mutation, carrying the observed before and after values.
type BalanceTransaction struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID          uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`
	CorrelationID uuid.UUID `gorm:"type:uuid;index;not null" json:"correlation_id"` // Links related records

	CustomerID uint                   `gorm:"not null;index" json:"customer_id"`
	Type       BalanceTransactionType `gorm:"type:varchar(20);not null;index" json:"type"`

	Amount        decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"balance_after"`

	// Reference identifies the cause: a provider invoice id or an order uuid
	Reference   string          `gorm:"type:varchar(255);index" json:"reference"`
	Description string          `gorm:"type:text" json:"description"`
	Metadata    json.RawMessage `gorm:"type:jsonb;default:'{}'" json:"metadata"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`

	// Relationships
	Customer Customer `gorm:"foreignKey:CustomerID;constraint:OnDelete:CASCADE" json:"customer,omitempty"`
}

// BeforeCreate ensures UUID and CorrelationID are set
func (t *BalanceTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.UUID == uuid.Nil {
		t.UUID = uuid.New()
	}
	if t.CorrelationID == uuid.Nil {
		t.CorrelationID = uuid.New()
	}
	return nil
}

// IsCredit returns true for mutation types that increase the balance
func (t *BalanceTransaction) IsCredit() bool {
	return t.Type == BalanceTransactionTypeDepositCredit ||
		t.Type == BalanceTransactionTypeCheckoutRefund ||
		t.Type == BalanceTransactionTypeOrderRefund
}

// BalanceTransactionFilter represents filter criteria for balance transaction queries
type BalanceTransactionFilter struct {
	ID            *uint                   `json:"id,omitempty"`
	UUID          *uuid.UUID              `json:"uuid,omitempty"`
	CorrelationID *uuid.UUID              `json:"correlation_id,omitempty"`
	CustomerID    *uint                   `json:"customer_id,omitempty"`
	Type          *BalanceTransactionType `json:"type,omitempty"`
	Reference     *string                 `json:"reference,omitempty"`
	CreatedAfter  *time.Time              `json:"created_after,omitempty"`
	CreatedBefore *time.Time              `json:"created_before,omitempty"`
}
