package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BalanceAccount holds a customer's spendable balance. The balance
// column is mutated only through atomic SQL increments and guarded
// decrements; application code never writes a computed value into it.
type BalanceAccount struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID       uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`
	CustomerID uint      `gorm:"not null;uniqueIndex" json:"customer_id"`

	Balance decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"balance"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	// Relationships
	Customer Customer `gorm:"foreignKey:CustomerID;constraint:OnDelete:CASCADE" json:"customer,omitempty"`
}

// BeforeCreate ensures UUID is set
func (b *BalanceAccount) BeforeCreate(tx *gorm.DB) error {
	if b.UUID == uuid.Nil {
		b.UUID = uuid.New()
	}
	return nil
}

// CanCover returns true if the balance covers the given amount
func (b *BalanceAccount) CanCover(amount decimal.Decimal) bool {
	return b.Balance.GreaterThanOrEqual(amount)
}

// BalanceAccountFilter represents filter criteria for balance account queries
type BalanceAccountFilter struct {
	ID         *uint      `json:"id,omitempty"`
	UUID       *uuid.UUID `json:"uuid,omitempty"`
	CustomerID *uint      `json:"customer_id,omitempty"`
}
