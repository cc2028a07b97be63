// Package models contains domain entities and business models for the payment system
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Customer represents a chat-platform user known to the payment system.
// Rows are ensured (get-or-create by chat id) the first time a user
// touches a payment flow; profile management lives in the chat layer.
type Customer struct {
	ID     uint      `gorm:"primaryKey" json:"id"`
	UUID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_customers_uuid;index:idx_customers_uuid" json:"uuid"`
	ChatID int64     `gorm:"not null;uniqueIndex:uk_customers_chat_id;index:idx_customers_chat_id" json:"chat_id"`

	// Optional profile data mirrored from the chat platform
	Username  *string `gorm:"size:255" json:"username,omitempty"`
	FirstName *string `gorm:"size:255" json:"first_name,omitempty"`
	LastName  *string `gorm:"size:255" json:"last_name,omitempty"`

	IsActive *bool `gorm:"default:true;index:idx_customers_is_active" json:"is_active"`

	// Timestamps
	CreatedAt  time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_customers_created_at" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
	LastSeenAt *time.Time `gorm:"index:idx_customers_last_seen_at" json:"last_seen_at,omitempty"`

	// Relations
	Invoices         []Invoice         `gorm:"foreignKey:CustomerID" json:"-"`
	Orders           []Order           `gorm:"foreignKey:CustomerID" json:"-"`
	BalanceAccount   *BalanceAccount   `gorm:"foreignKey:CustomerID" json:"balance_account,omitempty"`
	DepositAggregate *DepositAggregate `gorm:"foreignKey:CustomerID" json:"deposit_aggregate,omitempty"`
	AuditLogs        []AuditLog        `gorm:"foreignKey:CustomerID" json:"-"`
}

func (Customer) TableName() string {
	return "customers"
}

// BeforeCreate ensures UUID is set
func (c *Customer) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	return nil
}

// DisplayName returns the best human-readable name available for the customer
func (c *Customer) DisplayName() string {
	if c.Username != nil && *c.Username != "" {
		return "@" + *c.Username
	}
	name := ""
	if c.FirstName != nil {
		name = *c.FirstName
	}
	if c.LastName != nil && *c.LastName != "" {
		if name != "" {
			name += " "
		}
		name += *c.LastName
	}
	return name
}

// CustomerFilter represents filter criteria for customer queries
type CustomerFilter struct {
	ID            *uint
	UUID          *uuid.UUID
	ChatID        *int64
	Username      *string
	IsActive      *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
