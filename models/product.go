package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is a purchasable item. Stock only moves through conditional
// decrements and compensating restores, never through direct writes.
type Product struct {
	ID   uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`

	Name        string `gorm:"size:255;not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`

	Price decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"price"`
	Stock int             `gorm:"not null;default:0" json:"stock"`

	IsActive *bool `gorm:"default:true;index" json:"is_active"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// BeforeCreate ensures UUID is set
func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.UUID == uuid.Nil {
		p.UUID = uuid.New()
	}
	return nil
}

// InStock returns true if the product can cover the requested quantity
func (p *Product) InStock(quantity int) bool {
	return p.Stock >= quantity
}

// IsPurchasable returns true if the product is active and has stock
func (p *Product) IsPurchasable() bool {
	return p.IsActive != nil && *p.IsActive && p.Stock > 0
}

// ProductFilter represents filter criteria for product queries
type ProductFilter struct {
	ID       *uint      `json:"id,omitempty"`
	UUID     *uuid.UUID `json:"uuid,omitempty"`
	Name     *string    `json:"name,omitempty"`
	IsActive *bool      `json:"is_active,omitempty"`
}
