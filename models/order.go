package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"    // Created, waiting for payment
	OrderStatusPaid       OrderStatus = "paid"       // Payment settled
	OrderStatusProcessing OrderStatus = "processing" // Being prepared for fulfillment
	OrderStatusShipped    OrderStatus = "shipped"    // Handed to delivery
	OrderStatusDelivered  OrderStatus = "delivered"  // Received by the customer
	OrderStatusCancelled  OrderStatus = "cancelled"  // Cancelled before payment
	OrderStatusRefunded   OrderStatus = "refunded"   // Paid then refunded to balance
)

// Payment method constants. Crypto methods carry the asset as a suffix.
const (
	PaymentMethodBalance      = "balance"
	PaymentMethodCryptoPrefix = "crypto_"
)

// CryptoPaymentMethod returns the payment method string for a crypto asset
func CryptoPaymentMethod(asset string) string {
	return PaymentMethodCryptoPrefix + asset
}

// Order represents a customer purchase. The paid transition happens
// exactly once: either at checkout (balance payments) or when the
// reconciler applies a paid order_payment invoice (crypto payments).
type Order struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID          uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`
	CorrelationID uuid.UUID `gorm:"type:uuid;index;not null" json:"correlation_id"`

	CustomerID uint        `gorm:"not null;index" json:"customer_id"`
	Status     OrderStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	TotalAmount decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"total_amount"`

	// How the order was (or will be) paid
	PaymentMethod string  `gorm:"type:varchar(32)" json:"payment_method"`
	PaymentRef    *string `gorm:"type:varchar(255);index" json:"payment_ref,omitempty"` // Provider invoice id for crypto payments

	DeliveryAddress *string `gorm:"type:text" json:"delivery_address,omitempty"`
	Comment         *string `gorm:"type:text" json:"comment,omitempty"`

	CreatedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	PaidAt     *time.Time `gorm:"index" json:"paid_at,omitempty"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`

	// Relationships
	Customer Customer    `gorm:"foreignKey:CustomerID;constraint:OnDelete:CASCADE" json:"customer,omitempty"`
	Items    []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

// BeforeCreate ensures UUID and CorrelationID are set
func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.UUID == uuid.Nil {
		o.UUID = uuid.New()
	}
	if o.CorrelationID == uuid.Nil {
		o.CorrelationID = uuid.New()
	}
	return nil
}

// IsPending returns true if the order is waiting for payment
func (o *Order) IsPending() bool {
	return o.Status == OrderStatusPending
}

// IsPaid returns true once payment has settled, including later
// fulfillment states
func (o *Order) IsPaid() bool {
	switch o.Status {
	case OrderStatusPaid, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered:
		return true
	}
	return false
}

// IsFinal returns true if the order can no longer change state
func (o *Order) IsFinal() bool {
	return o.Status == OrderStatusDelivered ||
		o.Status == OrderStatusCancelled ||
		o.Status == OrderStatusRefunded
}

// CanBeRefunded returns true if the order holds settled money that can
// be returned to the customer's balance
func (o *Order) CanBeRefunded() bool {
	switch o.Status {
	case OrderStatusPaid, OrderStatusProcessing, OrderStatusShipped:
		return true
	}
	return false
}

// PaidWithBalance returns true if the order was paid from the internal balance
func (o *Order) PaidWithBalance() bool {
	return o.PaymentMethod == PaymentMethodBalance
}

// PaidWithCrypto returns true if the order was paid through the provider
func (o *Order) PaidWithCrypto() bool {
	return strings.HasPrefix(o.PaymentMethod, PaymentMethodCryptoPrefix)
}

// OrderItem is a line of an order, priced at purchase time
type OrderItem struct {
	ID        uint `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   uint `gorm:"not null;index" json:"order_id"`
	ProductID uint `gorm:"not null;index" json:"product_id"`

	Quantity  int             `gorm:"not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"unit_price"` // Price at purchase time

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`

	// Relationships
	Product Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

// Subtotal returns quantity times the captured unit price
func (i *OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderFilter represents filter criteria for order queries
type OrderFilter struct {
	ID            *uint        `json:"id,omitempty"`
	UUID          *uuid.UUID   `json:"uuid,omitempty"`
	CorrelationID *uuid.UUID   `json:"correlation_id,omitempty"`
	CustomerID    *uint        `json:"customer_id,omitempty"`
	Status        *OrderStatus `json:"status,omitempty"`
	PaymentMethod *string      `json:"payment_method,omitempty"`
	PaymentRef    *string      `json:"payment_ref,omitempty"`
	CreatedAfter  *time.Time   `json:"created_after,omitempty"`
	CreatedBefore *time.Time   `json:"created_before,omitempty"`
	PaidAfter     *time.Time   `json:"paid_after,omitempty"`
	PaidBefore    *time.Time   `json:"paid_before,omitempty"`
}
