package dto

// CheckoutItem is one cart line
type CheckoutItem struct {
	ProductUUID string `json:"product_uuid" validate:"required,uuid4"`
	Quantity    int    `json:"quantity" validate:"required,gte=1"`
}

// CheckoutRequest creates an order from a cart and starts payment.
// With payment_method balance the order settles immediately from the
// customer's balance; with crypto a provider invoice comes back and the
// order settles when that invoice is paid.
type CheckoutRequest struct {
	ChatID          int64          `json:"chat_id" validate:"required"`
	Items           []CheckoutItem `json:"items" validate:"required,min=1,dive"`
	PaymentMethod   string         `json:"payment_method" validate:"required,oneof=balance crypto"`
	Asset           string         `json:"asset" validate:"omitempty,uppercase,min=2,max=16"`
	DeliveryAddress *string        `json:"delivery_address,omitempty" validate:"omitempty,max=1000"`
	Comment         *string        `json:"comment,omitempty" validate:"omitempty,max=1000"`
}

// OrderItemDTO is the API shape of one order line
type OrderItemDTO struct {
	ProductUUID string `json:"product_uuid"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
}

// OrderDTO is the API shape of an order
type OrderDTO struct {
	UUID          string         `json:"uuid"`
	Status        string         `json:"status"`
	TotalAmount   string         `json:"total_amount"`
	PaymentMethod string         `json:"payment_method,omitempty"`
	PaymentRef    *string        `json:"payment_ref,omitempty"`
	Items         []OrderItemDTO `json:"items,omitempty"`
	CreatedAt     string         `json:"created_at"`
	PaidAt        *string        `json:"paid_at,omitempty"`
	RefundedAt    *string        `json:"refunded_at,omitempty"`
}

// CheckoutResponse returns the order plus the payment outcome: the new
// balance for balance payments, the invoice to pay for crypto payments
type CheckoutResponse struct {
	Order   OrderDTO    `json:"order"`
	Invoice *InvoiceDTO `json:"invoice,omitempty"`
	Balance *string     `json:"balance,omitempty"`
}

// GetOrderRequest fetches one order for a customer
type GetOrderRequest struct {
	ChatID    int64  `json:"-"`
	OrderUUID string `json:"-"`
}

// RefundOrderRequest returns a paid order's money to the balance
type RefundOrderRequest struct {
	ChatID    int64  `json:"chat_id" validate:"required"`
	OrderUUID string `json:"-"`
}

// RefundOrderResponse returns the refunded order and the new balance
type RefundOrderResponse struct {
	Order   OrderDTO `json:"order"`
	Balance string   `json:"balance"`
}
