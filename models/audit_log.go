package models

import (
	"encoding/json"
	"time"
)

type AuditLog struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	CustomerID   *uint           `gorm:"index:idx_audit_customer_id" json:"customer_id,omitempty"`
	Customer     *Customer       `gorm:"foreignKey:CustomerID;references:ID" json:"customer,omitempty"`
	Action       string          `gorm:"size:64;not null;index:idx_audit_action" json:"action"`
	Description  *string         `gorm:"type:text" json:"description,omitempty"`
	IPAddress    *string         `gorm:"type:inet;index:idx_audit_ip_address" json:"ip_address,omitempty"`
	UserAgent    *string         `gorm:"type:text" json:"user_agent,omitempty"`
	RequestID    *string         `gorm:"size:255;index:idx_audit_request_id" json:"request_id,omitempty"`
	Metadata     json.RawMessage `gorm:"type:jsonb;index:idx_audit_metadata,type:gin" json:"metadata,omitempty"`
	Success      *bool           `gorm:"default:true;index:idx_audit_success" json:"success"`
	ErrorMessage *string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time       `gorm:"default:CURRENT_TIMESTAMP;index:idx_audit_created_at" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}

// Audit action constants
const (
	AuditActionBotLoginSuccessful    = "bot_login_successful"
	AuditActionBotLoginFailed        = "bot_login_failed"
	AuditActionInvoiceCreated        = "invoice_created"
	AuditActionInvoiceCancelled      = "invoice_cancelled"
	AuditActionInvoiceExpired        = "invoice_expired"
	AuditActionInvoicePaid           = "invoice_paid"
	AuditActionDepositCredited       = "deposit_credited"
	AuditActionOrderCreated          = "order_created"
	AuditActionOrderPaid             = "order_paid"
	AuditActionOrderRefunded         = "order_refunded"
	AuditActionCheckoutFailed        = "checkout_failed"
	AuditActionWebhookProcessed      = "webhook_processed"
	AuditActionWebhookRejected       = "webhook_rejected"
	AuditActionPaymentConflict       = "payment_conflict"
	AuditActionNotificationDelivered = "notification_delivered"
)

// AuditLogFilter represents filter criteria for audit log queries
type AuditLogFilter struct {
	ID            *uint
	CustomerID    *uint
	Action        *string
	Success       *bool
	IPAddress     *string
	RequestID     *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

func (a *AuditLog) IsFailed() bool {
	return a.Success != nil && !*a.Success
}

// IsMoneyEvent returns true for actions that moved customer money
func (a *AuditLog) IsMoneyEvent() bool {
	moneyActions := map[string]bool{
		AuditActionDepositCredited: true,
		AuditActionOrderPaid:       true,
		AuditActionOrderRefunded:   true,
		AuditActionCheckoutFailed:  true,
		AuditActionPaymentConflict: true,
	}
	return moneyActions[a.Action]
}
