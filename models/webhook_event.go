package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookEventStatus represents the outcome of handling one delivery
type WebhookEventStatus string

const (
	WebhookEventStatusReceived  WebhookEventStatus = "received"  // Stored, not yet handled
	WebhookEventStatusProcessed WebhookEventStatus = "processed" // Handled to completion
	WebhookEventStatusDuplicate WebhookEventStatus = "duplicate" // Redelivery of an already-settled update
	WebhookEventStatusUnhandled WebhookEventStatus = "unhandled" // Update type this service does not act on
	WebhookEventStatusDiscarded WebhookEventStatus = "discarded" // Payload referenced nothing we track
	WebhookEventStatusConflict  WebhookEventStatus = "conflict"  // Contradicted recorded payment facts
	WebhookEventStatusFailed    WebhookEventStatus = "failed"    // Transient error, provider may redeliver
)

// WebhookEvent records one signature-valid provider delivery. The
// unique index on (provider, provider_update_id) is the durable dedup
// layer behind the cache-based replay guard. Deliveries that fail the
// signature check are rejected before reaching this table.
type WebhookEvent struct {
	ID   uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`

	Provider         string `gorm:"type:varchar(32);not null;uniqueIndex:uk_webhook_events_provider_update,priority:1" json:"provider"`
	ProviderUpdateID int64  `gorm:"not null;uniqueIndex:uk_webhook_events_provider_update,priority:2" json:"provider_update_id"`

	UpdateType string          `gorm:"type:varchar(64);not null;index" json:"update_type"`
	RawPayload json.RawMessage `gorm:"type:jsonb;not null" json:"raw_payload"`

	Status          WebhookEventStatus `gorm:"type:varchar(20);not null;default:'received';index" json:"status"`
	ProcessingError *string            `gorm:"type:text" json:"processing_error,omitempty"`

	ReceivedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// BeforeCreate ensures UUID is set
func (e *WebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if e.UUID == uuid.Nil {
		e.UUID = uuid.New()
	}
	return nil
}

// IsSettled returns true once the delivery reached a terminal outcome
func (e *WebhookEvent) IsSettled() bool {
	return e.Status != WebhookEventStatusReceived && e.Status != WebhookEventStatusFailed
}

// WebhookEventFilter represents filter criteria for webhook event queries
type WebhookEventFilter struct {
	ID               *uint               `json:"id,omitempty"`
	UUID             *uuid.UUID          `json:"uuid,omitempty"`
	Provider         *string             `json:"provider,omitempty"`
	ProviderUpdateID *int64              `json:"provider_update_id,omitempty"`
	UpdateType       *string             `json:"update_type,omitempty"`
	Status           *WebhookEventStatus `json:"status,omitempty"`
	ReceivedAfter    *time.Time          `json:"received_after,omitempty"`
	ReceivedBefore   *time.Time          `json:"received_before,omitempty"`
}
