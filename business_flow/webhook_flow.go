package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/amirphl/Kusanagi/app/services"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/repository"
	"github.com/amirphl/Kusanagi/utils"
	"gorm.io/gorm"
)

// UpdateTypeInvoicePaid is the only provider update type this service acts on
const UpdateTypeInvoicePaid = "invoice_paid"

// WebhookFlow defines the provider delivery entry point
type WebhookFlow interface {
	// Receive verifies, records and processes one raw provider
	// delivery. A returned error means the delivery was rejected
	// (signature, parse) or must be redelivered (transient failure);
	// every other outcome lands in the receipt.
	Receive(ctx context.Context, rawBody []byte, signature string, metadata *ClientMetadata) (*WebhookReceipt, error)
}

// WebhookReceipt reports what one delivery amounted to
type WebhookReceipt struct {
	UpdateID   int64
	UpdateType string
	Status     models.WebhookEventStatus
}

// WebhookFlowImpl implements WebhookFlow
type WebhookFlowImpl struct {
	eventRepo   repository.WebhookEventRepository
	provider    services.PaymentProvider
	replayGuard services.ReplayGuard
	reconciler  ReconcileFlow
	db          *gorm.DB
}

func NewWebhookFlow(
	eventRepo repository.WebhookEventRepository,
	provider services.PaymentProvider,
	replayGuard services.ReplayGuard,
	reconciler ReconcileFlow,
	db *gorm.DB,
) WebhookFlow {
	return &WebhookFlowImpl{
		eventRepo:   eventRepo,
		provider:    provider,
		replayGuard: replayGuard,
		reconciler:  reconciler,
		db:          db,
	}
}

func (f *WebhookFlowImpl) Receive(ctx context.Context, rawBody []byte, signature string, metadata *ClientMetadata) (*WebhookReceipt, error) {
	if signature == "" || !f.provider.VerifyWebhookSignature(rawBody, signature) {
		return nil, NewBusinessError("WEBHOOK_SIGNATURE_INVALID", "Delivery signature does not verify", ErrInvalidSignature)
	}

	var update services.WebhookUpdate
	if err := json.Unmarshal(rawBody, &update); err != nil {
		return nil, NewBusinessError("WEBHOOK_PAYLOAD_MALFORMED", "Delivery envelope does not parse", fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	if update.UpdateID == 0 || update.UpdateType == "" {
		return nil, NewBusinessError("WEBHOOK_PAYLOAD_MALFORMED", "Delivery envelope misses update id or type", ErrMalformedPayload)
	}

	receipt := &WebhookReceipt{UpdateID: update.UpdateID, UpdateType: update.UpdateType}

	// Fast duplicate check; the unique index on the event row is the
	// authority when the guard is cold or unavailable
	if f.replayGuard != nil && f.replayGuard.Seen(ctx, f.provider.Name(), update.UpdateID) {
		receipt.Status = models.WebhookEventStatusDuplicate
		return receipt, nil
	}

	event := &models.WebhookEvent{
		Provider:         f.provider.Name(),
		ProviderUpdateID: update.UpdateID,
		UpdateType:       update.UpdateType,
		RawPayload:       rawBody,
		Status:           models.WebhookEventStatusReceived,
		ReceivedAt:       utils.UTCNow(),
	}
	if err := f.eventRepo.Save(ctx, event); err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, NewBusinessError("WEBHOOK_PERSIST_FAILED", "Failed to record delivery", err)
		}
		existing, rerr := f.eventRepo.ByProviderUpdateID(ctx, f.provider.Name(), update.UpdateID)
		if rerr != nil || existing == nil {
			return nil, NewBusinessError("WEBHOOK_PERSIST_FAILED", "Failed to reload recorded delivery", rerr)
		}
		if existing.IsSettled() {
			f.remember(ctx, update.UpdateID)
			receipt.Status = models.WebhookEventStatusDuplicate
			return receipt, nil
		}
		// A prior attempt stalled before settling; run it again
		event = existing
	}

	if update.UpdateType != UpdateTypeInvoicePaid {
		f.settle(ctx, event, models.WebhookEventStatusUnhandled, nil)
		receipt.Status = models.WebhookEventStatusUnhandled
		return receipt, nil
	}

	var prov services.ProviderInvoice
	if err := json.Unmarshal(update.Payload, &prov); err != nil || prov.InvoiceID == 0 {
		// The envelope was valid but the payload names nothing usable;
		// redelivery would not improve it
		f.settle(ctx, event, models.WebhookEventStatusDiscarded, utils.ToPtr("payload does not decode to an invoice"))
		receipt.Status = models.WebhookEventStatusDiscarded
		return receipt, nil
	}

	details := PaymentDetailsFromProvider(&prov)
	result, err := f.reconciler.ApplyPaidInvoice(ctx, prov.InvoiceID, details)

	status, processingError, transient := classifyApplyOutcome(result, err)
	if transient {
		f.markFailed(ctx, event, processingError)
		return nil, NewBusinessError("WEBHOOK_PROCESSING_FAILED", "Delivery processing failed, expecting redelivery", err)
	}

	f.settle(ctx, event, status, processingError)
	receipt.Status = status
	return receipt, nil
}

// classifyApplyOutcome maps the reconciler's verdict onto a delivery
// status. Transient outcomes leave the replay guard unset so the
// provider's redelivery retries the whole delivery.
func classifyApplyOutcome(result *ApplyResult, err error) (status models.WebhookEventStatus, processingError *string, transient bool) {
	if err == nil {
		switch result.Outcome {
		case ApplyOutcomeDuplicate:
			return models.WebhookEventStatusDuplicate, nil, false
		default:
			return models.WebhookEventStatusProcessed, nil, false
		}
	}

	msg := err.Error()
	switch {
	case IsInvoiceNotFound(err):
		return models.WebhookEventStatusDiscarded, &msg, false
	case IsConflictingPayment(err), IsInvoiceNotPending(err):
		return models.WebhookEventStatusConflict, &msg, false
	default:
		return models.WebhookEventStatusFailed, &msg, true
	}
}

// settle records a terminal outcome and remembers the delivery in the
// replay guard
func (f *WebhookFlowImpl) settle(ctx context.Context, event *models.WebhookEvent, status models.WebhookEventStatus, processingError *string) {
	if err := f.eventRepo.SetOutcome(ctx, event.ID, status, processingError, utils.UTCNow()); err != nil {
		log.Printf("failed to record outcome %s for delivery %d: %v", status, event.ProviderUpdateID, err)
	}
	f.remember(ctx, event.ProviderUpdateID)
}

func (f *WebhookFlowImpl) markFailed(ctx context.Context, event *models.WebhookEvent, processingError *string) {
	if err := f.eventRepo.SetOutcome(ctx, event.ID, models.WebhookEventStatusFailed, processingError, utils.UTCNow()); err != nil {
		log.Printf("failed to record failure for delivery %d: %v", event.ProviderUpdateID, err)
	}
}

func (f *WebhookFlowImpl) remember(ctx context.Context, updateID int64) {
	if f.replayGuard == nil {
		return
	}
	if err := f.replayGuard.Remember(ctx, f.provider.Name(), updateID); err != nil {
		log.Printf("replay guard could not remember delivery %d: %v", updateID, err)
	}
}
