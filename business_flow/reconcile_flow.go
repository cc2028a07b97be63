package businessflow

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/amirphl/Kusanagi/app/services"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/repository"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ApplyOutcome says what a paid notification did to the stored invoice
type ApplyOutcome string

const (
	// ApplyOutcomeSettled means this call moved the invoice to paid
	ApplyOutcomeSettled ApplyOutcome = "settled"
	// ApplyOutcomeDuplicate means an identical payment was already recorded
	ApplyOutcomeDuplicate ApplyOutcome = "duplicate"
)

// ApplyResult reports the outcome of applying one paid notification
type ApplyResult struct {
	Outcome ApplyOutcome
	Invoice *models.Invoice
}

// PaidInvoiceApplier hands a provider-reported payment to the
// reconciler. Declared separately so callers that only apply payments
// do not depend on the sweep operations.
type PaidInvoiceApplier interface {
	ApplyPaidInvoice(ctx context.Context, providerInvoiceID int64, details models.PaymentDetails) (*ApplyResult, error)
}

// ReconcileFlow turns provider payment reports into settled local
// state: the paid invoice row, the deposit ledger and balance for
// deposits, the order transition for order payments, and the customer
// notification. Every step is idempotent so deliveries, provider polls
// and the retry sweep can overlap safely.
type ReconcileFlow interface {
	PaidInvoiceApplier
	// HandlePaidEvent drives the full settlement state machine for one
	// paid notification.
	HandlePaidEvent(ctx context.Context, providerInvoiceID int64, details models.PaymentDetails) (*ApplyResult, error)
	// SweepExpired moves lapsed pending invoices to expired
	SweepExpired(ctx context.Context) (int64, error)
	// RetryPendingEffects re-runs settlement effects for paid invoices
	// that still carry an unapplied effect marker. Returns how many
	// invoices were completed.
	RetryPendingEffects(ctx context.Context, limit int) (int, error)
}

// ReconcileFlowImpl implements ReconcileFlow
type ReconcileFlowImpl struct {
	invoiceRepo   repository.InvoiceRepository
	customerRepo  repository.CustomerRepository
	orderRepo     repository.OrderRepository
	balanceRepo   repository.BalanceAccountRepository
	balanceTxRepo repository.BalanceTransactionRepository
	auditRepo     repository.AuditLogRepository
	depositFlow   DepositFlow
	checkoutFlow  CheckoutFlow
	notifier      services.NotificationService
	clock         utils.Clock
	db            *gorm.DB
}

func NewReconcileFlow(
	invoiceRepo repository.InvoiceRepository,
	customerRepo repository.CustomerRepository,
	orderRepo repository.OrderRepository,
	balanceRepo repository.BalanceAccountRepository,
	balanceTxRepo repository.BalanceTransactionRepository,
	auditRepo repository.AuditLogRepository,
	depositFlow DepositFlow,
	checkoutFlow CheckoutFlow,
	notifier services.NotificationService,
	clock utils.Clock,
	db *gorm.DB,
) ReconcileFlow {
	if clock == nil {
		clock = utils.NewSystemClock()
	}
	return &ReconcileFlowImpl{
		invoiceRepo:   invoiceRepo,
		customerRepo:  customerRepo,
		orderRepo:     orderRepo,
		balanceRepo:   balanceRepo,
		balanceTxRepo: balanceTxRepo,
		auditRepo:     auditRepo,
		depositFlow:   depositFlow,
		checkoutFlow:  checkoutFlow,
		notifier:      notifier,
		clock:         clock,
		db:            db,
	}
}

// PaymentDetailsFromProvider extracts the settlement fields from a
// provider invoice object
func PaymentDetailsFromProvider(p *services.ProviderInvoice) models.PaymentDetails {
	details := models.PaymentDetails{
		PaidUSDRate:   p.PaidUSDRate,
		FeeAmount:     p.FeeAmount,
		FeeAsset:      p.FeeAsset,
		IsSwapped:     p.IsSwapped,
		SwappedTo:     p.SwappedTo,
		SwappedAmount: p.SwappedOutput,
		SwappedRate:   p.SwappedRate,
		PaidAt:        utils.UTCNow(),
	}
	if p.PaidAmount != nil {
		details.PaidAmount = *p.PaidAmount
	} else {
		details.PaidAmount = p.Amount
	}
	if p.PaidAsset != nil {
		details.PaidAsset = *p.PaidAsset
	} else {
		details.PaidAsset = p.Asset
	}
	if p.PaidAt != nil {
		if paidAt, err := time.Parse(time.RFC3339, *p.PaidAt); err == nil {
			details.PaidAt = paidAt.UTC()
		}
	}
	return details
}

func (f *ReconcileFlowImpl) ApplyPaidInvoice(ctx context.Context, providerInvoiceID int64, details models.PaymentDetails) (*ApplyResult, error) {
	return f.HandlePaidEvent(ctx, providerInvoiceID, details)
}

func (f *ReconcileFlowImpl) HandlePaidEvent(ctx context.Context, providerInvoiceID int64, details models.PaymentDetails) (*ApplyResult, error) {
	invoice, err := f.invoiceRepo.ByProviderInvoiceID(ctx, providerInvoiceID)
	if err != nil {
		return nil, NewBusinessError("INVOICE_LOOKUP_FAILED", "Failed to lookup invoice", err)
	}
	if invoice == nil {
		// Never fabricate state for an invoice this service did not issue
		log.Printf("paid event for unknown invoice %d discarded", providerInvoiceID)
		return nil, NewBusinessError("INVOICE_NOT_FOUND", "No such invoice", ErrInvoiceNotFound)
	}

	if result, err := f.classifySettled(ctx, invoice, details); result != nil || err != nil {
		return result, err
	}

	// Record the settlement before any side effect. A crash after this
	// commit leaves a paid invoice with unapplied markers for the retry
	// sweep to finish.
	marked, err := f.invoiceRepo.MarkPaid(ctx, providerInvoiceID, details)
	if err != nil {
		return nil, NewBusinessError("INVOICE_MARK_PAID_FAILED", "Failed to record settlement", err)
	}
	if !marked {
		// Lost the settle race; the re-read tells which way it went
		invoice, err = f.invoiceRepo.ByProviderInvoiceID(ctx, providerInvoiceID)
		if err != nil {
			return nil, NewBusinessError("INVOICE_LOOKUP_FAILED", "Failed to reload invoice", err)
		}
		if invoice == nil {
			return nil, NewBusinessError("INVOICE_NOT_FOUND", "No such invoice", ErrInvoiceNotFound)
		}
		if result, err := f.classifySettled(ctx, invoice, details); result != nil || err != nil {
			return result, err
		}
		return nil, NewBusinessError("INVOICE_NOT_PENDING", "Invoice left pending state mid-settlement", ErrInvoiceNotPending)
	}

	invoice, err = f.invoiceRepo.ByProviderInvoiceID(ctx, providerInvoiceID)
	if err != nil || invoice == nil {
		return nil, NewBusinessError("INVOICE_LOOKUP_FAILED", "Failed to reload settled invoice", err)
	}

	if err := f.completeEffects(ctx, invoice); err != nil {
		// The invoice is paid; the sweep retries the effects
		return nil, NewBusinessError("SETTLEMENT_EFFECTS_FAILED", "Settlement recorded but effects pending", err)
	}

	return &ApplyResult{Outcome: ApplyOutcomeSettled, Invoice: invoice}, nil
}

// classifySettled resolves events against invoices that already left
// the pending state. Returns (nil, nil) when the invoice is still
// payable.
func (f *ReconcileFlowImpl) classifySettled(ctx context.Context, invoice *models.Invoice, details models.PaymentDetails) (*ApplyResult, error) {
	switch invoice.Status {
	case models.InvoiceStatusPending:
		return nil, nil
	case models.InvoiceStatusPaid:
		if invoice.SamePayment(details) {
			return &ApplyResult{Outcome: ApplyOutcomeDuplicate, Invoice: invoice}, nil
		}
		f.reportConflict(ctx, invoice, fmt.Sprintf(
			"paid invoice %d received conflicting payment details: recorded %s, reported %s %s",
			invoice.ProviderInvoiceID, recordedPayment(invoice), details.PaidAmount.String(), details.PaidAsset))
		return nil, NewBusinessError("CONFLICTING_PAYMENT", "Payment details contradict the recorded settlement", ErrConflictingPayment)
	default:
		// Money arrived for an expired or cancelled invoice; needs a human
		f.reportConflict(ctx, invoice, fmt.Sprintf(
			"%s invoice %d received a payment of %s %s",
			invoice.Status, invoice.ProviderInvoiceID, details.PaidAmount.String(), details.PaidAsset))
		return nil, NewBusinessError("INVOICE_NOT_PENDING", "Invoice is not payable anymore", ErrInvoiceNotPending)
	}
}

func recordedPayment(invoice *models.Invoice) string {
	if invoice.PaidAmount == nil || invoice.PaidAsset == nil {
		return "nothing"
	}
	return invoice.PaidAmount.String() + " " + *invoice.PaidAsset
}

func (f *ReconcileFlowImpl) reportConflict(ctx context.Context, invoice *models.Invoice, description string) {
	log.Printf("PAYMENT CONFLICT: %s", description)
	customer, err := f.customerRepo.ByID(ctx, invoice.CustomerID)
	if err != nil {
		log.Printf("conflict audit for invoice %d could not load customer: %v", invoice.ProviderInvoiceID, err)
	}
	if err := logAuditEvent(ctx, f.auditRepo, customer, models.AuditActionPaymentConflict, description, false, utils.ToPtr(description), nil); err != nil {
		log.Printf("failed to record conflict audit for invoice %d: %v", invoice.ProviderInvoiceID, err)
	}
}

// completeEffects runs every outstanding settlement effect for a paid
// invoice. Each effect guards on its own marker, so partial completion
// resumes where it stopped.
func (f *ReconcileFlowImpl) completeEffects(ctx context.Context, invoice *models.Invoice) error {
	switch invoice.Purpose {
	case models.InvoicePurposeDeposit:
		if invoice.LedgerAppliedAt == nil {
			if err := f.applyDepositEffects(ctx, invoice); err != nil {
				return fmt.Errorf("deposit effects for invoice %d: %w", invoice.ProviderInvoiceID, err)
			}
		}
	case models.InvoicePurposeOrderPayment:
		if invoice.OrderAppliedAt == nil {
			if err := f.applyOrderEffects(ctx, invoice); err != nil {
				return fmt.Errorf("order effects for invoice %d: %w", invoice.ProviderInvoiceID, err)
			}
		}
	default:
		return fmt.Errorf("invoice %d has unknown purpose %q", invoice.ProviderInvoiceID, invoice.Purpose)
	}

	if invoice.NotifiedAt == nil {
		f.notifyAndMark(ctx, invoice)
	}
	return nil
}

// applyDepositEffects appends the ledger entry, credits the balance and
// sets the ledger marker in one transaction. The append reports whether
// it inserted, and only an insert credits the balance, so a re-run
// after a partial failure cannot double-credit.
func (f *ReconcileFlowImpl) applyDepositEffects(ctx context.Context, invoice *models.Invoice) error {
	return repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		result, err := f.depositFlow.AppendEntry(txCtx, invoice)
		if err != nil {
			return err
		}

		if result.Appended {
			settledAmount, settledAsset := invoice.SettledAmount()
			newBalance, err := f.balanceRepo.Credit(txCtx, invoice.CustomerID, settledAmount)
			if err != nil {
				return err
			}

			balanceTx := &models.BalanceTransaction{
				CustomerID:    invoice.CustomerID,
				Type:          models.BalanceTransactionTypeDepositCredit,
				Amount:        settledAmount,
				BalanceBefore: newBalance.Sub(settledAmount),
				BalanceAfter:  newBalance,
				Reference:     strconv.FormatInt(invoice.ProviderInvoiceID, 10),
				Description:   fmt.Sprintf("Deposit of %s %s via invoice %d", settledAmount.String(), settledAsset, invoice.ProviderInvoiceID),
			}
			if err := f.balanceTxRepo.Save(txCtx, balanceTx); err != nil {
				return err
			}

			log.Printf("deposit settled: invoice=%d customer=%d amount=%s %s balance=%s",
				invoice.ProviderInvoiceID, invoice.CustomerID, settledAmount.String(), settledAsset, newBalance.String())
		}

		if _, err := f.invoiceRepo.SetLedgerApplied(txCtx, invoice.ID, utils.UTCNow()); err != nil {
			return err
		}
		return nil
	})
}

// applyOrderEffects settles the linked order and sets the order marker
// in one transaction
func (f *ReconcileFlowImpl) applyOrderEffects(ctx context.Context, invoice *models.Invoice) error {
	if invoice.OrderID == nil {
		return fmt.Errorf("order payment invoice %d carries no order", invoice.ProviderInvoiceID)
	}

	return repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		details := invoice.RecordedPaymentDetails()
		_, err := f.checkoutFlow.ApplyPayment(txCtx, *invoice.OrderID, invoice.CustomerID, invoice.ProviderInvoiceID, details)
		if err != nil {
			if IsAlreadyFulfilled(err) {
				// The order settled by other means while this invoice's
				// money arrived; stop retrying and flag for review
				f.reportConflict(txCtx, invoice, fmt.Sprintf(
					"invoice %d paid for order %d which was already fulfilled by a different reference",
					invoice.ProviderInvoiceID, *invoice.OrderID))
			} else {
				return err
			}
		}

		if _, err := f.invoiceRepo.SetOrderApplied(txCtx, invoice.ID, utils.UTCNow()); err != nil {
			return err
		}
		return nil
	})
}

// notifyAndMark tells the customer about the settlement and sets the
// notified marker whether or not the delivery worked. Notification is
// best-effort and never retried past this point.
func (f *ReconcileFlowImpl) notifyAndMark(ctx context.Context, invoice *models.Invoice) {
	if f.notifier != nil {
		if err := f.sendSettlementNotice(ctx, invoice); err != nil {
			log.Printf("settlement notice for invoice %d failed: %v", invoice.ProviderInvoiceID, err)
		}
	}
	if _, err := f.invoiceRepo.SetNotified(ctx, invoice.ID, utils.UTCNow()); err != nil {
		log.Printf("failed to mark invoice %d notified: %v", invoice.ProviderInvoiceID, err)
	}
}

func (f *ReconcileFlowImpl) sendSettlementNotice(ctx context.Context, invoice *models.Invoice) error {
	customer, err := f.customerRepo.ByID(ctx, invoice.CustomerID)
	if err != nil {
		return err
	}
	if customer == nil {
		return fmt.Errorf("customer %d not found", invoice.CustomerID)
	}

	settledAmount, settledAsset := invoice.SettledAmount()
	switch invoice.Purpose {
	case models.InvoicePurposeDeposit:
		balance := decimal.Zero
		if account, err := f.balanceRepo.ByCustomerID(ctx, invoice.CustomerID); err == nil && account != nil {
			balance = account.Balance
		}
		return f.notifier.NotifyDepositCredited(ctx, customer.ChatID, settledAmount, settledAsset, balance, invoice.ProviderInvoiceID)
	case models.InvoicePurposeOrderPayment:
		if invoice.OrderID == nil {
			return fmt.Errorf("order payment invoice %d carries no order", invoice.ProviderInvoiceID)
		}
		order, err := f.orderRepo.ByID(ctx, *invoice.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("order %d not found", *invoice.OrderID)
		}
		return f.notifier.NotifyOrderPaid(ctx, customer.ChatID, order.UUID.String(), settledAmount, settledAsset)
	}
	return nil
}

func (f *ReconcileFlowImpl) SweepExpired(ctx context.Context) (int64, error) {
	count, err := f.invoiceRepo.SweepExpired(ctx, f.clock.Now())
	if err != nil {
		return 0, NewBusinessError("EXPIRY_SWEEP_FAILED", "Failed to expire lapsed invoices", err)
	}
	if count > 0 {
		log.Printf("expired %d lapsed invoices", count)
		description := fmt.Sprintf("%d pending invoices passed their payment window", count)
		if err := logAuditEvent(ctx, f.auditRepo, nil, models.AuditActionInvoiceExpired, description, true, nil, nil); err != nil {
			log.Printf("failed to record expiry audit: %v", err)
		}
	}
	return count, nil
}

func (f *ReconcileFlowImpl) RetryPendingEffects(ctx context.Context, limit int) (int, error) {
	invoices, err := f.invoiceRepo.ListPaidWithPendingEffects(ctx, limit)
	if err != nil {
		return 0, NewBusinessError("EFFECTS_SWEEP_FAILED", "Failed to list invoices with pending effects", err)
	}

	completed := 0
	for _, invoice := range invoices {
		if err := f.completeEffects(ctx, invoice); err != nil {
			log.Printf("effects retry for invoice %d failed: %v", invoice.ProviderInvoiceID, err)
			continue
		}
		completed++
	}
	return completed, nil
}
