// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/Kusanagi/models"
	"github.com/shopspring/decimal"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// CustomerRepository defines operations for customers
type CustomerRepository interface {
	Repository[models.Customer, models.CustomerFilter]
	ByChatID(ctx context.Context, chatID int64) (*models.Customer, error)
	ByUUID(ctx context.Context, uuid string) (*models.Customer, error)
	// EnsureByChatID returns the customer for the chat id, creating the
	// row if it does not exist yet. Safe under concurrent calls.
	EnsureByChatID(ctx context.Context, chatID int64, username, firstName, lastName *string) (*models.Customer, error)
	TouchLastSeen(ctx context.Context, customerID uint, at time.Time) error
}

// BotRepository defines operations for bots
type BotRepository interface {
	Repository[models.Bot, models.BotFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Bot, error)
	ByUsername(ctx context.Context, username string) (*models.Bot, error)
	Update(ctx context.Context, bot *models.Bot) error
}

// AuditLogRepository defines operations for audit logs
type AuditLogRepository interface {
	Repository[models.AuditLog, models.AuditLogFilter]
	ListByCustomer(ctx context.Context, customerID uint, limit, offset int) ([]*models.AuditLog, error)
	ListByAction(ctx context.Context, action string, limit, offset int) ([]*models.AuditLog, error)
	ListFailedActions(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)
}

// InvoiceRepository defines operations for provider invoices.
// Status transitions go through conditional updates so that concurrent
// writers cannot move an invoice out of a terminal state.
type InvoiceRepository interface {
	Repository[models.Invoice, models.InvoiceFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Invoice, error)
	ByProviderInvoiceID(ctx context.Context, providerInvoiceID int64) (*models.Invoice, error)
	ByOrderID(ctx context.Context, orderID uint) (*models.Invoice, error)
	ListByCustomer(ctx context.Context, customerID uint, limit, offset int) ([]*models.Invoice, error)
	// MarkPaid records the settlement on a pending invoice. Returns
	// false without error when the invoice was not pending anymore;
	// the caller re-reads to classify the outcome.
	MarkPaid(ctx context.Context, providerInvoiceID int64, details models.PaymentDetails) (bool, error)
	// Cancel moves a pending invoice to cancelled. Returns false when
	// the invoice was not pending.
	Cancel(ctx context.Context, providerInvoiceID int64) (bool, error)
	// SweepExpired moves every pending invoice whose payment window
	// elapsed before now to expired and returns how many rows changed.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	// ListPaidWithPendingEffects returns paid invoices with at least
	// one unapplied effect marker, oldest first.
	ListPaidWithPendingEffects(ctx context.Context, limit int) ([]*models.Invoice, error)
	// Effect markers are set at most once; each returns false when the
	// marker was already set.
	SetLedgerApplied(ctx context.Context, invoiceID uint, at time.Time) (bool, error)
	SetOrderApplied(ctx context.Context, invoiceID uint, at time.Time) (bool, error)
	SetNotified(ctx context.Context, invoiceID uint, at time.Time) (bool, error)
	Update(ctx context.Context, invoice *models.Invoice) error
}

// DepositEntryRepository defines operations for the deposit ledger.
// Entries are append-only; there is no update operation.
type DepositEntryRepository interface {
	Repository[models.DepositEntry, models.DepositEntryFilter]
	ByProviderInvoiceID(ctx context.Context, providerInvoiceID int64) (*models.DepositEntry, error)
	ListByCustomer(ctx context.Context, customerID uint, limit, offset int) ([]*models.DepositEntry, error)
}

// DepositAggregateRepository defines operations for per-customer deposit statistics
type DepositAggregateRepository interface {
	Repository[models.DepositAggregate, models.DepositAggregateFilter]
	ByCustomerID(ctx context.Context, customerID uint) (*models.DepositAggregate, error)
	// ByCustomerIDForUpdate locks the aggregate row for the duration of
	// the surrounding transaction. Returns nil when no row exists yet.
	ByCustomerIDForUpdate(ctx context.Context, customerID uint) (*models.DepositAggregate, error)
	Update(ctx context.Context, aggregate *models.DepositAggregate) error
}

// BalanceAccountRepository defines operations for customer balances.
// Credit and Debit are the only writers of the balance column.
type BalanceAccountRepository interface {
	Repository[models.BalanceAccount, models.BalanceAccountFilter]
	ByCustomerID(ctx context.Context, customerID uint) (*models.BalanceAccount, error)
	// Credit atomically adds amount to the customer's balance, creating
	// the account on first use, and returns the resulting balance.
	Credit(ctx context.Context, customerID uint, amount decimal.Decimal) (decimal.Decimal, error)
	// Debit atomically subtracts amount when the balance covers it.
	// Returns the resulting balance and false when it does not.
	Debit(ctx context.Context, customerID uint, amount decimal.Decimal) (decimal.Decimal, bool, error)
}

// BalanceTransactionRepository defines operations for balance audit rows
type BalanceTransactionRepository interface {
	Repository[models.BalanceTransaction, models.BalanceTransactionFilter]
	ListByCustomer(ctx context.Context, customerID uint, limit, offset int) ([]*models.BalanceTransaction, error)
	ByReference(ctx context.Context, reference string) ([]*models.BalanceTransaction, error)
}

// OrderRepository defines operations for orders and their items
type OrderRepository interface {
	Repository[models.Order, models.OrderFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Order, error)
	ListByCustomer(ctx context.Context, customerID uint, limit, offset int) ([]*models.Order, error)
	ListItems(ctx context.Context, orderID uint) ([]*models.OrderItem, error)
	// MarkPaid moves a pending order to paid exactly once. Returns
	// false when the order was not pending.
	MarkPaid(ctx context.Context, orderID uint, paymentMethod string, paymentRef *string, paidAt time.Time) (bool, error)
	// MarkRefunded moves a refundable order to refunded. Returns false
	// when the order held no settled money.
	MarkRefunded(ctx context.Context, orderID uint, at time.Time) (bool, error)
	// Cancel moves a pending order to cancelled. Returns false when the
	// order was not pending.
	Cancel(ctx context.Context, orderID uint) (bool, error)
	Update(ctx context.Context, order *models.Order) error
}

// ProductRepository defines operations for products
type ProductRepository interface {
	Repository[models.Product, models.ProductFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Product, error)
	ListActive(ctx context.Context, limit, offset int) ([]*models.Product, error)
	// DecrementStock reserves quantity units when stock covers them.
	// Returns false when it does not.
	DecrementStock(ctx context.Context, productID uint, quantity int) (bool, error)
	// RestoreStock gives reserved units back after a failed checkout step
	RestoreStock(ctx context.Context, productID uint, quantity int) error
	Update(ctx context.Context, product *models.Product) error
}

// WebhookEventRepository defines operations for provider delivery records
type WebhookEventRepository interface {
	Repository[models.WebhookEvent, models.WebhookEventFilter]
	ByProviderUpdateID(ctx context.Context, provider string, providerUpdateID int64) (*models.WebhookEvent, error)
	// SetOutcome records the terminal status of one delivery
	SetOutcome(ctx context.Context, eventID uint, status models.WebhookEventStatus, processingError *string, processedAt time.Time) error
	ListByStatus(ctx context.Context, status models.WebhookEventStatus, limit, offset int) ([]*models.WebhookEvent, error)
}
