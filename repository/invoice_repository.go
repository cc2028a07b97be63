package repository

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/utils"
	"gorm.io/gorm"
)

// InvoiceRepositoryImpl implements InvoiceRepository
type InvoiceRepositoryImpl struct {
	*BaseRepository[models.Invoice, models.InvoiceFilter]
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &InvoiceRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Invoice, models.InvoiceFilter](db),
	}
}

func (r *InvoiceRepositoryImpl) ByID(ctx context.Context, id uint) (*models.Invoice, error) {
	db := r.getDB(ctx)
	var invoice models.Invoice
	if err := db.Last(&invoice, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *InvoiceRepositoryImpl) ByUUID(ctx context.Context, u string) (*models.Invoice, error) {
	parsed, err := utils.ParseUUID(u)
	if err != nil {
		return nil, err
	}
	db := r.getDB(ctx)
	var invoice models.Invoice
	if err := db.Where("uuid = ?", parsed).Last(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *InvoiceRepositoryImpl) ByProviderInvoiceID(ctx context.Context, providerInvoiceID int64) (*models.Invoice, error) {
	db := r.getDB(ctx)
	var invoice models.Invoice
	if err := db.Where("provider_invoice_id = ?", providerInvoiceID).Last(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *InvoiceRepositoryImpl) ByOrderID(ctx context.Context, orderID uint) (*models.Invoice, error) {
	db := r.getDB(ctx)
	var invoice models.Invoice
	if err := db.Where("order_id = ?", orderID).Last(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *InvoiceRepositoryImpl) ListByCustomer(ctx context.Context, customerID uint, limit, offset int) ([]*models.Invoice, error) {
	db := r.getDB(ctx)
	var invoices []*models.Invoice
	q := db.Where("customer_id = ?", customerID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// MarkPaid records the settlement on a pending invoice. The status
// guard in the WHERE clause makes concurrent deliveries race safely:
// exactly one update wins, the rest observe zero affected rows.
func (r *InvoiceRepositoryImpl) MarkPaid(ctx context.Context, providerInvoiceID int64, details models.PaymentDetails) (bool, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}
	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	res := db.Model(&models.Invoice{}).
		Where("provider_invoice_id = ? AND status = ?", providerInvoiceID, models.InvoiceStatusPending).
		Updates(map[string]any{
			"status":         models.InvoiceStatusPaid,
			"paid_amount":    details.PaidAmount,
			"paid_asset":     details.PaidAsset,
			"paid_usd_rate":  details.PaidUSDRate,
			"fee_amount":     details.FeeAmount,
			"fee_asset":      details.FeeAsset,
			"is_swapped":     details.IsSwapped,
			"swapped_to":     details.SwappedTo,
			"swapped_amount": details.SwappedAmount,
			"swapped_rate":   details.SwappedRate,
			"paid_at":        details.PaidAt,
			"updated_at":     utils.UTCNow(),
		})
	if res.Error != nil {
		err = res.Error
		return false, err
	}
	return res.RowsAffected > 0, nil
}

// Cancel moves a pending invoice to cancelled
func (r *InvoiceRepositoryImpl) Cancel(ctx context.Context, providerInvoiceID int64) (bool, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}
	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	res := db.Model(&models.Invoice{}).
		Where("provider_invoice_id = ? AND status = ?", providerInvoiceID, models.InvoiceStatusPending).
		Updates(map[string]any{
			"status":     models.InvoiceStatusCancelled,
			"updated_at": utils.UTCNow(),
		})
	if res.Error != nil {
		err = res.Error
		return false, err
	}
	return res.RowsAffected > 0, nil
}

// SweepExpired expires every pending invoice whose window closed before now
func (r *InvoiceRepositoryImpl) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return 0, err
	}
	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	res := db.Model(&models.Invoice{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.InvoiceStatusPending, now).
		Updates(map[string]any{
			"status":     models.InvoiceStatusExpired,
			"updated_at": now,
		})
	if res.Error != nil {
		err = res.Error
		return 0, err
	}
	return res.RowsAffected, nil
}

// ListPaidWithPendingEffects returns paid invoices that still owe an
// effect, oldest first so retries drain in arrival order. Deposit
// invoices owe the ledger effect, order invoices the order effect, and
// both owe the customer notification.
func (r *InvoiceRepositoryImpl) ListPaidWithPendingEffects(ctx context.Context, limit int) ([]*models.Invoice, error) {
	db := r.getDB(ctx)
	var invoices []*models.Invoice
	q := db.Where("status = ?", models.InvoiceStatusPaid).
		Where("(purpose = ? AND ledger_applied_at IS NULL) OR (purpose = ? AND order_applied_at IS NULL) OR notified_at IS NULL",
			models.InvoicePurposeDeposit, models.InvoicePurposeOrderPayment).
		Order("paid_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *InvoiceRepositoryImpl) setEffectMarker(ctx context.Context, invoiceID uint, column string, at time.Time) (bool, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}
	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	res := db.Model(&models.Invoice{}).
		Where("id = ? AND "+column+" IS NULL", invoiceID).
		Updates(map[string]any{
			column:       at,
			"updated_at": utils.UTCNow(),
		})
	if res.Error != nil {
		err = res.Error
		return false, err
	}
	return res.RowsAffected > 0, nil
}

func (r *InvoiceRepositoryImpl) SetLedgerApplied(ctx context.Context, invoiceID uint, at time.Time) (bool, error) {
	return r.setEffectMarker(ctx, invoiceID, "ledger_applied_at", at)
}

func (r *InvoiceRepositoryImpl) SetOrderApplied(ctx context.Context, invoiceID uint, at time.Time) (bool, error) {
	return r.setEffectMarker(ctx, invoiceID, "order_applied_at", at)
}

func (r *InvoiceRepositoryImpl) SetNotified(ctx context.Context, invoiceID uint, at time.Time) (bool, error) {
	return r.setEffectMarker(ctx, invoiceID, "notified_at", at)
}

func (r *InvoiceRepositoryImpl) Update(ctx context.Context, invoice *models.Invoice) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}
	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}
	err = db.Save(invoice).Error
	if err != nil {
		return err
	}
	return nil
}

// ByFilter with ordering and pagination
func (r *InvoiceRepositoryImpl) ByFilter(ctx context.Context, filter models.InvoiceFilter, orderBy string, limit, offset int) ([]*models.Invoice, error) {
	db := r.getDB(ctx)
	var invoices []*models.Invoice
	q := db.Model(&models.Invoice{})
	q = r.applyFilter(q, filter)
	if orderBy != "" {
		q = q.Order(orderBy)
	} else {
		q = q.Order("created_at DESC")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *InvoiceRepositoryImpl) Count(ctx context.Context, filter models.InvoiceFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	q := db.Model(&models.Invoice{})
	q = r.applyFilter(q, filter)
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *InvoiceRepositoryImpl) Exists(ctx context.Context, filter models.InvoiceFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *InvoiceRepositoryImpl) applyFilter(q *gorm.DB, f models.InvoiceFilter) *gorm.DB {
	if f.ID != nil {
		q = q.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		q = q.Where("uuid = ?", *f.UUID)
	}
	if f.CorrelationID != nil {
		q = q.Where("correlation_id = ?", *f.CorrelationID)
	}
	if f.ProviderInvoiceID != nil {
		q = q.Where("provider_invoice_id = ?", *f.ProviderInvoiceID)
	}
	if f.CustomerID != nil {
		q = q.Where("customer_id = ?", *f.CustomerID)
	}
	if f.Purpose != nil {
		q = q.Where("purpose = ?", *f.Purpose)
	}
	if f.OrderID != nil {
		q = q.Where("order_id = ?", *f.OrderID)
	}
	if f.Asset != nil {
		q = q.Where("asset = ?", *f.Asset)
	}
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}
	if f.PaidAsset != nil {
		q = q.Where("paid_asset = ?", *f.PaidAsset)
	}
	if f.CreatedAfter != nil {
		q = q.Where("created_at > ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		q = q.Where("created_at < ?", *f.CreatedBefore)
	}
	if f.ExpiresAfter != nil {
		q = q.Where("expires_at > ?", *f.ExpiresAfter)
	}
	if f.ExpiresBefore != nil {
		q = q.Where("expires_at < ?", *f.ExpiresBefore)
	}
	if f.PaidAfter != nil {
		q = q.Where("paid_at > ?", *f.PaidAfter)
	}
	if f.PaidBefore != nil {
		q = q.Where("paid_at < ?", *f.PaidBefore)
	}
	return q
}
