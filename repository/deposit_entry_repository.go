package repository

import (
	"context"
	"errors"

	"github.com/amirphl/Kusanagi/models"
	"gorm.io/gorm"
)

// DepositEntryRepositoryImpl implements DepositEntryRepository
type DepositEntryRepositoryImpl struct {
	*BaseRepository[models.DepositEntry, models.DepositEntryFilter]
}

// NewDepositEntryRepository creates a new deposit entry repository
func NewDepositEntryRepository(db *gorm.DB) DepositEntryRepository {
	return &DepositEntryRepositoryImpl{
		BaseRepository: NewBaseRepository[models.DepositEntry, models.DepositEntryFilter](db),
	}
}

func (r *DepositEntryRepositoryImpl) ByProviderInvoiceID(ctx context.Context, providerInvoiceID int64) (*models.DepositEntry, error) {
	db := r.getDB(ctx)
	var entry models.DepositEntry
	if err := db.Where("provider_invoice_id = ?", providerInvoiceID).Last(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *DepositEntryRepositoryImpl) ListByCustomer(ctx context.Context, customerID uint, limit, offset int) ([]*models.DepositEntry, error) {
	db := r.getDB(ctx)
	var entries []*models.DepositEntry
	q := db.Where("customer_id = ?", customerID).Order("deposited_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ByFilter with ordering and pagination
func (r *DepositEntryRepositoryImpl) ByFilter(ctx context.Context, filter models.DepositEntryFilter, orderBy string, limit, offset int) ([]*models.DepositEntry, error) {
	db := r.getDB(ctx)
	var entries []*models.DepositEntry
	q := db.Model(&models.DepositEntry{})
	q = r.applyFilter(q, filter)
	if orderBy != "" {
		q = q.Order(orderBy)
	} else {
		q = q.Order("deposited_at DESC")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *DepositEntryRepositoryImpl) Count(ctx context.Context, filter models.DepositEntryFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	q := db.Model(&models.DepositEntry{})
	q = r.applyFilter(q, filter)
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *DepositEntryRepositoryImpl) Exists(ctx context.Context, filter models.DepositEntryFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *DepositEntryRepositoryImpl) applyFilter(q *gorm.DB, f models.DepositEntryFilter) *gorm.DB {
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
	if f.Asset != nil {
		q = q.Where("asset = ?", *f.Asset)
	}
	if f.DepositedAfter != nil {
		q = q.Where("deposited_at > ?", *f.DepositedAfter)
	}
	if f.DepositedBefore != nil {
		q = q.Where("deposited_at < ?", *f.DepositedBefore)
	}
	return q
}
