package repository

import (
	"context"

	"github.com/amirphl/Kusanagi/models"
	"gorm.io/gorm"
)

// BalanceTransactionRepositoryImpl implements BalanceTransactionRepository
type BalanceTransactionRepositoryImpl struct {
	*BaseRepository[models.BalanceTransaction, models.BalanceTransactionFilter]
}

// NewBalanceTransactionRepository creates a new balance transaction repository
func NewBalanceTransactionRepository(db *gorm.DB) BalanceTransactionRepository {
	return &BalanceTransactionRepositoryImpl{
		BaseRepository: NewBaseRepository[models.BalanceTransaction, models.BalanceTransactionFilter](db),
	}
}

func (r *BalanceTransactionRepositoryImpl) ListByCustomer(ctx context.Context, customerID uint, limit, offset int) ([]*models.BalanceTransaction, error) {
	db := r.getDB(ctx)
	var txs []*models.BalanceTransaction
	q := db.Where("customer_id = ?", customerID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *BalanceTransactionRepositoryImpl) ByReference(ctx context.Context, reference string) ([]*models.BalanceTransaction, error) {
	db := r.getDB(ctx)
	var txs []*models.BalanceTransaction
	if err := db.Where("reference = ?", reference).Order("created_at DESC").Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

// ByFilter with ordering and pagination
func (r *BalanceTransactionRepositoryImpl) ByFilter(ctx context.Context, filter models.BalanceTransactionFilter, orderBy string, limit, offset int) ([]*models.BalanceTransaction, error) {
	db := r.getDB(ctx)
	var txs []*models.BalanceTransaction
	q := db.Model(&models.BalanceTransaction{})
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
	if err := q.Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *BalanceTransactionRepositoryImpl) Count(ctx context.Context, filter models.BalanceTransactionFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	q := db.Model(&models.BalanceTransaction{})
	q = r.applyFilter(q, filter)
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *BalanceTransactionRepositoryImpl) Exists(ctx context.Context, filter models.BalanceTransactionFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *BalanceTransactionRepositoryImpl) applyFilter(q *gorm.DB, f models.BalanceTransactionFilter) *gorm.DB {
	if f.ID != nil {
		q = q.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		q = q.Where("uuid = ?", *f.UUID)
	}
	if f.CorrelationID != nil {
		q = q.Where("correlation_id = ?", *f.CorrelationID)
	}
	if f.CustomerID != nil {
		q = q.Where("customer_id = ?", *f.CustomerID)
	}
	if f.Type != nil {
		q = q.Where("type = ?", *f.Type)
	}
	if f.Reference != nil {
		q = q.Where("reference = ?", *f.Reference)
	}
	if f.CreatedAfter != nil {
		q = q.Where("created_at > ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		q = q.Where("created_at < ?", *f.CreatedBefore)
	}
	return q
}
