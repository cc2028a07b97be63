package repository

import (
	"context"
	"errors"

	"github.com/amirphl/Kusanagi/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DepositAggregateRepositoryImpl implements DepositAggregateRepository
type DepositAggregateRepositoryImpl struct {
	*BaseRepository[models.DepositAggregate, models.DepositAggregateFilter]
}

// NewDepositAggregateRepository creates a new deposit aggregate repository
func NewDepositAggregateRepository(db *gorm.DB) DepositAggregateRepository {
	return &DepositAggregateRepositoryImpl{
		BaseRepository: NewBaseRepository[models.DepositAggregate, models.DepositAggregateFilter](db),
	}
}

func (r *DepositAggregateRepositoryImpl) ByCustomerID(ctx context.Context, customerID uint) (*models.DepositAggregate, error) {
	db := r.getDB(ctx)
	var aggregate models.DepositAggregate
	if err := db.Where("customer_id = ?", customerID).Last(&aggregate).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &aggregate, nil
}

// ByCustomerIDForUpdate reads the aggregate under a row lock. Callers
// must run inside WithTransaction; the lock is held until that
// transaction ends.
func (r *DepositAggregateRepositoryImpl) ByCustomerIDForUpdate(ctx context.Context, customerID uint) (*models.DepositAggregate, error) {
	db := r.getDB(ctx)
	var aggregate models.DepositAggregate
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("customer_id = ?", customerID).
		Last(&aggregate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &aggregate, nil
}

func (r *DepositAggregateRepositoryImpl) Update(ctx context.Context, aggregate *models.DepositAggregate) error {
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
	err = db.Save(aggregate).Error
	if err != nil {
		return err
	}
	return nil
}

// ByFilter with ordering and pagination
func (r *DepositAggregateRepositoryImpl) ByFilter(ctx context.Context, filter models.DepositAggregateFilter, orderBy string, limit, offset int) ([]*models.DepositAggregate, error) {
	db := r.getDB(ctx)
	var aggregates []*models.DepositAggregate
	q := db.Model(&models.DepositAggregate{})
	q = r.applyFilter(q, filter)
	if orderBy != "" {
		q = q.Order(orderBy)
	} else {
		q = q.Order("id DESC")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&aggregates).Error; err != nil {
		return nil, err
	}
	return aggregates, nil
}

func (r *DepositAggregateRepositoryImpl) Count(ctx context.Context, filter models.DepositAggregateFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	q := db.Model(&models.DepositAggregate{})
	q = r.applyFilter(q, filter)
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *DepositAggregateRepositoryImpl) Exists(ctx context.Context, filter models.DepositAggregateFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *DepositAggregateRepositoryImpl) applyFilter(q *gorm.DB, f models.DepositAggregateFilter) *gorm.DB {
	if f.ID != nil {
		q = q.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		q = q.Where("uuid = ?", *f.UUID)
	}
	if f.CustomerID != nil {
		q = q.Where("customer_id = ?", *f.CustomerID)
	}
	if f.LastDepositAfter != nil {
		q = q.Where("last_deposit_at > ?", *f.LastDepositAfter)
	}
	return q
}
