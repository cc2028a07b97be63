// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/utils"
	"gorm.io/gorm"
)

// CustomerRepositoryImpl implements CustomerRepository interface
type CustomerRepositoryImpl struct {
	*BaseRepository[models.Customer, models.CustomerFilter]
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &CustomerRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Customer, models.CustomerFilter](db),
	}
}

func (r *CustomerRepositoryImpl) ByChatID(ctx context.Context, chatID int64) (*models.Customer, error) {
	db := r.getDB(ctx)
	var customer models.Customer
	if err := db.Where("chat_id = ?", chatID).Last(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (r *CustomerRepositoryImpl) ByUUID(ctx context.Context, u string) (*models.Customer, error) {
	parsed, err := utils.ParseUUID(u)
	if err != nil {
		return nil, err
	}
	db := r.getDB(ctx)
	var customer models.Customer
	if err := db.Where("uuid = ?", parsed).Last(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

// EnsureByChatID returns the customer for the chat id, creating the row
// on first contact. A concurrent create losing the unique-index race
// falls back to reading the winner's row.
func (r *CustomerRepositoryImpl) EnsureByChatID(ctx context.Context, chatID int64, username, firstName, lastName *string) (*models.Customer, error) {
	existing, err := r.ByChatID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	customer := &models.Customer{
		ChatID:    chatID,
		Username:  username,
		FirstName: firstName,
		LastName:  lastName,
		IsActive:  utils.ToPtr(true),
		CreatedAt: utils.UTCNow(),
		UpdatedAt: utils.UTCNow(),
	}
	if err := r.Save(ctx, customer); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.ByChatID(ctx, chatID)
		}
		return nil, err
	}
	return customer, nil
}

func (r *CustomerRepositoryImpl) TouchLastSeen(ctx context.Context, customerID uint, at time.Time) error {
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

	err = db.Model(&models.Customer{}).
		Where("id = ?", customerID).
		Updates(map[string]any{
			"last_seen_at": at,
			"updated_at":   utils.UTCNow(),
		}).Error
	if err != nil {
		return err
	}
	return nil
}

// ByFilter with ordering and pagination
func (r *CustomerRepositoryImpl) ByFilter(ctx context.Context, filter models.CustomerFilter, orderBy string, limit, offset int) ([]*models.Customer, error) {
	db := r.getDB(ctx)
	var customers []*models.Customer
	q := db.Model(&models.Customer{})
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
	if err := q.Find(&customers).Error; err != nil {
		return nil, err
	}
	return customers, nil
}

func (r *CustomerRepositoryImpl) Count(ctx context.Context, filter models.CustomerFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	q := db.Model(&models.Customer{})
	q = r.applyFilter(q, filter)
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *CustomerRepositoryImpl) Exists(ctx context.Context, filter models.CustomerFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *CustomerRepositoryImpl) applyFilter(q *gorm.DB, f models.CustomerFilter) *gorm.DB {
	if f.ID != nil {
		q = q.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		q = q.Where("uuid = ?", *f.UUID)
	}
	if f.ChatID != nil {
		q = q.Where("chat_id = ?", *f.ChatID)
	}
	if f.Username != nil {
		q = q.Where("username = ?", *f.Username)
	}
	if f.IsActive != nil {
		q = q.Where("is_active = ?", *f.IsActive)
	}
	if f.CreatedAfter != nil {
		q = q.Where("created_at > ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		q = q.Where("created_at < ?", *f.CreatedBefore)
	}
	return q
}
