package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BalanceAccountRepositoryImpl implements BalanceAccountRepository
type BalanceAccountRepositoryImpl struct {
	*BaseRepository[models.BalanceAccount, models.BalanceAccountFilter]
}

// NewBalanceAccountRepository creates a new balance account repository
func NewBalanceAccountRepository(db *gorm.DB) BalanceAccountRepository {
	return &BalanceAccountRepositoryImpl{
		BaseRepository: NewBaseRepository[models.BalanceAccount, models.BalanceAccountFilter](db),
	}
}

func (r *BalanceAccountRepositoryImpl) ByCustomerID(ctx context.Context, customerID uint) (*models.BalanceAccount, error) {
	db := r.getDB(ctx)
	var account models.BalanceAccount
	if err := db.Where("customer_id = ?", customerID).Last(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// Credit adds amount to the customer's balance in one statement. The
// upsert creates the account on first use, so crediting never depends
// on a prior read and two concurrent credits both land. A non-positive
// amount is rejected before touching the row: the increment would
// silently subtract otherwise.
func (r *BalanceAccountRepositoryImpl) Credit(ctx context.Context, customerID uint, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("credit amount must be positive, got %s", amount)
	}

	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return decimal.Zero, err
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

	now := utils.UTCNow()
	var balance decimal.Decimal
	err = db.Raw(`
		INSERT INTO balance_accounts (uuid, customer_id, balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (customer_id)
		DO UPDATE SET balance = balance_accounts.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
		RETURNING balance
	`, uuid.New(), customerID, amount, now, now).Scan(&balance).Error
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// Debit subtracts amount when the balance covers it. The balance guard
// sits in the WHERE clause, so an overdraft attempt changes nothing
// and reports false instead.
func (r *BalanceAccountRepositoryImpl) Debit(ctx context.Context, customerID uint, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	if !amount.IsPositive() {
		return decimal.Zero, false, fmt.Errorf("debit amount must be positive, got %s", amount)
	}

	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return decimal.Zero, false, err
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

	var balance decimal.Decimal
	res := db.Raw(`
		UPDATE balance_accounts
		SET balance = balance - ?, updated_at = ?
		WHERE customer_id = ? AND balance >= ?
		RETURNING balance
	`, amount, utils.UTCNow(), customerID, amount).Scan(&balance)
	if res.Error != nil {
		err = res.Error
		return decimal.Zero, false, err
	}
	if res.RowsAffected == 0 {
		return decimal.Zero, false, nil
	}
	return balance, true, nil
}

// ByFilter with ordering and pagination
func (r *BalanceAccountRepositoryImpl) ByFilter(ctx context.Context, filter models.BalanceAccountFilter, orderBy string, limit, offset int) ([]*models.BalanceAccount, error) {
	db := r.getDB(ctx)
	var accounts []*models.BalanceAccount
	q := db.Model(&models.BalanceAccount{})
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
	if err := q.Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *BalanceAccountRepositoryImpl) Count(ctx context.Context, filter models.BalanceAccountFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	q := db.Model(&models.BalanceAccount{})
	q = r.applyFilter(q, filter)
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *BalanceAccountRepositoryImpl) Exists(ctx context.Context, filter models.BalanceAccountFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *BalanceAccountRepositoryImpl) applyFilter(q *gorm.DB, f models.BalanceAccountFilter) *gorm.DB {
	if f.ID != nil {
		q = q.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		q = q.Where("uuid = ?", *f.UUID)
	}
	if f.CustomerID != nil {
		q = q.Where("customer_id = ?", *f.CustomerID)
	}
	return q
}
