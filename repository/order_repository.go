package repository

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/utils"
	"gorm.io/gorm"
)

// OrderRepositoryImpl implements OrderRepository
type OrderRepositoryImpl struct {
	*BaseRepository[models.Order, models.OrderFilter]
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &OrderRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Order, models.OrderFilter](db),
	}
}

func (r *OrderRepositoryImpl) ByID(ctx context.Context, id uint) (*models.Order, error) {
	db := r.getDB(ctx)
	var order models.Order
	if err := db.Last(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepositoryImpl) ByUUID(ctx context.Context, u string) (*models.Order, error) {
	parsed, err := utils.ParseUUID(u)
	if err != nil {
		return nil, err
	}
	db := r.getDB(ctx)
	var order models.Order
	if err := db.Where("uuid = ?", parsed).Last(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepositoryImpl) ListByCustomer(ctx context.Context, customerID uint, limit, offset int) ([]*models.Order, error) {
	db := r.getDB(ctx)
	var orders []*models.Order
	q := db.Where("customer_id = ?", customerID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepositoryImpl) ListItems(ctx context.Context, orderID uint) ([]*models.OrderItem, error) {
	db := r.getDB(ctx)
	var items []*models.OrderItem
	if err := db.Where("order_id = ?", orderID).Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// MarkPaid moves a pending order to paid. The status guard keeps the
// transition single-shot under concurrent settlement attempts.
func (r *OrderRepositoryImpl) MarkPaid(ctx context.Context, orderID uint, paymentMethod string, paymentRef *string, paidAt time.Time) (bool, error) {
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

	res := db.Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, models.OrderStatusPending).
		Updates(map[string]any{
			"status":         models.OrderStatusPaid,
			"payment_method": paymentMethod,
			"payment_ref":    paymentRef,
			"paid_at":        paidAt,
			"updated_at":     utils.UTCNow(),
		})
	if res.Error != nil {
		err = res.Error
		return false, err
	}
	return res.RowsAffected > 0, nil
}

// MarkRefunded moves an order holding settled money to refunded
func (r *OrderRepositoryImpl) MarkRefunded(ctx context.Context, orderID uint, at time.Time) (bool, error) {
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

	res := db.Model(&models.Order{}).
		Where("id = ? AND status IN ?", orderID, []models.OrderStatus{
			models.OrderStatusPaid,
			models.OrderStatusProcessing,
			models.OrderStatusShipped,
		}).
		Updates(map[string]any{
			"status":      models.OrderStatusRefunded,
			"refunded_at": at,
			"updated_at":  utils.UTCNow(),
		})
	if res.Error != nil {
		err = res.Error
		return false, err
	}
	return res.RowsAffected > 0, nil
}

// Cancel moves a pending order to cancelled
func (r *OrderRepositoryImpl) Cancel(ctx context.Context, orderID uint) (bool, error) {
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

	res := db.Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, models.OrderStatusPending).
		Updates(map[string]any{
			"status":     models.OrderStatusCancelled,
			"updated_at": utils.UTCNow(),
		})
	if res.Error != nil {
		err = res.Error
		return false, err
	}
	return res.RowsAffected > 0, nil
}

func (r *OrderRepositoryImpl) Update(ctx context.Context, order *models.Order) error {
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
	err = db.Save(order).Error
	if err != nil {
		return err
	}
	return nil
}

// ByFilter with ordering and pagination
func (r *OrderRepositoryImpl) ByFilter(ctx context.Context, filter models.OrderFilter, orderBy string, limit, offset int) ([]*models.Order, error) {
	db := r.getDB(ctx)
	var orders []*models.Order
	q := db.Model(&models.Order{})
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
	if err := q.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepositoryImpl) Count(ctx context.Context, filter models.OrderFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	q := db.Model(&models.Order{})
	q = r.applyFilter(q, filter)
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *OrderRepositoryImpl) Exists(ctx context.Context, filter models.OrderFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *OrderRepositoryImpl) applyFilter(q *gorm.DB, f models.OrderFilter) *gorm.DB {
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
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}
	if f.PaymentMethod != nil {
		q = q.Where("payment_method = ?", *f.PaymentMethod)
	}
	if f.PaymentRef != nil {
		q = q.Where("payment_ref = ?", *f.PaymentRef)
	}
	if f.CreatedAfter != nil {
		q = q.Where("created_at > ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		q = q.Where("created_at < ?", *f.CreatedBefore)
	}
	if f.PaidAfter != nil {
		q = q.Where("paid_at > ?", *f.PaidAfter)
	}
	if f.PaidBefore != nil {
		q = q.Where("paid_at < ?", *f.PaidBefore)
	}
	return q
}
