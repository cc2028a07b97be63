package repository

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/Kusanagi/models"
	"gorm.io/gorm"
)

// WebhookEventRepositoryImpl implements WebhookEventRepository
type WebhookEventRepositoryImpl struct {
	*BaseRepository[models.WebhookEvent, models.WebhookEventFilter]
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &WebhookEventRepositoryImpl{
		BaseRepository: NewBaseRepository[models.WebhookEvent, models.WebhookEventFilter](db),
	}
}

func (r *WebhookEventRepositoryImpl) ByProviderUpdateID(ctx context.Context, provider string, providerUpdateID int64) (*models.WebhookEvent, error) {
	db := r.getDB(ctx)
	var event models.WebhookEvent
	err := db.Where("provider = ? AND provider_update_id = ?", provider, providerUpdateID).Last(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// SetOutcome records how handling one delivery ended
func (r *WebhookEventRepositoryImpl) SetOutcome(ctx context.Context, eventID uint, status models.WebhookEventStatus, processingError *string, processedAt time.Time) error {
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

	err = db.Model(&models.WebhookEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]any{
			"status":           status,
			"processing_error": processingError,
			"processed_at":     processedAt,
		}).Error
	if err != nil {
		return err
	}
	return nil
}

func (r *WebhookEventRepositoryImpl) ListByStatus(ctx context.Context, status models.WebhookEventStatus, limit, offset int) ([]*models.WebhookEvent, error) {
	db := r.getDB(ctx)
	var events []*models.WebhookEvent
	q := db.Where("status = ?", status).Order("received_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// ByFilter with ordering and pagination
func (r *WebhookEventRepositoryImpl) ByFilter(ctx context.Context, filter models.WebhookEventFilter, orderBy string, limit, offset int) ([]*models.WebhookEvent, error) {
	db := r.getDB(ctx)
	var events []*models.WebhookEvent
	q := db.Model(&models.WebhookEvent{})
	q = r.applyFilter(q, filter)
	if orderBy != "" {
		q = q.Order(orderBy)
	} else {
		q = q.Order("received_at DESC")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *WebhookEventRepositoryImpl) Count(ctx context.Context, filter models.WebhookEventFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	q := db.Model(&models.WebhookEvent{})
	q = r.applyFilter(q, filter)
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *WebhookEventRepositoryImpl) Exists(ctx context.Context, filter models.WebhookEventFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *WebhookEventRepositoryImpl) applyFilter(q *gorm.DB, f models.WebhookEventFilter) *gorm.DB {
	if f.ID != nil {
		q = q.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		q = q.Where("uuid = ?", *f.UUID)
	}
	if f.Provider != nil {
		q = q.Where("provider = ?", *f.Provider)
	}
	if f.ProviderUpdateID != nil {
		q = q.Where("provider_update_id = ?", *f.ProviderUpdateID)
	}
	if f.UpdateType != nil {
		q = q.Where("update_type = ?", *f.UpdateType)
	}
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}
	if f.ReceivedAfter != nil {
		q = q.Where("received_at > ?", *f.ReceivedAfter)
	}
	if f.ReceivedBefore != nil {
		q = q.Where("received_at < ?", *f.ReceivedBefore)
	}
	return q
}
