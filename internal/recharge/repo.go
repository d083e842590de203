package recharge

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	"github.com/angelmondragon/smmhub-backend/pkg/enums"
	"github.com/angelmondragon/smmhub-backend/pkg/pagination"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, record *models.RechargeRecord) error
	FindByOutTradeNo(ctx context.Context, outTradeNo string) (*models.RechargeRecord, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, tradeNo string, completedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.RechargeRecord, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.RechargeRecord, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, record *models.RechargeRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByOutTradeNo(ctx context.Context, outTradeNo string) (*models.RechargeRecord, error) {
	var record models.RechargeRecord
	err := r.db.WithContext(ctx).Where("out_trade_no = ?", outTradeNo).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// MarkCompleted moves a pending or expired record to completed. It reports
// false when another writer completed it first.
func (r *repository) MarkCompleted(ctx context.Context, id uuid.UUID, tradeNo string, completedAt time.Time) (bool, error) {
	updates := map[string]any{
		"status":         enums.RechargeStatusCompleted,
		"completed_at":   completedAt,
		"failure_reason": nil,
	}
	if tradeNo != "" {
		updates["trade_no"] = tradeNo
	}
	res := r.db.WithContext(ctx).
		Model(&models.RechargeRecord{}).
		Where("id = ? AND status IN ?", id, []enums.RechargeStatus{enums.RechargeStatusPending, enums.RechargeStatusFailed}).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.RechargeRecord{}).
		Where("id = ? AND status = ?", id, enums.RechargeStatusPending).
		Updates(map[string]any{
			"status":         enums.RechargeStatusFailed,
			"failure_reason": reason,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.RechargeRecord, error) {
	var rows []models.RechargeRecord
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	err := pagination.Apply(q, cursor).Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.RechargeRecord, error) {
	var rows []models.RechargeRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.RechargeStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
