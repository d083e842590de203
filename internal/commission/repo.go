package commission

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	"github.com/angelmondragon/smmhub-backend/pkg/enums"
	"github.com/angelmondragon/smmhub-backend/pkg/pagination"
)

// Repository persists commission records and per-level commission configs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.CommissionRecord, error)
	Insert(ctx context.Context, record *models.CommissionRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CommissionRecord, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.CommissionStatus, paidAt *time.Time) (bool, error)
	List(ctx context.Context, filter ListFilter, limit int, cursor *pagination.Cursor) ([]models.CommissionRecord, error)
	AgentAggregates(ctx context.Context, agentID uuid.UUID, since *time.Time) ([]Aggregate, error)

	ActiveConfigs(ctx context.Context) ([]models.CommissionConfig, error)
	ListConfigs(ctx context.Context) ([]models.CommissionConfig, error)
	UpsertConfig(ctx context.Context, cfg *models.CommissionConfig) (*models.CommissionConfig, error)
}

// ListFilter narrows record listings. Zero values match everything.
type ListFilter struct {
	AgentID    *uuid.UUID
	ConsumerID *uuid.UUID
	OrderID    *uuid.UUID
	Status     *enums.CommissionStatus
	Type       *enums.CommissionType
}

// Aggregate is one (type, status) bucket of an agent's records.
type Aggregate struct {
	CommissionType enums.CommissionType   `gorm:"column:commission_type"`
	Status         enums.CommissionStatus `gorm:"column:status"`
	Count          int64                  `gorm:"column:count"`
	Amount         decimal.Decimal        `gorm:"column:amount"`
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a commission repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.CommissionRecord, error) {
	var rows []models.CommissionRecord
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) Insert(ctx context.Context, record *models.CommissionRecord) error {
	if record == nil {
		return errors.New("commission record required")
	}
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CommissionRecord, error) {
	var record models.CommissionRecord
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Transition moves a record from one status to another only if it is still in
// the expected status.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.CommissionStatus, paidAt *time.Time) (bool, error) {
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	if paidAt != nil {
		updates["paid_at"] = *paidAt
	}
	res := r.db.WithContext(ctx).
		Model(&models.CommissionRecord{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter, limit int, cursor *pagination.Cursor) ([]models.CommissionRecord, error) {
	q := r.db.WithContext(ctx).Model(&models.CommissionRecord{})
	if filter.AgentID != nil {
		q = q.Where("agent_id = ?", *filter.AgentID)
	}
	if filter.ConsumerID != nil {
		q = q.Where("consumer_id = ?", *filter.ConsumerID)
	}
	if filter.OrderID != nil {
		q = q.Where("order_id = ?", *filter.OrderID)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.Type != nil {
		q = q.Where("commission_type = ?", *filter.Type)
	}

	var rows []models.CommissionRecord
	err := pagination.Apply(q, cursor).Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *repository) AgentAggregates(ctx context.Context, agentID uuid.UUID, since *time.Time) ([]Aggregate, error) {
	q := r.db.WithContext(ctx).
		Model(&models.CommissionRecord{}).
		Select("commission_type, status, COUNT(*) AS count, COALESCE(SUM(commission_amount), 0) AS amount").
		Where("agent_id = ?", agentID)
	if since != nil {
		q = q.Where("created_at >= ?", *since)
	}
	var rows []Aggregate
	err := q.Group("commission_type, status").Scan(&rows).Error
	return rows, err
}

func (r *repository) ActiveConfigs(ctx context.Context) ([]models.CommissionConfig, error) {
	var rows []models.CommissionConfig
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("agent_level ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListConfigs(ctx context.Context) ([]models.CommissionConfig, error) {
	var rows []models.CommissionConfig
	err := r.db.WithContext(ctx).Order("agent_level ASC").Find(&rows).Error
	return rows, err
}

// UpsertConfig inserts or replaces the config for cfg.AgentLevel and returns the stored row.
func (r *repository) UpsertConfig(ctx context.Context, cfg *models.CommissionConfig) (*models.CommissionConfig, error) {
	if cfg == nil {
		return nil, errors.New("commission config required")
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "agent_level"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"direct_rate", "indirect_rate", "max_levels", "is_active", "description", "updated_at",
		}),
	}).Create(cfg).Error
	if err != nil {
		return nil, err
	}

	var stored models.CommissionConfig
	if err := r.db.WithContext(ctx).First(&stored, "agent_level = ?", cfg.AgentLevel).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}
