package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
)

// Repository stores the sellable service price list.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListActive(ctx context.Context, category string) ([]models.ServicePrice, error)
	ListAll(ctx context.Context) ([]models.ServicePrice, error)
	FindByServiceID(ctx context.Context, serviceID int) (*models.ServicePrice, error)
	Upsert(ctx context.Context, price *models.ServicePrice) (*models.ServicePrice, error)
	UpdateCost(ctx context.Context, serviceID int, apiPrice decimal.Decimal, minQty, maxQty int) error
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

func (r *repository) ListActive(ctx context.Context, category string) ([]models.ServicePrice, error) {
	q := r.db.WithContext(ctx).Where("is_active = ?", true)
	if c := strings.TrimSpace(category); c != "" {
		q = q.Where("category = ?", c)
	}
	var rows []models.ServicePrice
	err := q.Order("category ASC").Order("service_id ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) ListAll(ctx context.Context) ([]models.ServicePrice, error) {
	var rows []models.ServicePrice
	err := r.db.WithContext(ctx).Order("service_id ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) FindByServiceID(ctx context.Context, serviceID int) (*models.ServicePrice, error) {
	var row models.ServicePrice
	err := r.db.WithContext(ctx).First(&row, "service_id = ?", serviceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) Upsert(ctx context.Context, price *models.ServicePrice) (*models.ServicePrice, error) {
	if price == nil {
		return nil, errors.New("service price required")
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "service_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"service_name", "category", "api_price", "customer_price",
			"min_quantity", "max_quantity", "is_active", "description", "updated_at",
		}),
	}).Create(price).Error
	if err != nil {
		return nil, err
	}
	return r.FindByServiceID(ctx, price.ServiceID)
}

// UpdateCost refreshes the provider-side fields of an existing price row.
func (r *repository) UpdateCost(ctx context.Context, serviceID int, apiPrice decimal.Decimal, minQty, maxQty int) error {
	updates := map[string]any{
		"api_price":  apiPrice,
		"updated_at": time.Now().UTC(),
	}
	if minQty > 0 {
		updates["min_quantity"] = minQty
	}
	if maxQty > 0 {
		updates["max_quantity"] = maxQty
	}
	return r.db.WithContext(ctx).
		Model(&models.ServicePrice{}).
		Where("service_id = ?", serviceID).
		Updates(updates).Error
}
