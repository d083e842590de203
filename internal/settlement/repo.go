package settlement

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	"github.com/angelmondragon/smmhub-backend/pkg/pagination"
)

// Repository persists settled orders and their cashback rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindBuyer(ctx context.Context, userID uuid.UUID) (*models.User, error)
	CashbackRate(ctx context.Context, level int) (decimal.Decimal, bool, error)
	InsertOrder(ctx context.Context, order *models.Order) error
	InsertCashback(ctx context.Context, record *models.CashbackRecord) error
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	CashbackForOrder(ctx context.Context, orderID uuid.UUID) (*models.CashbackRecord, error)
	ListOrders(ctx context.Context, userID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Order, error)
	SetMemberLevel(ctx context.Context, userID uuid.UUID, level int) (bool, error)
	MemberLevels(ctx context.Context) ([]models.MemberLevel, error)
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

func (r *repository) FindBuyer(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) CashbackRate(ctx context.Context, level int) (decimal.Decimal, bool, error) {
	var row models.MemberLevel
	err := r.db.WithContext(ctx).Where("level = ?", level).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return row.CashbackRate, true, nil
}

func (r *repository) InsertOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) InsertCashback(ctx context.Context, record *models.CashbackRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("id = ?", orderID).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) CashbackForOrder(ctx context.Context, orderID uuid.UUID) (*models.CashbackRecord, error) {
	var record models.CashbackRecord
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListOrders(ctx context.Context, userID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Order, error) {
	var rows []models.Order
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	err := pagination.Apply(q, cursor).Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *repository) SetMemberLevel(ctx context.Context, userID uuid.UUID, level int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("member_level", level)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MemberLevels(ctx context.Context) ([]models.MemberLevel, error) {
	var rows []models.MemberLevel
	err := r.db.WithContext(ctx).Order("level ASC").Find(&rows).Error
	return rows, err
}
