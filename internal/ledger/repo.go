package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	"github.com/angelmondragon/smmhub-backend/pkg/pagination"
)

// Repository manages the users money columns and the ledger_entries table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ApplyDelta(ctx context.Context, userID uuid.UUID, delta decimal.Decimal, requireFunds bool, totals map[string]any) (bool, error)
	CurrentBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	UserExists(ctx context.Context, userID uuid.UUID) (bool, error)
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) error
	ListEntries(ctx context.Context, userID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.LedgerEntry, error)
	AllEntries(ctx context.Context, userID uuid.UUID) ([]models.LedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// ApplyDelta moves balance by delta and bumps the supplied cumulative totals in a
// single statement. With requireFunds the update only matches when the balance
// covers a negative delta. It reports whether a row was updated.
func (r *repository) ApplyDelta(ctx context.Context, userID uuid.UUID, delta decimal.Decimal, requireFunds bool, totals map[string]any) (bool, error) {
	updates := make(map[string]any, len(totals)+1)
	for column, expr := range totals {
		updates[column] = expr
	}
	if delta.IsNegative() {
		updates["balance"] = gorm.Expr("balance - ?", delta.Neg())
	} else {
		updates["balance"] = gorm.Expr("balance + ?", delta)
	}

	q := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID)
	if requireFunds && delta.IsNegative() {
		q = q.Where("balance >= ?", delta.Neg())
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) CurrentBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var user models.User
	err := r.db.WithContext(ctx).Select("id", "balance").First(&user, "id = ?", userID).Error
	if err != nil {
		return decimal.Zero, err
	}
	return user.Balance, nil
}

func (r *repository) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) InsertEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if entry == nil {
		return errors.New("ledger entry required")
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListEntries(ctx context.Context, userID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.LedgerEntry, error) {
	var rows []models.LedgerEntry
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	err := pagination.Apply(q, cursor).Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *repository) AllEntries(ctx context.Context, userID uuid.UUID) ([]models.LedgerEntry, error) {
	var rows []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
