package referral

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	"github.com/angelmondragon/smmhub-backend/pkg/pagination"
)

// Repository reads and writes the inviter edges stored on users.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByInviteCode(ctx context.Context, code string) (*models.User, error)
	ChildrenOf(ctx context.Context, parentIDs []uuid.UUID) ([]models.User, error)
	ListDirectInvitees(ctx context.Context, inviterID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.User, error)
	CountDirect(ctx context.Context, inviterID uuid.UUID) (int64, error)
	CountSecondLevel(ctx context.Context, inviterID uuid.UUID) (int64, error)
	SetInviter(ctx context.Context, userID, inviterID uuid.UUID) (bool, error)
	SetInviteCode(ctx context.Context, userID uuid.UUID, code string) (bool, error)
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

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) FindByInviteCode(ctx context.Context, code string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, "invite_code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) ChildrenOf(ctx context.Context, parentIDs []uuid.UUID) ([]models.User, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	var rows []models.User
	err := r.db.WithContext(ctx).
		Where("inviter_id IN ?", parentIDs).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListDirectInvitees(ctx context.Context, inviterID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.User, error) {
	var rows []models.User
	q := r.db.WithContext(ctx).Where("inviter_id = ?", inviterID)
	err := pagination.Apply(q, cursor).Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *repository) CountDirect(ctx context.Context, inviterID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("inviter_id = ?", inviterID).Count(&count).Error
	return count, err
}

func (r *repository) CountSecondLevel(ctx context.Context, inviterID uuid.UUID) (int64, error) {
	var count int64
	direct := r.db.Model(&models.User{}).Select("id").Where("inviter_id = ?", inviterID)
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("inviter_id IN (?)", direct).Count(&count).Error
	return count, err
}

// SetInviter only writes when the user has no inviter yet.
func (r *repository) SetInviter(ctx context.Context, userID, inviterID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND inviter_id IS NULL", userID).
		Update("inviter_id", inviterID)
	return res.RowsAffected > 0, res.Error
}

// SetInviteCode only writes when the user has no code yet.
func (r *repository) SetInviteCode(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND invite_code IS NULL", userID).
		Update("invite_code", code)
	return res.RowsAffected > 0, res.Error
}
