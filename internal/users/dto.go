package users

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	"github.com/angelmondragon/smmhub-backend/pkg/enums"
)

// UserDTO is the transport shape that omits sensitive credentials.
type UserDTO struct {
	ID                     uuid.UUID        `json:"id"`
	Email                  string           `json:"email"`
	Username               string           `json:"username"`
	SystemRole             enums.SystemRole `json:"system_role"`
	IsActive               bool             `json:"is_active"`
	LastLoginAt            *time.Time       `json:"last_login_at,omitempty"`
	Balance                decimal.Decimal  `json:"balance"`
	TotalConsumed          decimal.Decimal  `json:"total_consumed"`
	TotalCashback          decimal.Decimal  `json:"total_cashback"`
	TotalRecharged         decimal.Decimal  `json:"total_recharged"`
	MemberLevel            int              `json:"member_level"`
	InviterID              *uuid.UUID       `json:"inviter_id,omitempty"`
	InviteCode             *string          `json:"invite_code,omitempty"`
	IsAgent                bool             `json:"is_agent"`
	AgentLevel             int              `json:"agent_level"`
	DirectCommissionRate   decimal.Decimal  `json:"direct_commission_rate"`
	IndirectCommissionRate decimal.Decimal  `json:"indirect_commission_rate"`
	TotalCommission        decimal.Decimal  `json:"total_commission"`
	CreatedAt              time.Time        `json:"created_at"`
}

// CreateUserDTO holds the data required by the repo to persist a new user.
type CreateUserDTO struct {
	Email        string
	Username     string
	PasswordHash string
	SystemRole   enums.SystemRole
	IsActive     *bool
}

func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}
	return &UserDTO{
		ID:                     u.ID,
		Email:                  u.Email,
		Username:               u.Username,
		SystemRole:             u.SystemRole,
		IsActive:               u.IsActive,
		LastLoginAt:            u.LastLoginAt,
		Balance:                u.Balance,
		TotalConsumed:          u.TotalConsumed,
		TotalCashback:          u.TotalCashback,
		TotalRecharged:         u.TotalRecharged,
		MemberLevel:            u.MemberLevel,
		InviterID:              u.InviterID,
		InviteCode:             u.InviteCode,
		IsAgent:                u.IsAgent,
		AgentLevel:             u.AgentLevel,
		DirectCommissionRate:   u.DirectCommissionRate,
		IndirectCommissionRate: u.IndirectCommissionRate,
		TotalCommission:        u.TotalCommission,
		CreatedAt:              u.CreatedAt,
	}
}

func (c CreateUserDTO) ToModel() *models.User {
	isActive := true
	if c.IsActive != nil {
		isActive = *c.IsActive
	}
	role := c.SystemRole
	if role == "" {
		role = enums.SystemRoleUser
	}
	return &models.User{
		Email:        c.Email,
		Username:     c.Username,
		PasswordHash: c.PasswordHash,
		SystemRole:   role,
		IsActive:     isActive,
		MemberLevel:  1,
	}
}

// SetAgentInput flags or unflags a user as a commission-earning agent.
// Nil rates leave the stored own rates untouched.
type SetAgentInput struct {
	UserID       uuid.UUID        `json:"user_id" validate:"required"`
	IsAgent      bool             `json:"is_agent"`
	AgentLevel   int              `json:"agent_level" validate:"gte=0"`
	DirectRate   *decimal.Decimal `json:"direct_commission_rate,omitempty"`
	IndirectRate *decimal.Decimal `json:"indirect_commission_rate,omitempty"`
}

// AdjustBalanceInput is a signed manual balance change. Positive amounts credit.
type AdjustBalanceInput struct {
	UserID  uuid.UUID       `json:"-"`
	AdminID uuid.UUID       `json:"-"`
	Amount  decimal.Decimal `json:"amount"`
	Reason  string          `json:"reason" validate:"required"`
}
