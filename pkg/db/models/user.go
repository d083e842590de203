package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/pkg/enums"
)

// User is both a buyer and, when IsAgent is set, a commission-earning agent.
// Money columns are only written through the ledger.
type User struct {
	ID           uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Email        string           `gorm:"column:email;type:text;not null;uniqueIndex" json:"email"`
	Username     string           `gorm:"column:username;type:text;not null" json:"username"`
	PasswordHash string           `gorm:"column:password_hash;not null" json:"-"`
	SystemRole   enums.SystemRole `gorm:"column:system_role;type:text;not null" json:"system_role"`
	IsActive     bool             `gorm:"column:is_active;not null" json:"is_active"`
	LastLoginAt  *time.Time       `gorm:"column:last_login_at" json:"last_login_at"`

	Balance        decimal.Decimal `gorm:"column:balance;type:numeric(18,4);not null" json:"balance"`
	TotalConsumed  decimal.Decimal `gorm:"column:total_consumed;type:numeric(18,4);not null" json:"total_consumed"`
	TotalCashback  decimal.Decimal `gorm:"column:total_cashback;type:numeric(18,4);not null" json:"total_cashback"`
	TotalRecharged decimal.Decimal `gorm:"column:total_recharged;type:numeric(18,4);not null" json:"total_recharged"`
	MemberLevel    int             `gorm:"column:member_level;not null" json:"member_level"`

	InviterID  *uuid.UUID `gorm:"column:inviter_id;type:uuid;index" json:"inviter_id"`
	InviteCode *string    `gorm:"column:invite_code;type:text;uniqueIndex" json:"invite_code"`

	IsAgent                 bool            `gorm:"column:is_agent;not null" json:"is_agent"`
	AgentLevel              int             `gorm:"column:agent_level;not null" json:"agent_level"`
	DirectCommissionRate    decimal.Decimal `gorm:"column:direct_commission_rate;type:numeric(6,4);not null" json:"direct_commission_rate"`
	IndirectCommissionRate  decimal.Decimal `gorm:"column:indirect_commission_rate;type:numeric(6,4);not null" json:"indirect_commission_rate"`
	TotalDirectCommission   decimal.Decimal `gorm:"column:total_direct_commission;type:numeric(18,4);not null" json:"total_direct_commission"`
	TotalIndirectCommission decimal.Decimal `gorm:"column:total_indirect_commission;type:numeric(18,4);not null" json:"total_indirect_commission"`
	TotalCommission         decimal.Decimal `gorm:"column:total_commission;type:numeric(18,4);not null" json:"total_commission"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	if u.SystemRole == "" {
		u.SystemRole = enums.SystemRoleUser
	}
	if u.MemberLevel == 0 {
		u.MemberLevel = 1
	}
	return nil
}
