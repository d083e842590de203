package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/pkg/enums"
)

// CommissionRecord is one agent's share of one order. (agent_id, order_id) is unique.
type CommissionRecord struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	AgentID          uuid.UUID              `gorm:"column:agent_id;type:uuid;not null;uniqueIndex:ux_commission_records_agent_order,priority:1" json:"agent_id"`
	ConsumerID       uuid.UUID              `gorm:"column:consumer_id;type:uuid;not null;index" json:"consumer_id"`
	OrderID          uuid.UUID              `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_commission_records_agent_order,priority:2;index" json:"order_id"`
	CommissionType   enums.CommissionType   `gorm:"column:commission_type;type:text;not null" json:"commission_type"`
	CommissionRate   decimal.Decimal        `gorm:"column:commission_rate;type:numeric(6,4);not null" json:"commission_rate"`
	OrderAmount      decimal.Decimal        `gorm:"column:order_amount;type:numeric(18,4);not null" json:"order_amount"`
	CommissionAmount decimal.Decimal        `gorm:"column:commission_amount;type:numeric(18,4);not null" json:"commission_amount"`
	Status           enums.CommissionStatus `gorm:"column:status;type:text;not null" json:"status"`
	Description      string                 `gorm:"column:description;type:text;not null" json:"description"`
	PaidAt           *time.Time             `gorm:"column:paid_at" json:"paid_at"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (c *CommissionRecord) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
