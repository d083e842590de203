package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CommissionConfig sets the rates for every agent of a given agent level.
type CommissionConfig struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	AgentLevel   int             `gorm:"column:agent_level;not null;uniqueIndex" json:"agent_level"`
	DirectRate   decimal.Decimal `gorm:"column:direct_rate;type:numeric(6,4);not null" json:"direct_rate"`
	IndirectRate decimal.Decimal `gorm:"column:indirect_rate;type:numeric(6,4);not null" json:"indirect_rate"`
	MaxLevels    int             `gorm:"column:max_levels;not null" json:"max_levels"`
	IsActive     bool            `gorm:"column:is_active;not null" json:"is_active"`
	Description  *string         `gorm:"column:description" json:"description"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (c *CommissionConfig) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	if c.MaxLevels <= 0 {
		c.MaxLevels = 3
	}
	return nil
}
