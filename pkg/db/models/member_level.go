package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MemberLevel maps a membership tier to its cashback rate.
type MemberLevel struct {
	Level        int             `gorm:"column:level;primaryKey;autoIncrement:false" json:"level"`
	Name         string          `gorm:"column:name;type:text;not null" json:"name"`
	CashbackRate decimal.Decimal `gorm:"column:cashback_rate;type:numeric(6,4);not null" json:"cashback_rate"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
