package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CashbackRecord is immutable; one per order.
type CashbackRecord struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID   uuid.UUID       `gorm:"column:order_id;type:uuid;not null;uniqueIndex" json:"order_id"`
	UserID    uuid.UUID       `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(18,4);not null" json:"amount"`
	Rate      decimal.Decimal `gorm:"column:rate;type:numeric(6,4);not null" json:"rate"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (c *CashbackRecord) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
