package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/pkg/enums"
)

// Order is written once per successful settlement.
type Order struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	ServiceID       int               `gorm:"column:service_id;not null" json:"service_id"`
	ServiceName     string            `gorm:"column:service_name;type:text;not null" json:"service_name"`
	Link            string            `gorm:"column:link;type:text;not null" json:"link"`
	Quantity        int               `gorm:"column:quantity;not null" json:"quantity"`
	Comments        *string           `gorm:"column:comments" json:"comments"`
	Charge          decimal.Decimal   `gorm:"column:charge;type:numeric(18,4);not null" json:"charge"`
	Currency        enums.Currency    `gorm:"column:currency;type:text;not null" json:"currency"`
	Status          enums.OrderStatus `gorm:"column:status;type:text;not null" json:"status"`
	ExternalOrderID string            `gorm:"column:external_order_id;type:text;not null" json:"external_order_id"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}
