package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ServicePrice is the sellable catalogue entry for one provider service.
// APIPrice is the provider cost per unit and CustomerPrice the retail price per unit.
type ServicePrice struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ServiceID     int             `gorm:"column:service_id;not null;uniqueIndex" json:"service_id"`
	ServiceName   string          `gorm:"column:service_name;type:text;not null" json:"service_name"`
	Category      string          `gorm:"column:category;type:text;not null" json:"category"`
	APIPrice      decimal.Decimal `gorm:"column:api_price;type:numeric(18,4);not null" json:"api_price"`
	CustomerPrice decimal.Decimal `gorm:"column:customer_price;type:numeric(18,4);not null" json:"customer_price"`
	MinQuantity   int             `gorm:"column:min_quantity;not null" json:"min_quantity"`
	MaxQuantity   int             `gorm:"column:max_quantity;not null" json:"max_quantity"`
	IsActive      bool            `gorm:"column:is_active;not null" json:"is_active"`
	Description   *string         `gorm:"column:description" json:"description"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (p *ServicePrice) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	if p.MinQuantity <= 0 {
		p.MinQuantity = 1
	}
	if p.MaxQuantity <= 0 {
		p.MaxQuantity = 10000
	}
	return nil
}
