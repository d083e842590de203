package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/pkg/enums"
)

// LedgerEntry records one balance mutation. Rows are never updated or deleted.
type LedgerEntry struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	Direction     enums.LedgerDirection `gorm:"column:direction;type:text;not null" json:"direction"`
	Category      enums.LedgerCategory  `gorm:"column:category;type:text;not null" json:"category"`
	Amount        decimal.Decimal       `gorm:"column:amount;type:numeric(18,4);not null" json:"amount"`
	BalanceBefore decimal.Decimal       `gorm:"column:balance_before;type:numeric(18,4);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal       `gorm:"column:balance_after;type:numeric(18,4);not null" json:"balance_after"`
	ReferenceType string                `gorm:"column:reference_type;type:text;not null" json:"reference_type"`
	ReferenceID   string                `gorm:"column:reference_id;type:text;not null" json:"reference_id"`
	Note          *string               `gorm:"column:note" json:"note"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
