package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/pkg/enums"
)

type RechargeRecord struct {
	ID            uuid.UUID            `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID            `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	OutTradeNo    string               `gorm:"column:out_trade_no;type:text;not null;uniqueIndex" json:"out_trade_no"`
	TradeNo       *string              `gorm:"column:trade_no" json:"trade_no"`
	Amount        decimal.Decimal      `gorm:"column:amount;type:numeric(18,4);not null" json:"amount"`
	PaymentMethod enums.PaymentMethod  `gorm:"column:payment_method;type:text;not null" json:"payment_method"`
	Status        enums.RechargeStatus `gorm:"column:status;type:text;not null;index" json:"status"`
	Remark        *string              `gorm:"column:remark" json:"remark"`
	FailureReason *string              `gorm:"column:failure_reason" json:"failure_reason"`
	CompletedAt   *time.Time           `gorm:"column:completed_at" json:"completed_at"`
	CreatedAt     time.Time            `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time            `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (r *RechargeRecord) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
