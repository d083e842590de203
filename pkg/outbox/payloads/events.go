package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/smmhub-backend/pkg/enums"
)

// OrderSettledEvent is emitted once an order has been charged, forwarded and
// its cashback and commissions credited.
type OrderSettledEvent struct {
	OrderID         uuid.UUID         `json:"order_id"`
	UserID          uuid.UUID         `json:"user_id"`
	ServiceID       int               `json:"service_id"`
	Quantity        int               `json:"quantity"`
	Charge          decimal.Decimal   `json:"charge"`
	Cashback        decimal.Decimal   `json:"cashback"`
	CashbackRate    decimal.Decimal   `json:"cashback_rate"`
	Commission      decimal.Decimal   `json:"commission"`
	CommissionCount int               `json:"commission_count"`
	ExternalOrderID string            `json:"external_order_id"`
	Currency        enums.Currency    `json:"currency"`
	Status          enums.OrderStatus `json:"status"`
}

// FulfillmentCompensatedEvent reports a refund issued after the provider call failed.
type FulfillmentCompensatedEvent struct {
	UserID    uuid.UUID       `json:"user_id"`
	ServiceID int             `json:"service_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

// RechargeCompletedEvent is emitted when a gateway payment credits a balance.
type RechargeCompletedEvent struct {
	RechargeID    uuid.UUID           `json:"recharge_id"`
	UserID        uuid.UUID           `json:"user_id"`
	OutTradeNo    string              `json:"out_trade_no"`
	TradeNo       string              `json:"trade_no,omitempty"`
	Amount        decimal.Decimal     `json:"amount"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	CompletedAt   time.Time           `json:"completed_at"`
}

// BalanceAdjustedEvent records a manual admin adjustment.
type BalanceAdjustedEvent struct {
	UserID    uuid.UUID             `json:"user_id"`
	AdminID   uuid.UUID             `json:"admin_id"`
	Direction enums.LedgerDirection `json:"direction"`
	Amount    decimal.Decimal       `json:"amount"`
	Reason    string                `json:"reason"`
}
