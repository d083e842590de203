package enums

import "fmt"

// RechargeStatus tracks a top-up from creation to gateway confirmation.
type RechargeStatus string

const (
	RechargeStatusPending   RechargeStatus = "pending"
	RechargeStatusCompleted RechargeStatus = "completed"
	RechargeStatusFailed    RechargeStatus = "failed"
)

var validRechargeStatuses = []RechargeStatus{
	RechargeStatusPending,
	RechargeStatusCompleted,
	RechargeStatusFailed,
}

func (s RechargeStatus) IsValid() bool {
	for _, candidate := range validRechargeStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// PaymentMethod is the channel a recharge was paid through.
type PaymentMethod string

const (
	PaymentMethodWechat PaymentMethod = "wechat"
	PaymentMethodAlipay PaymentMethod = "alipay"
	PaymentMethodManual PaymentMethod = "manual"
)

// GatewayType returns the channel name the payment gateway expects.
func (m PaymentMethod) GatewayType() (string, bool) {
	switch m {
	case PaymentMethodWechat:
		return "wxpay", true
	case PaymentMethodAlipay:
		return "alipay", true
	default:
		return "", false
	}
}

// ParsePaymentMethod accepts the user-selectable channels. Manual recharges are admin-only.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	switch PaymentMethod(value) {
	case PaymentMethodWechat, PaymentMethodAlipay:
		return PaymentMethod(value), nil
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}

// PaymentMethodFromGatewayType maps the gateway channel back to a PaymentMethod.
func PaymentMethodFromGatewayType(value string) PaymentMethod {
	switch value {
	case "wxpay":
		return PaymentMethodWechat
	case "alipay":
		return PaymentMethodAlipay
	default:
		return PaymentMethod(value)
	}
}
