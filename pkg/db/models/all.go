package models

// All lists every persisted model, in dependency order.
func All() []any {
	return []any{
		&User{},
		&MemberLevel{},
		&ServicePrice{},
		&Order{},
		&CashbackRecord{},
		&CommissionConfig{},
		&CommissionRecord{},
		&LedgerEntry{},
		&RechargeRecord{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
