package settlement

import "github.com/shopspring/decimal"

const (
	minMemberLevel = 1
	maxMemberLevel = 4
)

// defaultCashbackRates applies when the member_levels table has no row for a tier.
var defaultCashbackRates = map[int]decimal.Decimal{
	1: decimal.RequireFromString("0.02"),
	2: decimal.RequireFromString("0.10"),
	3: decimal.RequireFromString("0.15"),
	4: decimal.RequireFromString("0.20"),
}

func defaultCashbackRate(level int) decimal.Decimal {
	if rate, ok := defaultCashbackRates[level]; ok {
		return rate
	}
	return defaultCashbackRates[minMemberLevel]
}

func validMemberLevel(level int) bool {
	return level >= minMemberLevel && level <= maxMemberLevel
}
