package commission

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/smmhub-backend/pkg/config"
	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	"github.com/angelmondragon/smmhub-backend/pkg/enums"
)

// Defaults are the fallback rates used when neither a level config nor the
// agent's own rate applies.
type Defaults struct {
	DirectRate   decimal.Decimal
	IndirectRate decimal.Decimal
	MaxLevels    int
}

// DefaultsFromConfig reads the fallback rates from the commission config section.
func DefaultsFromConfig(cfg config.CommissionConfig) Defaults {
	maxLevels := cfg.MaxLevels
	if maxLevels <= 0 {
		maxLevels = 3
	}
	return Defaults{
		DirectRate:   cfg.DirectRate(),
		IndirectRate: cfg.IndirectRate(),
		MaxLevels:    maxLevels,
	}
}

// rateTable resolves the commission rate for an agent at a given chain position.
type rateTable struct {
	byLevel  map[int]models.CommissionConfig
	defaults Defaults
}

func newRateTable(configs []models.CommissionConfig, defaults Defaults) rateTable {
	byLevel := make(map[int]models.CommissionConfig, len(configs))
	for _, cfg := range configs {
		byLevel[cfg.AgentLevel] = cfg
	}
	return rateTable{byLevel: byLevel, defaults: defaults}
}

// chainDepth is the number of inviters worth loading. Levels without a
// config reach as far as the defaults, so the default depth is a floor.
func (t rateTable) chainDepth() int {
	depth := t.defaults.MaxLevels
	for _, cfg := range t.byLevel {
		depth = max(depth, cfg.MaxLevels)
	}
	return depth
}

// eligible reports whether an agent sitting at position (0 = direct inviter)
// is within the reach configured for its level.
func (t rateTable) eligible(agent models.User, position int) bool {
	if cfg, ok := t.byLevel[agent.AgentLevel]; ok && cfg.MaxLevels > 0 {
		return position < cfg.MaxLevels
	}
	return position < t.defaults.MaxLevels
}

// rate applies level config first, then the agent's own rate, then the defaults.
func (t rateTable) rate(agent models.User, kind enums.CommissionType) decimal.Decimal {
	direct := kind == enums.CommissionTypeDirect
	if cfg, ok := t.byLevel[agent.AgentLevel]; ok {
		if direct {
			return cfg.DirectRate
		}
		return cfg.IndirectRate
	}
	if direct {
		if agent.DirectCommissionRate.IsPositive() {
			return agent.DirectCommissionRate
		}
		return t.defaults.DirectRate
	}
	if agent.IndirectCommissionRate.IsPositive() {
		return agent.IndirectCommissionRate
	}
	return t.defaults.IndirectRate
}

func commissionTypeAt(position int) enums.CommissionType {
	if position == 0 {
		return enums.CommissionTypeDirect
	}
	return enums.CommissionTypeIndirect
}
