package enums

import "fmt"

// LedgerDirection is the sign of a ledger entry.
type LedgerDirection string

const (
	LedgerDirectionDebit  LedgerDirection = "debit"
	LedgerDirectionCredit LedgerDirection = "credit"
)

// LedgerCategory classifies why a balance moved.
type LedgerCategory string

const (
	LedgerCategoryOrderCharge        LedgerCategory = "order_charge"
	LedgerCategoryOrderRefund        LedgerCategory = "order_refund"
	LedgerCategoryCashback           LedgerCategory = "cashback"
	LedgerCategoryCommissionDirect   LedgerCategory = "commission_direct"
	LedgerCategoryCommissionIndirect LedgerCategory = "commission_indirect"
	LedgerCategoryRecharge           LedgerCategory = "recharge"
	LedgerCategoryAdjustment         LedgerCategory = "adjustment"
)

var validLedgerCategories = []LedgerCategory{
	LedgerCategoryOrderCharge,
	LedgerCategoryOrderRefund,
	LedgerCategoryCashback,
	LedgerCategoryCommissionDirect,
	LedgerCategoryCommissionIndirect,
	LedgerCategoryRecharge,
	LedgerCategoryAdjustment,
}

// IsValid reports whether the value matches a known ledger category.
func (c LedgerCategory) IsValid() bool {
	for _, candidate := range validLedgerCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseLedgerCategory converts raw input into LedgerCategory.
func ParseLedgerCategory(value string) (LedgerCategory, error) {
	for _, candidate := range validLedgerCategories {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger category %q", value)
}

// CommissionLedgerCategory maps a commission type to the ledger category it credits.
func CommissionLedgerCategory(t CommissionType) LedgerCategory {
	if t == CommissionTypeDirect {
		return LedgerCategoryCommissionDirect
	}
	return LedgerCategoryCommissionIndirect
}
