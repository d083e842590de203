package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	"github.com/angelmondragon/smmhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/pagination"
)

// Service is the only writer of user money columns. Every mutation appends a
// ledger entry inside the caller's transaction.
type Service interface {
	Debit(ctx context.Context, tx *gorm.DB, m Mutation) (*models.LedgerEntry, error)
	Credit(ctx context.Context, tx *gorm.DB, m Mutation) (*models.LedgerEntry, error)
	Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	History(ctx context.Context, userID uuid.UUID, params pagination.Params) (*HistoryPage, error)
	Reconcile(ctx context.Context, userID uuid.UUID) (*Reconciliation, error)
}

// Mutation describes one balance movement.
type Mutation struct {
	UserID        uuid.UUID
	Amount        decimal.Decimal
	Category      enums.LedgerCategory
	ReferenceType string
	ReferenceID   string
	Note          *string
}

type HistoryPage struct {
	Entries    []models.LedgerEntry `json:"entries"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// Reconciliation compares the stored balance with the net of all ledger entries.
// Drift is non-zero for balances that predate the ledger or were edited out of band.
type Reconciliation struct {
	UserID    uuid.UUID       `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Credits   decimal.Decimal `json:"credits"`
	Debits    decimal.Decimal `json:"debits"`
	LedgerNet decimal.Decimal `json:"ledger_net"`
	Drift     decimal.Decimal `json:"drift"`
	Entries   int             `json:"entries"`
}

// Balanced reports whether the stored balance matches the ledger net.
func (r Reconciliation) Balanced() bool {
	return r.Drift.IsZero()
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

var debitCategories = map[enums.LedgerCategory]bool{
	enums.LedgerCategoryOrderCharge: true,
	enums.LedgerCategoryAdjustment:  true,
}

func (s *service) Debit(ctx context.Context, tx *gorm.DB, m Mutation) (*models.LedgerEntry, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if err := validateMutation(m); err != nil {
		return nil, err
	}
	if !debitCategories[m.Category] {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("category %s cannot debit", m.Category))
	}

	totals := map[string]any{}
	if m.Category == enums.LedgerCategoryOrderCharge {
		totals["total_consumed"] = gorm.Expr("total_consumed + ?", m.Amount)
	}

	repo := s.repo.WithTx(tx)
	updated, err := repo.ApplyDelta(ctx, m.UserID, m.Amount.Neg(), true, totals)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "debit balance")
	}
	if !updated {
		exists, err := repo.UserExists(ctx, m.UserID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
		}
		if !exists {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient balance").
			WithDetails(map[string]any{"required": m.Amount.StringFixed(2)})
	}

	return s.appendEntry(ctx, repo, m, enums.LedgerDirectionDebit)
}

func (s *service) Credit(ctx context.Context, tx *gorm.DB, m Mutation) (*models.LedgerEntry, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if err := validateMutation(m); err != nil {
		return nil, err
	}
	if m.Category == enums.LedgerCategoryOrderCharge {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order charges cannot credit")
	}

	repo := s.repo.WithTx(tx)
	updated, err := repo.ApplyDelta(ctx, m.UserID, m.Amount, false, creditTotals(m.Category, m.Amount))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "credit balance")
	}
	if !updated {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	return s.appendEntry(ctx, repo, m, enums.LedgerDirectionCredit)
}

// creditTotals returns the cumulative columns a credit of the given category feeds.
func creditTotals(category enums.LedgerCategory, amount decimal.Decimal) map[string]any {
	switch category {
	case enums.LedgerCategoryCashback:
		return map[string]any{"total_cashback": gorm.Expr("total_cashback + ?", amount)}
	case enums.LedgerCategoryCommissionDirect:
		return map[string]any{
			"total_direct_commission": gorm.Expr("total_direct_commission + ?", amount),
			"total_commission":        gorm.Expr("total_commission + ?", amount),
		}
	case enums.LedgerCategoryCommissionIndirect:
		return map[string]any{
			"total_indirect_commission": gorm.Expr("total_indirect_commission + ?", amount),
			"total_commission":          gorm.Expr("total_commission + ?", amount),
		}
	case enums.LedgerCategoryRecharge:
		return map[string]any{"total_recharged": gorm.Expr("total_recharged + ?", amount)}
	case enums.LedgerCategoryOrderRefund:
		return map[string]any{"total_consumed": gorm.Expr("total_consumed - ?", amount)}
	default:
		return nil
	}
}

func (s *service) appendEntry(ctx context.Context, repo Repository, m Mutation, direction enums.LedgerDirection) (*models.LedgerEntry, error) {
	after, err := repo.CurrentBalance(ctx, m.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read balance")
	}
	before := after.Add(m.Amount)
	if direction == enums.LedgerDirectionCredit {
		before = after.Sub(m.Amount)
	}

	entry := &models.LedgerEntry{
		UserID:        m.UserID,
		Direction:     direction,
		Category:      m.Category,
		Amount:        m.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
		Note:          m.Note,
	}
	if err := repo.InsertEntry(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append ledger entry")
	}
	return entry, nil
}

func validateMutation(m Mutation) error {
	if m.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !m.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !m.Category.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger category %q", m.Category))
	}
	if m.ReferenceType == "" || m.ReferenceID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "ledger reference is required")
	}
	return nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	balance, err := s.repo.CurrentBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read balance")
	}
	return balance, nil
}

func (s *service) History(ctx context.Context, userID uuid.UUID, params pagination.Params) (*HistoryPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListEntries(ctx, userID, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list ledger entries")
	}
	entries, next := pagination.Trim(rows, params.Limit, func(e models.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
	return &HistoryPage{Entries: entries, NextCursor: next}, nil
}

func (s *service) Reconcile(ctx context.Context, userID uuid.UUID) (*Reconciliation, error) {
	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.AllEntries(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load ledger entries")
	}

	rec := &Reconciliation{UserID: userID, Balance: balance, Entries: len(entries)}
	for _, e := range entries {
		if e.Direction == enums.LedgerDirectionCredit {
			rec.Credits = rec.Credits.Add(e.Amount)
		} else {
			rec.Debits = rec.Debits.Add(e.Amount)
		}
	}
	rec.LedgerNet = rec.Credits.Sub(rec.Debits)
	rec.Drift = balance.Sub(rec.LedgerNet).Round(4)
	return rec, nil
}
