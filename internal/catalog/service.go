package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/logger"
	"github.com/angelmondragon/smmhub-backend/pkg/smmapi"
)

type providerCatalog interface {
	Services(ctx context.Context) ([]smmapi.Service, error)
}

// Service manages the retail price list layered over the provider catalogue.
type Service interface {
	ListActive(ctx context.Context, category string) ([]models.ServicePrice, error)
	ActivePrice(ctx context.Context, serviceID int) (*models.ServicePrice, error)
	Upsert(ctx context.Context, input UpsertInput) (*PriceView, error)
	Sync(ctx context.Context) (*SyncResult, error)
	ProfitReport(ctx context.Context) (*ProfitReport, error)
}

type UpsertInput struct {
	ServiceID     int
	ServiceName   string
	Category      string
	APIPrice      decimal.Decimal
	CustomerPrice decimal.Decimal
	MinQuantity   int
	MaxQuantity   int
	IsActive      bool
	Description   *string
}

// PriceView is a stored price plus its per-unit margin.
type PriceView struct {
	Price      models.ServicePrice `json:"price"`
	Profit     decimal.Decimal     `json:"profit"`
	ProfitRate decimal.Decimal     `json:"profit_rate"`
}

type SyncResult struct {
	Updated  int `json:"updated"`
	Unlisted int `json:"unlisted"`
	Missing  int `json:"missing"`
}

type ProfitReport struct {
	Lines          []PriceView     `json:"lines"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	TotalProfit    decimal.Decimal `json:"total_profit"`
	OverallRatePct decimal.Decimal `json:"overall_profit_rate"`
}

type service struct {
	repo     Repository
	provider providerCatalog
	logg     *logger.Logger
}

// NewService builds the catalogue service. provider may be nil when no panel
// key is configured; Sync then reports a dependency error.
func NewService(repo Repository, provider providerCatalog, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, provider: provider, logg: logg}, nil
}

func (s *service) ListActive(ctx context.Context, category string) ([]models.ServicePrice, error) {
	rows, err := s.repo.ListActive(ctx, category)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list service prices")
	}
	return rows, nil
}

// ActivePrice returns PRICE_NOT_CONFIGURED unless the service has an active price.
func (s *service) ActivePrice(ctx context.Context, serviceID int) (*models.ServicePrice, error) {
	price, err := s.repo.FindByServiceID(ctx, serviceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load service price")
	}
	if price == nil || !price.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodePriceNotConfigured, "service price not configured").
			WithDetails(map[string]any{"service_id": serviceID})
	}
	return price, nil
}

func (s *service) Upsert(ctx context.Context, input UpsertInput) (*PriceView, error) {
	if err := validateUpsert(input); err != nil {
		return nil, err
	}
	stored, err := s.repo.Upsert(ctx, &models.ServicePrice{
		ServiceID:     input.ServiceID,
		ServiceName:   strings.TrimSpace(input.ServiceName),
		Category:      strings.TrimSpace(input.Category),
		APIPrice:      input.APIPrice,
		CustomerPrice: input.CustomerPrice,
		MinQuantity:   input.MinQuantity,
		MaxQuantity:   input.MaxQuantity,
		IsActive:      input.IsActive,
		Description:   input.Description,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store service price")
	}
	view := newPriceView(*stored)
	return &view, nil
}

func validateUpsert(input UpsertInput) error {
	details := map[string]any{}
	if input.ServiceID <= 0 {
		details["service_id"] = "must be positive"
	}
	if strings.TrimSpace(input.ServiceName) == "" {
		details["service_name"] = "is required"
	}
	if input.APIPrice.IsNegative() {
		details["api_price"] = "must not be negative"
	}
	if !input.CustomerPrice.IsPositive() {
		details["customer_price"] = "must be positive"
	}
	if input.MinQuantity < 0 || input.MaxQuantity < 0 {
		details["quantity"] = "bounds must not be negative"
	} else if input.MinQuantity > 0 && input.MaxQuantity > 0 && input.MinQuantity > input.MaxQuantity {
		details["quantity"] = "min_quantity must not exceed max_quantity"
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid service price").WithDetails(details)
	}
	return nil
}

var hundred = decimal.NewFromInt(100)

func newPriceView(p models.ServicePrice) PriceView {
	profit := p.CustomerPrice.Sub(p.APIPrice)
	rate := decimal.Zero
	if p.APIPrice.IsPositive() {
		rate = profit.Div(p.APIPrice).Mul(hundred).Round(2)
	}
	return PriceView{Price: p, Profit: profit.Round(4), ProfitRate: rate}
}

// Sync refreshes cost and quantity bounds of already listed services from the
// provider. Services the provider offers but that are not listed are counted,
// never auto-listed.
func (s *service) Sync(ctx context.Context) (*SyncResult, error) {
	if s.provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "smm panel not configured")
	}
	remote, err := s.provider.Services(ctx)
	if err != nil {
		return nil, err
	}
	listed, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list service prices")
	}

	byID := make(map[int]models.ServicePrice, len(listed))
	for _, p := range listed {
		byID[p.ServiceID] = p
	}

	result := &SyncResult{}
	seen := make(map[int]struct{}, len(remote))
	for _, svc := range remote {
		seen[svc.ID] = struct{}{}
		current, ok := byID[svc.ID]
		if !ok {
			result.Unlisted++
			continue
		}
		if current.APIPrice.Equal(svc.Rate) && current.MinQuantity == svc.Min && current.MaxQuantity == svc.Max {
			continue
		}
		if err := s.repo.UpdateCost(ctx, svc.ID, svc.Rate, svc.Min, svc.Max); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update service cost")
		}
		result.Updated++
	}
	for id := range byID {
		if _, ok := seen[id]; !ok {
			result.Missing++
		}
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"updated":  result.Updated,
		"unlisted": result.Unlisted,
		"missing":  result.Missing,
	}), "catalog synced from provider")
	return result, nil
}

func (s *service) ProfitReport(ctx context.Context) (*ProfitReport, error) {
	rows, err := s.repo.ListActive(ctx, "")
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list service prices")
	}
	report := &ProfitReport{Lines: make([]PriceView, 0, len(rows))}
	for _, p := range rows {
		view := newPriceView(p)
		report.Lines = append(report.Lines, view)
		report.TotalCost = report.TotalCost.Add(p.APIPrice)
		report.TotalProfit = report.TotalProfit.Add(view.Profit)
	}
	if report.TotalCost.IsPositive() {
		report.OverallRatePct = report.TotalProfit.Div(report.TotalCost).Mul(hundred).Round(2)
	}
	return report, nil
}
