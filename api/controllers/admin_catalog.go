package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/smmhub-backend/api/responses"
	"github.com/angelmondragon/smmhub-backend/api/validators"
	"github.com/angelmondragon/smmhub-backend/internal/catalog"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/logger"
	"github.com/angelmondragon/smmhub-backend/pkg/smmapi"
)

// ProviderReader is the read side of the fulfillment panel exposed to admins.
type ProviderReader interface {
	Balance(ctx context.Context) (*smmapi.Balance, error)
	Status(ctx context.Context, externalOrderID string) (*smmapi.OrderStatus, error)
}

type upsertServiceRequest struct {
	ServiceID     int             `json:"service_id" validate:"required,gt=0"`
	ServiceName   string          `json:"service_name" validate:"required,max=255"`
	Category      string          `json:"category" validate:"max=128"`
	APIPrice      decimal.Decimal `json:"api_price" validate:"gte=0"`
	CustomerPrice decimal.Decimal `json:"customer_price" validate:"gt=0"`
	MinQuantity   int             `json:"min_quantity" validate:"gte=0"`
	MaxQuantity   int             `json:"max_quantity" validate:"gte=0"`
	IsActive      *bool           `json:"is_active,omitempty"`
	Description   *string         `json:"description,omitempty"`
}

func AdminUpsertService(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		var body upsertServiceRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		active := true
		if body.IsActive != nil {
			active = *body.IsActive
		}
		view, err := svc.Upsert(r.Context(), catalog.UpsertInput{
			ServiceID:     body.ServiceID,
			ServiceName:   validators.SanitizeString(body.ServiceName, 255),
			Category:      validators.SanitizeString(body.Category, 128),
			APIPrice:      body.APIPrice,
			CustomerPrice: body.CustomerPrice,
			MinQuantity:   body.MinQuantity,
			MaxQuantity:   body.MaxQuantity,
			IsActive:      active,
			Description:   body.Description,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func AdminSyncServices(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		result, err := svc.Sync(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func AdminProfitReport(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		report, err := svc.ProfitReport(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

func AdminProviderBalance(provider ProviderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if provider == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "provider not configured"))
			return
		}
		balance, err := provider.Balance(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

func AdminProviderOrderStatus(provider ProviderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if provider == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "provider not configured"))
			return
		}
		externalID := strings.TrimSpace(chi.URLParam(r, "externalOrderId"))
		if externalID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "external order id is required"))
			return
		}
		status, err := provider.Status(r.Context(), externalID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}
