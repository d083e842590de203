package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/smmhub-backend/api/responses"
	"github.com/angelmondragon/smmhub-backend/api/validators"
	"github.com/angelmondragon/smmhub-backend/internal/commission"
	"github.com/angelmondragon/smmhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/logger"
)

type commissionConfigRequest struct {
	AgentLevel   int             `json:"agent_level" validate:"gte=0,lte=10"`
	DirectRate   decimal.Decimal `json:"direct_rate" validate:"gte=0,lte=1"`
	IndirectRate decimal.Decimal `json:"indirect_rate" validate:"gte=0,lte=1"`
	MaxLevels    int             `json:"max_levels" validate:"gte=1,lte=10"`
	IsActive     *bool           `json:"is_active,omitempty"`
	Description  *string         `json:"description,omitempty" validate:"omitempty,max=255"`
}

func AdminListCommissionConfigs(svc commission.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "commission service unavailable"))
			return
		}
		configs, err := svc.ListConfigs(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"configs": configs})
	}
}

// AdminUpsertCommissionConfig writes the rates for one agent level. Omitting
// is_active keeps the config active.
func AdminUpsertCommissionConfig(svc commission.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "commission service unavailable"))
			return
		}
		var body commissionConfigRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		active := true
		if body.IsActive != nil {
			active = *body.IsActive
		}
		cfg, err := svc.UpsertConfig(r.Context(), commission.ConfigInput{
			AgentLevel:   body.AgentLevel,
			DirectRate:   body.DirectRate,
			IndirectRate: body.IndirectRate,
			MaxLevels:    body.MaxLevels,
			IsActive:     active,
			Description:  body.Description,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cfg)
	}
}

// AdminListCommissions filters by agent_id, consumer_id, order_id, status and type.
func AdminListCommissions(svc commission.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "commission service unavailable"))
			return
		}
		filter, err := parseCommissionFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListAll(r.Context(), filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func AdminPayCommission(svc commission.Service, logg *logger.Logger) http.HandlerFunc {
	return commissionTransition(svc, logg, func(s commission.Service, r *http.Request, id uuid.UUID) (any, error) {
		return s.Pay(r.Context(), id)
	})
}

func AdminCancelCommission(svc commission.Service, logg *logger.Logger) http.HandlerFunc {
	return commissionTransition(svc, logg, func(s commission.Service, r *http.Request, id uuid.UUID) (any, error) {
		return s.Cancel(r.Context(), id)
	})
}

func commissionTransition(svc commission.Service, logg *logger.Logger, apply func(commission.Service, *http.Request, uuid.UUID) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "commission service unavailable"))
			return
		}
		recordID, err := validators.ParseURLUUID(r, "commissionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		record, err := apply(svc, r, recordID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

func parseCommissionFilter(r *http.Request) (commission.ListFilter, error) {
	var (
		filter commission.ListFilter
		err    error
	)
	if filter.AgentID, err = validators.ParseQueryUUID(r, "agent_id"); err != nil {
		return filter, err
	}
	if filter.ConsumerID, err = validators.ParseQueryUUID(r, "consumer_id"); err != nil {
		return filter, err
	}
	if filter.OrderID, err = validators.ParseQueryUUID(r, "order_id"); err != nil {
		return filter, err
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParseCommissionStatus(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status")
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		kind, err := enums.ParseCommissionType(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid type")
		}
		filter.Type = &kind
	}
	return filter, nil
}
