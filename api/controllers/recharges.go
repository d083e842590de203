package controllers

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/smmhub-backend/api/middleware"
	"github.com/angelmondragon/smmhub-backend/api/responses"
	"github.com/angelmondragon/smmhub-backend/api/validators"
	"github.com/angelmondragon/smmhub-backend/internal/recharge"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/logger"
)

const (
	notifySuccess = "success"
	notifyFail    = "fail"
)

type createRechargeRequest struct {
	Amount        decimal.Decimal `json:"amount" validate:"gt=0"`
	PaymentMethod string          `json:"payment_method" validate:"required"`
	Remark        string          `json:"remark,omitempty" validate:"max=255"`
}

// CreateRecharge opens a gateway payment for the caller. publicOrigin is the
// externally reachable base URL; the request host is used when it is empty.
func CreateRecharge(svc recharge.Service, publicOrigin string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recharge service unavailable"))
			return
		}
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createRechargeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Create(r.Context(), recharge.CreateInput{
			UserID:        userID,
			Amount:        body.Amount,
			PaymentMethod: body.PaymentMethod,
			Remark:        validators.SanitizeString(body.Remark, 255),
			ClientIP:      middleware.ClientIP(r),
			Origin:        requestOrigin(r, publicOrigin),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func RechargeHistory(svc recharge.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recharge service unavailable"))
			return
		}
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.History(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// RechargeNotify is the unauthenticated gateway callback. The gateway keeps
// retrying until it reads a success reply, so duplicates also answer success.
func RechargeNotify(svc recharge.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteRaw(w, http.StatusServiceUnavailable, map[string]string{"status": notifyFail})
			return
		}
		params, err := validators.FlatParams(r)
		if err != nil {
			writeNotifyFailure(r, logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithTradeNo(ctx, params["out_trade_no"])
		}
		record, err := svc.HandleNotify(ctx, params)
		switch {
		case err == nil:
			if logg != nil {
				logg.Info(logg.WithField(ctx, "recharge_id", record.ID.String()), "recharge.notify.completed")
			}
			responses.WriteRaw(w, http.StatusOK, map[string]string{"status": notifySuccess})
		case pkgerrors.Is(err, pkgerrors.CodeDuplicateNotification):
			if logg != nil {
				logg.Info(ctx, "recharge.notify.duplicate")
			}
			responses.WriteRaw(w, http.StatusOK, map[string]string{"status": notifySuccess})
		default:
			writeNotifyFailure(r.WithContext(ctx), logg, w, err)
		}
	}
}

func writeNotifyFailure(r *http.Request, logg *logger.Logger, w http.ResponseWriter, err error) {
	code := pkgerrors.CodeInternal
	if typed := pkgerrors.As(err); typed != nil {
		code = typed.Code()
	}
	meta := pkgerrors.MetadataFor(code)
	if logg != nil {
		ctx := logg.WithField(r.Context(), "error_code", string(code))
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(ctx, "recharge.notify.failed", err)
		} else {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "recharge.notify.rejected")
		}
	}
	responses.WriteRaw(w, meta.HTTPStatus, map[string]string{"status": notifyFail})
}

func requestOrigin(r *http.Request, configured string) string {
	if origin := strings.TrimRight(strings.TrimSpace(configured), "/"); origin != "" {
		return origin
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host
}
