package controllers

import (
	"net/http"

	"github.com/angelmondragon/smmhub-backend/api/responses"
	"github.com/angelmondragon/smmhub-backend/api/validators"
	"github.com/angelmondragon/smmhub-backend/internal/settlement"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/logger"
)

type submitOrderRequest struct {
	ServiceID int    `json:"service_id" validate:"required,gt=0"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	Link      string `json:"link" validate:"required,max=2048"`
	OrderType string `json:"order_type,omitempty" validate:"omitempty,oneof=fixed custom_comments"`
	Comments  string `json:"comments,omitempty" validate:"max=20000"`
}

type submitOrderResponse struct {
	*settlement.Result
	CommissionWarning string `json:"commission_warning,omitempty"`
}

// SubmitOrder settles one order. A settled order whose commission fan-out
// partly failed is reported with 207 so clients know the charge went through.
func SubmitOrder(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body submitOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Submit(r.Context(), settlement.SubmitRequest{
			UserID:    userID,
			ServiceID: body.ServiceID,
			Quantity:  body.Quantity,
			Link:      validators.SanitizeString(body.Link, 2048),
			OrderType: body.OrderType,
			Comments:  body.Comments,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if result.CommissionError != nil {
			if logg != nil {
				logg.Error(logg.WithOrderID(r.Context(), result.Order.ID.String()), "order.commission_partial_failure", result.CommissionError)
			}
			meta := pkgerrors.MetadataFor(pkgerrors.CodeCommissionPartialFailure)
			responses.WriteSuccessStatus(w, meta.HTTPStatus, submitOrderResponse{
				Result:            result,
				CommissionWarning: meta.PublicMessage,
			})
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, submitOrderResponse{Result: result})
	}
}

func ListOrders(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
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
		page, err := svc.ListOrders(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// OrderDetail returns one of the caller's orders with its cashback record.
func OrderDetail(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseURLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.GetOrder(r.Context(), userID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}
