package controllers

import (
	"net/http"

	"github.com/angelmondragon/smmhub-backend/api/responses"
	"github.com/angelmondragon/smmhub-backend/api/validators"
	"github.com/angelmondragon/smmhub-backend/internal/auth"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/logger"
)

// tokenHeader mirrors the access token so clients that read headers only can
// pick it up; the auth middleware accepts it back under the same name.
const tokenHeader = "X-Access-Token"

var errAuthUnavailable = pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable")

func AuthLogin(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errAuthUnavailable)
			return
		}
		var body auth.LoginRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		issueToken(w, r, svc, body, http.StatusOK, logg)
	}
}

// AuthRegister creates the account, links it under the inviting agent when an
// invite code is supplied, then logs the new user in.
func AuthRegister(reg auth.RegisterService, svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reg == nil || svc == nil {
			responses.WriteError(r.Context(), logg, w, errAuthUnavailable)
			return
		}
		var body auth.RegisterRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := reg.Register(r.Context(), body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		issueToken(w, r, svc, auth.LoginRequest{Email: body.Email, Password: body.Password}, http.StatusCreated, logg)
	}
}

func issueToken(w http.ResponseWriter, r *http.Request, svc auth.Service, req auth.LoginRequest, status int, logg *logger.Logger) {
	result, err := svc.Login(r.Context(), req)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	w.Header().Set(tokenHeader, result.AccessToken)
	w.Header().Set("Cache-Control", "no-store")
	responses.WriteSuccessStatus(w, status, result)
}
