package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/smmhub-backend/internal/auth"
	"github.com/angelmondragon/smmhub-backend/internal/users"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
)

type fakeLogin struct {
	got auth.LoginRequest
	err error
}

func (f *fakeLogin) Login(_ context.Context, req auth.LoginRequest) (*auth.TokenResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &auth.TokenResponse{AccessToken: "tok-1", TokenType: "Bearer", ExpiresIn: 1800}, nil
}

type fakeRegister struct {
	got auth.RegisterRequest
	err error
}

func (f *fakeRegister) Register(_ context.Context, req auth.RegisterRequest) (*users.UserDTO, error) {
	f.got = req
	return &users.UserDTO{}, f.err
}

func TestAuthLoginSetsTokenHeaders(t *testing.T) {
	svc := &fakeLogin{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"a@example.com","password":"Secret123!"}`))
	rec := httptest.NewRecorder()

	AuthLogin(svc, nil)(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok-1", rec.Header().Get(tokenHeader))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "a@example.com", svc.got.Email)
}

func TestAuthRegisterLogsInAfterCreate(t *testing.T) {
	reg := &fakeRegister{}
	svc := &fakeLogin{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register",
		strings.NewReader(`{"email":"new@example.com","username":"newbie","password":"Secret123!","confirm_password":"Secret123!","invite_code":"AGENT01"}`))
	rec := httptest.NewRecorder()

	AuthRegister(reg, svc, nil)(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "AGENT01", reg.got.InviteCode)
	assert.Equal(t, "new@example.com", svc.got.Email)
	assert.Equal(t, "tok-1", rec.Header().Get(tokenHeader))
}

func TestAuthRegisterStopsOnRejectedInvite(t *testing.T) {
	reg := &fakeRegister{err: pkgerrors.New(pkgerrors.CodeValidation, "invite code not found")}
	svc := &fakeLogin{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register",
		strings.NewReader(`{"email":"new@example.com","username":"newbie","password":"Secret123!","confirm_password":"Secret123!","invite_code":"NOPE"}`))
	rec := httptest.NewRecorder()

	AuthRegister(reg, svc, nil)(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.got.Email, "login must not run after a failed registration")
	assert.Empty(t, rec.Header().Get(tokenHeader))
}

func TestAuthLoginWithoutServiceIsInternal(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	AuthLogin(nil, nil)(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
