package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/angelmondragon/smmhub-backend/pkg/enums"
)

func TestRoleGuards(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name    string
		guard   func(http.Handler) http.Handler
		role    enums.SystemRole
		isAgent bool
		want    int
	}{
		{"admin guard admits admin", RequireAdmin(nil), enums.SystemRoleAdmin, false, http.StatusNoContent},
		{"admin guard rejects agent", RequireAdmin(nil), enums.SystemRoleAgent, true, http.StatusForbidden},
		{"agent guard admits agent", RequireAgent(nil), enums.SystemRoleAgent, true, http.StatusNoContent},
		{"agent guard admits admin", RequireAgent(nil), enums.SystemRoleAdmin, false, http.StatusNoContent},
		{"agent guard rejects user", RequireAgent(nil), enums.SystemRoleUser, false, http.StatusForbidden},
		{"role list", RequireRole(nil, enums.SystemRoleUser, enums.SystemRoleAgent), enums.SystemRoleUser, false, http.StatusNoContent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithRole(req.Context(), string(tc.role), tc.isAgent))
			rec := httptest.NewRecorder()
			tc.guard(ok).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d got %d", tc.want, rec.Code)
			}
		})
	}
}
