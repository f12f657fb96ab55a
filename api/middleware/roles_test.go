package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name string
		role enums.ActorRole
		want int
	}{
		{"admin allowed", enums.ActorRoleAdmin, http.StatusOK},
		{"super admin allowed", enums.ActorRoleSuperAdmin, http.StatusOK},
		{"vendor forbidden", enums.ActorRoleVendor, http.StatusForbidden},
		{"anonymous forbidden", "", http.StatusForbidden},
	}

	for _, tc := range cases {
		checkRole(t, RequireAdmin(nil), tc.name, tc.role, tc.want)
	}

	vendorOnly := RequireRole(nil, enums.ActorRoleVendor)
	checkRole(t, vendorOnly, "vendor route admits vendor", enums.ActorRoleVendor, http.StatusOK)
	checkRole(t, vendorOnly, "vendor route rejects admin", enums.ActorRoleAdmin, http.StatusForbidden)
}

func checkRole(t *testing.T, mw func(http.Handler) http.Handler, name string, role enums.ActorRole, want int) {
	t.Helper()
	t.Run(name, func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/jobs", nil)
		req = req.WithContext(WithActor(req.Context(), "user-1", role))
		rec := httptest.NewRecorder()
		mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("expected %d got %d", want, rec.Code)
		}
	})
}
