package flags

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/campusgate/doorlock/internal/rbac"
	"github.com/campusgate/doorlock/internal/shared"
)

func (r *memoryRepo) List(ctx context.Context) ([]Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Flag, 0, len(r.flags))
	for _, f := range r.flags {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type staticResolver map[int64][]string

func (s staticResolver) EffectivePermissions(ctx context.Context, userID int64) (rbac.PermissionSet, error) {
	return rbac.NewPermissionSet(s[userID]...), nil
}

func newFlagRouter(store *Store, repo *memoryRepo) http.Handler {
	mw := rbac.Middleware{
		Service: staticResolver{1: {shared.PermDoorlockFlagsWrite}, 2: {shared.PermDoorlockCardsRead}},
		Logger:  quietLogger(),
	}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			var userID int64
			switch req.Header.Get("X-Test-User") {
			case "1":
				userID = 1
			case "2":
				userID = 2
			default:
				next.ServeHTTP(w, req)
				return
			}
			ctx := shared.ContextWithPrincipal(req.Context(), &shared.Principal{UserID: userID})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/admin/flags", NewHandler(store, repo, mw, quietLogger()).MountRoutes)
	return r
}

func TestToggleEndpoint(t *testing.T) {
	repo := newMemoryRepo()
	store, _ := newTestStore(repo)
	ctx := context.Background()
	_, err := store.Evaluate(ctx, "doorlock:monitor", "sweep", true, nil)
	require.NoError(t, err)
	router := newFlagRouter(store, repo)

	req := httptest.NewRequest(http.MethodPut, "/admin/flags/doorlock:monitor", strings.NewReader(`{"enabled":false}`))
	req.Header.Set("X-Test-User", "1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.False(t, store.IsEnabled(ctx, "doorlock:monitor"))

	req = httptest.NewRequest(http.MethodGet, "/admin/flags/", nil)
	req.Header.Set("X-Test-User", "1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"isEnabled":false`)
}

func TestToggleEndpointErrors(t *testing.T) {
	repo := newMemoryRepo()
	store, _ := newTestStore(repo)
	router := newFlagRouter(store, repo)

	cases := []struct {
		name string
		user string
		body string
		want int
	}{
		{name: "anonymous", body: `{"enabled":true}`, want: http.StatusForbidden},
		{name: "missing permission", user: "2", body: `{"enabled":true}`, want: http.StatusForbidden},
		{name: "unknown flag", user: "1", body: `{"enabled":true}`, want: http.StatusNotFound},
		{name: "missing field", user: "1", body: `{}`, want: http.StatusBadRequest},
		{name: "unknown field", user: "1", body: `{"enabled":true,"extra":1}`, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/admin/flags/nope", strings.NewReader(tc.body))
			if tc.user != "" {
				req.Header.Set("X-Test-User", tc.user)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
		})
	}
}
