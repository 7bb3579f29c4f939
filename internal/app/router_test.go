package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/campusgate/doorlock/internal/flags"
	"github.com/campusgate/doorlock/internal/observability"
	"github.com/campusgate/doorlock/internal/rbac"
	"github.com/campusgate/doorlock/internal/shared"
)

type flagRepo struct{}

func (flagRepo) Get(ctx context.Context, name string) (flags.Flag, error) {
	return flags.Flag{}, shared.ErrFlagNotFound
}

func (flagRepo) Create(ctx context.Context, flag flags.Flag) (flags.Flag, error) { return flag, nil }

func (flagRepo) SetEnabled(ctx context.Context, name string, enabled bool) error {
	return shared.ErrFlagNotFound
}

func (flagRepo) List(ctx context.Context) ([]flags.Flag, error) {
	return []flags.Flag{{Name: "doorlock:monitor", IsEnabled: true}}, nil
}

type staticResolver map[int64][]string

func (s staticResolver) EffectivePermissions(ctx context.Context, userID int64) (rbac.PermissionSet, error) {
	return rbac.NewPermissionSet(s[userID]...), nil
}

func newTestRouter(t *testing.T) (http.Handler, *PrincipalVerifier) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier := NewPrincipalVerifier("test-secret")
	mw := rbac.Middleware{Service: staticResolver{1: {"*"}}, Logger: logger}
	store := flags.NewStore(flagRepo{}, 0, logger)
	router := NewRouter(RouterParams{
		Logger:      logger,
		Config:      &Config{AppEnv: "development", AppRequestTimeout: time.Second},
		Verifier:    verifier,
		Metrics:     observability.NewMetrics(),
		FlagHandler: flags.NewHandler(store, flagRepo{}, mw, logger),
	})
	return router, verifier
}

func issue(t *testing.T, v *PrincipalVerifier, userID int64, ttl time.Duration) string {
	t.Helper()
	token, err := v.Issue(PrincipalClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}})
	require.NoError(t, err)
	return token
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAdminRequiresPrincipal(t *testing.T) {
	router, verifier := newTestRouter(t)
	other := NewPrincipalVerifier("other-secret")

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "bad signature", header: "Bearer " + issue(t, other, 1, time.Hour), want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + issue(t, verifier, 1, -time.Minute), want: http.StatusUnauthorized},
		{name: "no permissions", header: "Bearer " + issue(t, verifier, 2, time.Hour), want: http.StatusForbidden},
		{name: "admin", header: "Bearer " + issue(t, verifier, 1, time.Hour), want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/flags/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestVerifyRejectsNonNumericSubject(t *testing.T) {
	v := NewPrincipalVerifier("s")
	token, err := v.Issue(PrincipalClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	require.NoError(t, err)
	_, err = v.Verify(token)
	require.Error(t, err)

	principal, err := v.Verify(issue(t, v, 42, time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(42), principal.UserID)
}
