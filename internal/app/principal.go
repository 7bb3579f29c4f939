package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/campusgate/doorlock/internal/platform/httpx"
	"github.com/campusgate/doorlock/internal/shared"
)

// PrincipalClaims is the bearer token issued by the identity provider.
type PrincipalClaims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// PrincipalVerifier validates HS256 bearer tokens.
type PrincipalVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewPrincipalVerifier builds a verifier for secret.
func NewPrincipalVerifier(secret string) *PrincipalVerifier {
	return &PrincipalVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify parses raw and returns the principal it names.
func (v *PrincipalVerifier) Verify(raw string) (*shared.Principal, error) {
	claims := &PrincipalClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, err)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("%w: subject is not a user id", httpx.ErrUnauthorized)
	}
	return &shared.Principal{UserID: userID, Roles: claims.Roles}, nil
}

// Issue signs a token for userID. Used by tooling and tests; the core never logs users in.
func (v *PrincipalVerifier) Issue(claims PrincipalClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// RequirePrincipal rejects requests without a valid bearer token and stores
// the principal in the request context.
func RequirePrincipal(verifier *PrincipalVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			principal, err := verifier.Verify(raw)
			if err != nil {
				logger.Warn("bearer token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			ctx := shared.ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
