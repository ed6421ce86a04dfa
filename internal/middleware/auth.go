package middleware

import (
	"context"
	"net/http"
	"strings"

	"go-file-transfer/internal/model"
)

type tokenValidator interface {
	ValidateToken(tokenString string, expectedType string) (*model.AuthClaims, error)
}

type actorKey struct{}

// AuthMiddleware turns a valid access token into a model.Actor on the
// request context.
type AuthMiddleware struct {
	validator tokenValidator
}

func NewAuthMiddleware(validator tokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth accepts a bearer token from the Authorization header. Websocket
// upgrades may pass it as the access_token query parameter instead, since
// browsers cannot set headers on them.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			writeFailure(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid authorization header")
			return
		}

		claims, err := m.validator.ValidateToken(token, "access")
		if err != nil {
			writeFailure(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}

		actor := model.Actor{
			UserID:   claims.UserID,
			Username: claims.Username,
			Role:     strings.ToLower(claims.Role),
			IP:       extractClientIP(r),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// RequireRoles must run after RequireAuth.
func (m *AuthMiddleware) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			switch {
			case !ok:
				writeFailure(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			case !hasRole(actor.Role, roles):
				writeFailure(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// ActorFromContext returns the caller stored by RequireAuth.
func ActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(model.Actor)
	return actor, ok
}

// ClientIP is the address used for rate limiting and audit fields.
func ClientIP(r *http.Request) string {
	return extractClientIP(r)
}

func hasRole(role string, allowed []string) bool {
	for _, candidate := range allowed {
		if strings.EqualFold(strings.TrimSpace(candidate), role) {
			return true
		}
	}
	return false
}

func requestToken(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}

	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}
