package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-file-transfer/internal/model"
)

type stubValidator map[string]*model.AuthClaims

func (s stubValidator) ValidateToken(token string, expectedType string) (*model.AuthClaims, error) {
	if claims, ok := s[token]; ok && expectedType == "access" {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func newTestAuth() *AuthMiddleware {
	return NewAuthMiddleware(stubValidator{
		"user-token":  {UserID: "u1", Username: "alice", Role: "user"},
		"admin-token": {UserID: "a1", Username: "root", Role: "ADMIN"},
	})
}

func TestRequireAuthStoresActor(t *testing.T) {
	var got model.Actor
	handler := newTestAuth().RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		got, ok = ActorFromContext(r.Context())
		require.True(t, ok)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	req.RemoteAddr = "192.0.2.7:4000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.Actor{UserID: "a1", Username: "root", Role: "admin", IP: "192.0.2.7"}, got)
	assert.True(t, got.IsAdmin())
}

func TestRequireAuthRejects(t *testing.T) {
	handler := newTestAuth().RequireAuth(okHandler())

	cases := map[string]func(*http.Request){
		"no header":        func(*http.Request) {},
		"wrong scheme":     func(r *http.Request) { r.Header.Set("Authorization", "Basic user-token") },
		"unknown token":    func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") },
		"query without ws": func(r *http.Request) { r.URL.RawQuery = "access_token=user-token" },
		"empty bearer":     func(r *http.Request) { r.Header.Set("Authorization", "Bearer ") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
			mutate(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"UNAUTHORIZED"`)
		})
	}
}

func TestRequireAuthWebsocketQueryToken(t *testing.T) {
	handler := newTestAuth().RequireAuth(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws?access_token=user-token", nil)
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRoles(t *testing.T) {
	auth := newTestAuth()
	handler := auth.RequireAuth(auth.RequireRoles("admin")(okHandler()))

	for token, want := range map[string]int{"admin-token": http.StatusOK, "user-token": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/clear_all", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, token)
	}

	rec := httptest.NewRecorder()
	auth.RequireRoles("admin")(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
