package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dbisina/wayfarian-system-sub000/internal/auth"
	"github.com/dbisina/wayfarian-system-sub000/internal/models"
)

func tokenFor(t *testing.T, svc *auth.Service, role models.Role) string {
	t.Helper()
	token, err := svc.GenerateToken(&models.User{
		ID:       primitive.NewObjectID(),
		Username: "testrider",
		Role:     role,
	})
	require.NoError(t, err)
	return token
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticate(t *testing.T) {
	svc := auth.NewService("test-secret", time.Hour)
	mw := NewAuthMiddleware(svc)
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetUserFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "testrider", claims.Username)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/journeys/j1", nil)
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, svc, models.RoleRider))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/journeys/j1", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/journeys/j1", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("login path skips auth", func(t *testing.T) {
		skipped := mw.Authenticate(okHandler())
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		rec := httptest.NewRecorder()
		skipped.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRequireAdmin(t *testing.T) {
	svc := auth.NewService("test-secret", time.Hour)
	mw := NewAuthMiddleware(svc)
	handler := mw.Authenticate(mw.RequireAdmin(okHandler()))

	t.Run("rider is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/journeys/j1/end", nil)
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, svc, models.RoleRider))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/journeys/j1/end", nil)
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, svc, models.RoleAdmin))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("no claims in context", func(t *testing.T) {
		bare := mw.RequireAdmin(okHandler())
		req := httptest.NewRequest(http.MethodPost, "/api/journeys/j1/end", nil)
		rec := httptest.NewRecorder()
		bare.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRateLimit(t *testing.T) {
	mw := NewRateLimitMiddleware()
	handler := mw.RateLimit(3, 60)(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/journeys/j1", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/journeys/j1", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// a different client is unaffected
	req = httptest.NewRequest(http.MethodGet, "/api/journeys/j1", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
