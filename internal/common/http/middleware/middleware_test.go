package middleware_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"maproulette/internal/common/http/middleware"
	pkgerrors "maproulette/pkg/errors"
	"maproulette/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, subject, role, typ string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"typ":  typ,
		"iss":  "maproulette",
		"exp":  time.Now().Add(expiresIn).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestTraceContextMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(middleware.TraceContextMiddlewareWithConfig(middleware.TraceContextConfig{AllowUserIDHeader: true}))
	router.GET("/trace", func(c *gin.Context) {
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, gin.H{
			"trace_id":     c.GetString("trace_id"),
			"ctx_trace_id": fmt.Sprint(ctx.Value(contextkey.TraceID)),
			"ctx_user_id":  fmt.Sprint(ctx.Value(contextkey.UserID)),
		})
	})

	t.Run("generate trace id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trace", nil))

		var body map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.NotEmpty(t, body["trace_id"])
		assert.Equal(t, body["trace_id"], body["ctx_trace_id"])
		assert.Equal(t, body["trace_id"], rec.Header().Get("X-Trace-Id"))
		assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	})

	t.Run("preserve trace and user id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/trace", nil)
		req.Header.Set("X-Trace-Id", "trace-123")
		req.Header.Set("X-User-Id", "42")
		router.ServeHTTP(rec, req)

		var body map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "trace-123", body["trace_id"])
		assert.Equal(t, "42", body["ctx_user_id"])
	})
}

func newAuthRouter(policy middleware.AuthPolicy) *gin.Engine {
	router := gin.New()
	router.Use(middleware.TraceContextMiddlewareWithConfig(middleware.TraceContextConfig{
		AllowUserIDHeader: policy.TrustUserHeader,
	}))
	router.Use(middleware.AuthMiddleware(middleware.NewTokenVerifier(testSecret, "maproulette"), policy))
	router.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": middleware.UserID(c)})
	})
	return router
}

func whoami(t *testing.T, router *gin.Engine, headers map[string]string) (int, int64) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		return rec.Code, 0
	}
	var body struct {
		UserID int64 `json:"user_id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return rec.Code, body.UserID
}

func TestAuthMiddleware_Optional(t *testing.T) {
	router := newAuthRouter(middleware.AuthPolicy{Mode: middleware.AuthModeOptional})

	code, id := whoami(t, router, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(0), id, "anonymous caller")

	code, id = whoami(t, router, map[string]string{"X-User-Id": "9"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(0), id, "user header is ignored unless trusted")

	token := signToken(t, "17", "user", "access", time.Hour)
	code, id = whoami(t, router, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(17), id)

	code, _ = whoami(t, router, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAuthMiddleware_TrustedHeader(t *testing.T) {
	router := newAuthRouter(middleware.AuthPolicy{Mode: middleware.AuthModeOptional, TrustUserHeader: true})

	code, id := whoami(t, router, map[string]string{"X-User-Id": "9"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(9), id)
}

func TestAuthMiddleware_RequiredRole(t *testing.T) {
	router := newAuthRouter(middleware.AuthPolicy{Mode: middleware.AuthModeRequired, Roles: []string{"admin"}})

	code, _ := whoami(t, router, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = whoami(t, router, map[string]string{"Authorization": "Bearer " + signToken(t, "5", "user", "access", time.Hour)})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = whoami(t, router, map[string]string{"Authorization": "Bearer " + signToken(t, "5", "admin", "refresh", time.Hour)})
	assert.Equal(t, http.StatusUnauthorized, code, "refresh tokens are not access tokens")

	code, _ = whoami(t, router, map[string]string{"Authorization": "Bearer " + signToken(t, "5", "admin", "access", -time.Minute)})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, id := whoami(t, router, map[string]string{"Authorization": "Bearer " + signToken(t, "5", "admin", "access", time.Hour)})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(5), id)
}

func TestAuthMiddleware_RejectionCodes(t *testing.T) {
	router := newAuthRouter(middleware.AuthPolicy{Mode: middleware.AuthModeRequired, Roles: []string{"admin"}})

	tests := []struct {
		name   string
		header string
		status int
		code   pkgerrors.ErrorCode
	}{
		{"missing token", "", http.StatusUnauthorized, pkgerrors.Unauthorized},
		{"bad token", "Bearer garbage", http.StatusUnauthorized, pkgerrors.TokenInvalid},
		{"wrong role", "Bearer " + signToken(t, "5", "user", "access", time.Hour), http.StatusForbidden, pkgerrors.Forbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			var body struct {
				Code pkgerrors.ErrorCode `json:"code"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Code)
		})
	}
}
