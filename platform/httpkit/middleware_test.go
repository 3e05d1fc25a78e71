package httpkit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testHTTPConfig struct{ secret string }

func (c testHTTPConfig) GetHTTPAddr() string      { return ":0" }
func (c testHTTPConfig) GetCORSOrigins() []string { return nil }
func (c testHTTPConfig) GetWebhookSecret() string { return c.secret }

type testOpsConfig struct{ secret string }

func (c testOpsConfig) GetOpsJWTSecret() string { return c.secret }

func newTestEngine(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/", mw, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return engine
}

func TestWebhookSecretRequired(t *testing.T) {
	engine := newTestEngine(WebhookSecretRequired(testHTTPConfig{secret: "s3cret"}))

	cases := map[string]struct {
		header string
		want   int
	}{
		"missing": {"", http.StatusUnauthorized},
		"wrong":   {"nope", http.StatusUnauthorized},
		"match":   {"s3cret", http.StatusNoContent},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(WebhookSecretHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func signOpsToken(t *testing.T, secret, scope string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "support@example.com",
		"scope": scope,
		"exp":   exp.Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestOpsAuthRequired(t *testing.T) {
	engine := newTestEngine(OpsAuthRequired(testOpsConfig{secret: "ops-secret"}))
	future := time.Now().Add(time.Hour)

	cases := map[string]struct {
		token string
		want  int
	}{
		"no token":      {"", http.StatusUnauthorized},
		"wrong scope":   {signOpsToken(t, "ops-secret", "admin", future), http.StatusUnauthorized},
		"wrong secret":  {signOpsToken(t, "other", "ops", future), http.StatusUnauthorized},
		"expired":       {signOpsToken(t, "ops-secret", "ops", time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		"valid ops jwt": {signOpsToken(t, "ops-secret", "ops", future), http.StatusNoContent},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestOpsAuthDisabledWithoutSecret(t *testing.T) {
	engine := newTestEngine(OpsAuthRequired(testOpsConfig{}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
