package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarship-api/internal/models"
	"github.com/noah-isme/scholarship-api/internal/service"
	"github.com/noah-isme/scholarship-api/pkg/middleware/requestid"
)

func newAuth() *service.AuthService {
	return service.NewAuthService(nil, service.AuthConfig{AccessTokenSecret: "test-secret", AccessTokenExpiry: time.Minute, Issuer: "scholarship-idp"})
}

func call(r *gin.Engine, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestJWTAndRequireRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuth()

	r := gin.New()
	r.Use(JWT(auth))
	r.GET("/rosters", RequireRoles(models.RoleAdmin, models.RoleSuperAdmin), func(c *gin.Context) {
		claims, ok := Claims(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.UserID)
	})

	adminToken, _, err := auth.IssueToken("admin-1", models.RoleAdmin)
	require.NoError(t, err)
	studentToken, _, err := auth.IssueToken("stu-1", models.RoleStudent)
	require.NoError(t, err)

	w := call(r, "/rosters", "Bearer "+adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin-1", w.Body.String())

	w = call(r, "/rosters", "bearer  "+adminToken)
	assert.Equal(t, http.StatusOK, w.Code, "scheme is case-insensitive")

	w = call(r, "/rosters", "Bearer "+studentToken)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, w))

	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer not-a-jwt"} {
		w = call(r, "/rosters", header)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
	}
}

func TestJWTQueryTokenOnlyForWebsocketUpgrade(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuth()
	r := gin.New()
	r.Use(JWT(auth))
	r.GET("/verification-tasks/:id/stream", func(c *gin.Context) { c.Status(http.StatusOK) })

	token, _, err := auth.IssueToken("admin-1", models.RoleAdmin)
	require.NoError(t, err)

	w := call(r, "/verification-tasks/t-1/stream?access_token="+token, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code, "plain requests must use the header")

	req := httptest.NewRequest(http.MethodGet, "/verification-tasks/t-1/stream?access_token="+token, nil)
	req.Header.Set("Upgrade", "websocket")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRolesWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/rosters", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := call(r, "/rosters", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMetricsLabelsUnmatchedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/rosters/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", func(c *gin.Context) { metrics.Handler().ServeHTTP(c.Writer, c.Request) })

	call(r, "/rosters/r-1", "")
	call(r, "/wp-admin/setup.php", "")

	w := call(r, "/metrics", "")
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `path="/rosters/:id"`)
	assert.Contains(t, string(body), `path="unmatched"`)
	assert.NotContains(t, string(body), "wp-admin")
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var meta map[string]interface{}
	r := gin.New()
	r.Use(requestid.Middleware())
	r.Use(WithResponseMeta())
	r.GET("/quota", func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})

	call(r, "/quota", "")
	require.NotNil(t, meta)
	assert.Equal(t, true, meta["cache_hit"])
	assert.Contains(t, meta, "processing_time_ms")
	assert.NotContains(t, meta, "started_at")
	assert.NotEmpty(t, meta["request_id"])
}
