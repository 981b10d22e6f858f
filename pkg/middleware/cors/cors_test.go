package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(origins []string, method, origin string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(origins))
	r.GET("/rosters/:id/export", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.OPTIONS("/rosters/:id/export", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(method, "/rosters/r-1/export", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAllowedOriginGetsCredentialsAndExposedHeaders(t *testing.T) {
	w := serve([]string{"https://admin.example.edu/"}, http.MethodGet, "https://admin.example.edu")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://admin.example.edu", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
}

func TestUnknownOriginIsNotReflected(t *testing.T) {
	w := serve([]string{"https://admin.example.edu"}, http.MethodGet, "https://evil.example.com")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = serve([]string{"https://admin.example.edu"}, http.MethodOptions, "https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWildcardWithoutCredentials(t *testing.T) {
	w := serve(nil, http.MethodOptions, "https://anything.example.com")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}
