package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarship-api/internal/service"
)

func TestMetricsHandlerReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	redisDown := errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
	var redisErr error

	h := NewMetricsHandler(service.NewMetricsService(),
		DependencyCheck{Name: "postgres", Ping: func(context.Context) error { return nil }},
		DependencyCheck{Name: "redis", Ping: func(context.Context) error { return redisErr }},
	)
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", h.Prometheus)

	w := serve(r, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"ok"`)

	redisErr = redisDown
	w = serve(r, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)
	assert.Contains(t, w.Body.String(), "connection refused")

	w = serve(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
