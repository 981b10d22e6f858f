package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/models"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
)

type progressStub struct {
	mu    sync.Mutex
	steps []dto.VerificationTaskResponse
	calls int
}

func (s *progressStub) GetStatus(ctx context.Context, id string) (*dto.VerificationTaskResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "task-1" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "verification task not found")
	}
	idx := s.calls
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	s.calls++
	step := s.steps[idx]
	return &step, nil
}

func newStreamServer(t *testing.T, stub *progressStub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &VerificationStreamHandler{
		tasks:    stub,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker([]string{"https://admin.example.edu"})},
		interval: 5 * time.Millisecond,
		logger:   zap.NewNop(),
	}
	r := gin.New()
	r.GET("/verification-tasks/:id/stream", h.Stream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamPushesChangesUntilFinished(t *testing.T) {
	stub := &progressStub{steps: []dto.VerificationTaskResponse{
		{ID: "task-1", Status: models.VerificationTaskProcessing, Total: 3, Processed: 1},
		{ID: "task-1", Status: models.VerificationTaskProcessing, Total: 3, Processed: 1},
		{ID: "task-1", Status: models.VerificationTaskProcessing, Total: 3, Processed: 2},
		{ID: "task-1", Status: models.VerificationTaskCompleted, Total: 3, Processed: 3, Verified: 3},
	}}
	srv := newStreamServer(t, stub)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/verification-tasks/task-1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var got []dto.VerificationTaskResponse
	for {
		var msg dto.VerificationTaskResponse
		if err := conn.ReadJSON(&msg); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
			break
		}
		got = append(got, msg)
	}

	require.Len(t, got, 3, "unchanged progress is not re-sent")
	assert.Equal(t, 1, got[0].Processed)
	assert.Equal(t, 2, got[1].Processed)
	assert.Equal(t, models.VerificationTaskCompleted, got[2].Status)
}

func TestStreamRejectsUnknownTaskBeforeUpgrade(t *testing.T) {
	srv := newStreamServer(t, &progressStub{steps: []dto.VerificationTaskResponse{{ID: "task-1"}}})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/verification-tasks/task-9/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamRejectsForeignOrigin(t *testing.T) {
	srv := newStreamServer(t, &progressStub{steps: []dto.VerificationTaskResponse{{ID: "task-1", Status: models.VerificationTaskPending}}})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/verification-tasks/task-1/stream"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
