package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/service"
	"github.com/noah-isme/scholarship-api/pkg/response"
)

const streamWriteWait = 5 * time.Second

type taskStatusReader interface {
	GetStatus(ctx context.Context, id string) (*dto.VerificationTaskResponse, error)
}

// VerificationStreamHandler pushes batch verification progress over a websocket
// until the task finishes or the client goes away.
type VerificationStreamHandler struct {
	tasks    taskStatusReader
	upgrader websocket.Upgrader
	interval time.Duration
	logger   *zap.Logger
}

// NewVerificationStreamHandler constructs the handler. An empty origin list
// accepts any origin.
func NewVerificationStreamHandler(tasks *service.VerificationTaskService, allowedOrigins []string, logger *zap.Logger) *VerificationStreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationStreamHandler{
		tasks:    tasks,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: originChecker(allowedOrigins)},
		interval: time.Second,
		logger:   logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(set) == 0 || origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// Stream godoc
// @Summary Stream verification task progress over a websocket
// @Tags Verification
// @Param id path string true "Task ID"
// @Param access_token query string false "Bearer token for browsers that cannot set headers"
// @Success 101
// @Router /verification-tasks/{id}/stream [get]
func (h *VerificationStreamHandler) Stream(c *gin.Context) {
	id := c.Param("id")
	task, err := h.tasks.GetStatus(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("verification stream upgrade failed", zap.String("task_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var sent *dto.VerificationTaskResponse
	for {
		if sent == nil || sent.Status != task.Status || sent.Processed != task.Processed {
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(task); err != nil {
				return
			}
			sent = task
		}
		if task.Status.Finished() {
			h.close(conn, websocket.CloseNormalClosure, "task "+string(task.Status))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		task, err = h.tasks.GetStatus(ctx, id)
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("verification stream lost task", zap.String("task_id", id), zap.Error(err))
				h.close(conn, websocket.CloseInternalServerErr, "task status unavailable")
			}
			return
		}
	}
}

func (h *VerificationStreamHandler) close(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(streamWriteWait))
}
