package response

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarship-api/internal/models"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
)

func record(fn func(c *gin.Context)) (*httptest.ResponseRecorder, *gin.Context) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	fn(c)
	return w, c
}

func TestJSONWithPaginationAndMeta(t *testing.T) {
	w, _ := record(func(c *gin.Context) {
		JSON(c, http.StatusOK, []string{"r-1"}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, map[string]interface{}{"cache_hit": true})
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":["r-1"],"pagination":{"page":1,"page_size":20,"total_count":1},"meta":{"cache_hit":true}}`, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestErrorAttachesServerFailures(t *testing.T) {
	w, c := record(func(c *gin.Context) {
		Error(c, errors.New("pq: connection reset"))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INTERNAL_ERROR"`)
	require.Len(t, c.Errors, 1)

	w, c = record(func(c *gin.Context) {
		Error(c, appErrors.Clone(appErrors.ErrNotFound, "roster not found"))
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, c.Errors)
}

func TestAttachment(t *testing.T) {
	w, _ := record(func(c *gin.Context) {
		Attachment(c, "NSTC 2025-02.csv", "text/csv", []byte("a,b\n"))
	})
	assert.Equal(t, `attachment; filename="NSTC 2025-02.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, "a,b\n", w.Body.String())
}

func TestAccepted(t *testing.T) {
	w, _ := record(func(c *gin.Context) { Accepted(c, map[string]string{"id": "task-1"}) })
	assert.Equal(t, http.StatusAccepted, w.Code)
}
