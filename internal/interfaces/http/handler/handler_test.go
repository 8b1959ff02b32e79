package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diarco/connexa-sync/internal/domain/shared"
	"github.com/diarco/connexa-sync/internal/infrastructure/logger"
	"github.com/diarco/connexa-sync/internal/infrastructure/scheduler"
	"github.com/diarco/connexa-sync/internal/interfaces/http/dto"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeScheduler struct {
	err     error
	history *scheduler.History
}

func (f *fakeScheduler) Trigger() (scheduler.RunRecord, error) {
	if f.err != nil {
		return scheduler.RunRecord{}, f.err
	}
	rec := scheduler.RunRecord{ID: "sched-1", Trigger: scheduler.TriggerManual, Status: scheduler.RunStatusRunning}
	f.history.Add(rec)
	return rec, nil
}

func (f *fakeScheduler) History() *scheduler.History { return f.history }
func (f *fakeScheduler) NextRun() time.Time          { return time.Time{} }
func (f *fakeScheduler) Busy() bool                  { return false }

func newContext(method, path string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, nil)
	return c, w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestBaseHandler_HandleError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"connectivity", shared.Wrap(shared.CodeConnectivity, errors.New("dial tcp"), "destination unreachable"), http.StatusServiceUnavailable, shared.CodeConnectivity},
		{"schema mismatch", shared.NewDomainError(shared.CodeSchemaMismatch, "column missing"), http.StatusUnprocessableEntity, shared.CodeSchemaMismatch},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, dto.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newContext(http.MethodGet, "/")
			c.Set(string(logger.RequestIDKey), "req-9")

			(&BaseHandler{}).HandleError(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			resp := decode(t, w)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, "req-9", resp.Error.RequestID)
			assert.NotContains(t, resp.Error.Message, "boom")
		})
	}
}

func TestRunHandler_Trigger(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"started", nil, http.StatusAccepted},
		{"busy", scheduler.ErrRunInProgress, http.StatusConflict},
		{"stopped", scheduler.ErrSchedulerNotRunning, http.StatusServiceUnavailable},
		{"other", errors.New("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRunHandler(&fakeScheduler{err: tt.err, history: scheduler.NewHistory(5)})
			c, w := newContext(http.MethodPost, "/api/v1/runs")

			h.Trigger(c)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRunHandler_List(t *testing.T) {
	history := scheduler.NewHistory(5)
	for _, id := range []string{"a", "b", "c"} {
		history.Add(scheduler.RunRecord{ID: id})
	}
	h := NewRunHandler(&fakeScheduler{history: history})

	c, w := newContext(http.MethodGet, "/api/v1/runs?limit=2")
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]any)
	runs := data["runs"].([]any)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].(map[string]any)["id"])
	assert.NotContains(t, data, "next_run")

	c, w = newContext(http.MethodGet, "/api/v1/runs?limit=abc")
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSystemHandler_GetSystemInfo(t *testing.T) {
	h := NewSystemHandler("connexa-sync", "1.2.3", nil)
	c, w := newContext(http.MethodGet, "/api/v1/system/info")

	h.GetSystemInfo(c)

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]any)
	assert.Equal(t, "connexa-sync", data["name"])
	assert.Equal(t, "1.2.3", data["version"])
	assert.NotEmpty(t, data["go_version"])
}
