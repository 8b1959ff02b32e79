package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(logger), GinMiddleware(logger))
	r.GET("/api/v1/runs", func(c *gin.Context) {
		GetGinLogger(c).Info("listing runs")
		GetGinLogger(c).Info("from request context", zap.String("context_request_id", GetRequestID(c.Request.Context())))
		c.JSON(http.StatusOK, gin.H{"runs": []string{}})
	})
	r.POST("/api/v1/runs", func(c *gin.Context) {
		c.JSON(http.StatusConflict, gin.H{"error": "run in progress"})
	})
	r.GET("/boom", func(c *gin.Context) {
		panic("boom")
	})
	r.GET("/fail", func(c *gin.Context) {
		c.Status(http.StatusServiceUnavailable)
	})
	return r
}

func requestLogs(recorded *observer.ObservedLogs) []observer.LoggedEntry {
	return recorded.FilterMessage("HTTP Request").All()
}

func TestGinMiddleware_AssignsRequestID(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	r := newTestRouter(zap.New(core))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=5", nil))

	require.Equal(t, http.StatusOK, w.Code)
	requestID := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, requestID)

	logs := requestLogs(recorded)
	require.Len(t, logs, 1)
	fields := logs[0].ContextMap()
	assert.Equal(t, requestID, fields["request_id"])
	assert.Equal(t, "/api/v1/runs", fields["path"])
	assert.Equal(t, "limit=5", fields["query"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])

	// handlers see the request scoped logger both ways
	assert.Equal(t, 1, recorded.FilterMessage("listing runs").FilterField(zap.String("request_id", requestID)).Len())
	assert.Equal(t, 1, recorded.FilterMessage("from request context").
		FilterField(zap.String("context_request_id", requestID)).Len())
}

func TestGinMiddleware_KeepsCallerRequestID(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	r := newTestRouter(zap.New(core))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set(RequestIDHeader, "req-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-abc", w.Header().Get(RequestIDHeader))
	logs := requestLogs(recorded)
	require.Len(t, logs, 1)
	assert.Equal(t, "req-abc", logs[0].ContextMap()["request_id"])
}

func TestGinMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		method string
		path   string
		level  zapcore.Level
	}{
		{http.MethodGet, "/api/v1/runs", zapcore.InfoLevel},
		{http.MethodPost, "/api/v1/runs", zapcore.WarnLevel},
		{http.MethodGet, "/fail", zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			core, recorded := observer.New(zapcore.DebugLevel)
			r := newTestRouter(zap.New(core))
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			logs := requestLogs(recorded)
			require.Len(t, logs, 1)
			assert.Equal(t, tt.level, logs[0].Level)
		})
	}
}

func TestRecovery(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	r := newTestRouter(zap.New(core))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, recorded.FilterMessage("Panic recovered").Len())
}

func TestGetGinLogger_NotSet(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.NotNil(t, GetGinLogger(c))
}
