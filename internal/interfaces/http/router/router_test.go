package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())
	assert.Equal(t, "v1", r.apiVersion)
	assert.Empty(t, r.registrars)

	assert.Equal(t, "v2", NewRouter(gin.New(), WithAPIVersion("v2")).apiVersion)
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)

	calls := 0
	group := NewDomainGroup("/runs").
		Use(func(c *gin.Context) { calls++; c.Next() }).
		GET("", func(c *gin.Context) { c.String(http.StatusOK, "list") }).
		POST("", func(c *gin.Context) { c.String(http.StatusAccepted, "started") })
	assert.Equal(t, "/runs", group.Prefix())

	r.Register(group).Setup()

	tests := []struct {
		method string
		want   int
		body   string
	}{
		{http.MethodGet, http.StatusOK, "list"},
		{http.MethodPost, http.StatusAccepted, "started"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(tt.method, "/api/v1/runs", nil))
		assert.Equal(t, tt.want, w.Code)
		assert.Equal(t, tt.body, w.Body.String())
	}
	assert.Equal(t, 2, calls)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
