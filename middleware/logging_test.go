package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestGetTraceID(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "traceparent",
			headers: map[string]string{TraceParentHeader: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
			want:    "4bf92f3577b34da6a3ce929d0e0e4736",
		},
		{
			name:    "x-trace-id",
			headers: map[string]string{TraceIDHeader: "abc123"},
			want:    "abc123",
		},
		{
			name: "malformed traceparent falls back",
			headers: map[string]string{
				TraceParentHeader: "garbage",
				TraceIDHeader:     "fallback",
			},
			want: "fallback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetTraceID(c))
		})
	}
}

func TestGetTraceID_Generated(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	id := GetTraceID(c)
	assert.Len(t, id, 32)
	assert.NotEqual(t, id, GetTraceID(c))
}

func TestLoggingMiddleware_InjectsLogger(t *testing.T) {
	r := gin.New()
	r.Use(LoggingMiddleware(), PrometheusMiddleware())

	var ctxLogger *zerolog.Logger
	r.GET("/api/v1/feed", func(c *gin.Context) {
		ctxLogger = zerolog.Ctx(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil)
	req.Header.Set(TraceIDHeader, "trace-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "trace-1", w.Header().Get(TraceIDHeader))
	require.NotNil(t, ctxLogger)
	assert.NotEqual(t, zerolog.Disabled, ctxLogger.GetLevel())
}
