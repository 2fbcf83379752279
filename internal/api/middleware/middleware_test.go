package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})
	return r
}

func TestAPIKeyAuth(t *testing.T) {
	r := newRouter(APIKeyAuth([]string{"secret-key-0001", " "}, zap.NewNop()))

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"缺少Key", nil, http.StatusUnauthorized},
		{"无效Key", map[string]string{"X-API-Key": "wrong"}, http.StatusForbidden},
		{"X-API-Key", map[string]string{"X-API-Key": "secret-key-0001"}, http.StatusOK},
		{"Bearer", map[string]string{"Authorization": "Bearer secret-key-0001"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAPIKeyAuth_DisabledWithoutKeys(t *testing.T) {
	r := newRouter(APIKeyAuth(nil, zap.NewNop()))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestTracing(t *testing.T) {
	r := newRouter(RequestTracing(), AccessLog(zap.NewNop()))

	t.Run("沿用请求头", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Request-ID", "abc")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
		assert.Equal(t, "abc", w.Body.String())
	})

	t.Run("自动生成", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		id := w.Header().Get("X-Request-ID")
		assert.Len(t, id, 36)
		assert.Equal(t, id, w.Body.String())
	})
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "****", maskAPIKey("short"))
	assert.Equal(t, "secr****0001", maskAPIKey("secret-key-0001"))
}
