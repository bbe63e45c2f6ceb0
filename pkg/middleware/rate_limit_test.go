package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func resetLimiters() {
	limiterStore.Range(func(k, _ interface{}) bool {
		limiterStore.Delete(k)
		return true
	})
}

func limitedRouter(rps float64, burst int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/p", RateLimitMiddleware(rps, burst), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestRateLimitAllowsWithinBurst(t *testing.T) {
	resetLimiters()
	r := limitedRouter(1, 3)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimitRejectsBeyondBurst(t *testing.T) {
	resetLimiters()
	r := limitedRouter(0.001, 2)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))
		codes = append(codes, w.Code)
	}
	require.Equal(t, http.StatusOK, codes[0])
	require.Equal(t, http.StatusOK, codes[1])
	require.Equal(t, http.StatusTooManyRequests, codes[2])
	require.Equal(t, http.StatusTooManyRequests, codes[3])
}

func TestRateLimitKeysBySubject(t *testing.T) {
	resetLimiters()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	setSub := func(sub string) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.Set("claims", map[string]interface{}{"sub": sub})
			c.Next()
		}
	}
	r.GET("/a", setSub("client-a"), RateLimitMiddleware(0.001, 1), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/b", setSub("client-b"), RateLimitMiddleware(0.001, 1), func(c *gin.Context) { c.Status(http.StatusOK) })

	// exhaust client-a's bucket
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/a", nil))
	require.Equal(t, http.StatusOK, w.Code)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/a", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// client-b has its own bucket
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/b", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
