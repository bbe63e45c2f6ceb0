package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func redisLimitedRouter(t *testing.T, rps float64, burst int) *gin.Engine {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/p", RedisRateLimitMiddleware(client, rps, burst, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestRedisRateLimitAllowsWithinWindow(t *testing.T) {
	r := redisLimitedRouter(t, 0, 3)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRedisRateLimitRejectsBeyondWindow(t *testing.T) {
	r := redisLimitedRouter(t, 0, 2)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))
	require.Equal(t, http.StatusOK, w.Code)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))
	require.Equal(t, http.StatusOK, w.Code)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRedisRateLimitNilClientFallsBack(t *testing.T) {
	resetLimiters()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/p", RedisRateLimitMiddleware(nil, 0.001, 1, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))
	require.Equal(t, http.StatusOK, w.Code)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}
