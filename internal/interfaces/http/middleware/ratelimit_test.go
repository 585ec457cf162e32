package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kds/backend/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
)

// newTestRateLimiter returns a limiter whose clock only moves when advanced
func newTestRateLimiter(t *testing.T, rps float64, burst int) (*RateLimiter, func(time.Duration)) {
	t.Helper()
	var mu sync.Mutex
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	rl := NewRateLimiter(rps, burst)
	t.Cleanup(rl.Stop)
	rl.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}
	return rl, advance
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows the burst then blocks", func(t *testing.T) {
		limiter, _ := newTestRateLimiter(t, 1, 3)

		for i := 0; i < 3; i++ {
			assert.True(t, limiter.Allow("client1"), "request %d should be allowed", i+1)
		}
		assert.False(t, limiter.Allow("client1"))
	})

	t.Run("separate limits per client", func(t *testing.T) {
		limiter, _ := newTestRateLimiter(t, 1, 2)

		assert.True(t, limiter.Allow("clientA"))
		assert.True(t, limiter.Allow("clientA"))
		assert.False(t, limiter.Allow("clientA"))

		assert.True(t, limiter.Allow("clientB"))
		assert.True(t, limiter.Allow("clientB"))
	})

	t.Run("refills over time", func(t *testing.T) {
		limiter, advance := newTestRateLimiter(t, 2, 1)

		assert.True(t, limiter.Allow("client3"))
		assert.False(t, limiter.Allow("client3"))

		advance(500 * time.Millisecond)
		assert.True(t, limiter.Allow("client3"))
		assert.False(t, limiter.Allow("client3"))
	})

	t.Run("cleanup evicts idle clients", func(t *testing.T) {
		limiter, advance := newTestRateLimiter(t, 1, 1)

		limiter.Allow("idle")
		advance(5 * time.Minute)
		limiter.Allow("active")
		advance(6 * time.Minute)
		limiter.Cleanup()

		limiter.mu.Lock()
		defer limiter.mu.Unlock()
		assert.NotContains(t, limiter.clients, "idle")
		assert.Contains(t, limiter.clients, "active")
	})

	t.Run("concurrent access is safe", func(t *testing.T) {
		limiter, _ := newTestRateLimiter(t, 1, 100)
		var wg sync.WaitGroup
		var allowed atomic.Int32

		for i := 0; i < 150; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if limiter.Allow("concurrent-client") {
					allowed.Add(1)
				}
			}()
		}

		wg.Wait()
		assert.Equal(t, int32(100), allowed.Load())
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		limiter := NewRateLimiter(1, 1)
		assert.NotPanics(t, func() {
			limiter.Stop()
			limiter.Stop()
		})
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter, _ := newTestRateLimiter(t, 0.5, 2)

	router := gin.New()
	router.Use(RequestID(), RateLimit(limiter))
	router.POST("/api/completed_orders", func(c *gin.Context) {
		c.JSON(http.StatusOK, dto.StatusResponse{Status: dto.StatusSuccess})
	})

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/completed_orders", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)

	w := send("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), dto.ErrCodeRateLimited)

	assert.Equal(t, http.StatusOK, send("10.0.0.2").Code)
}

func TestRateLimitByKey_NilLimiter(t *testing.T) {
	router := gin.New()
	router.Use(RateLimitByKey(nil, func(c *gin.Context) string { return "x" }))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
