package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLimiter(rpm, burst int) (*Limiter, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := New(Config{RequestsPerMinute: rpm, BurstSize: burst, CleanupInterval: time.Minute})
	l.now = clk.now
	return l, clk
}

func TestLimiterAllow(t *testing.T) {
	l, clk := newTestLimiter(60, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("ip"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("ip"), "request after burst")

	clk.advance(time.Second)
	assert.True(t, l.Allow("ip"), "one token replenished after a second at 60/min")
	assert.False(t, l.Allow("ip"))
}

func TestLimiterMultipleClients(t *testing.T) {
	l, _ := newTestLimiter(60, 1)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestLimiterBurstCap(t *testing.T) {
	l, clk := newTestLimiter(60, 3)
	l.Allow("ip")
	clk.advance(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("ip"))
	}
	assert.False(t, l.Allow("ip"), "bucket never exceeds burst")
}

func TestLimiterEvict(t *testing.T) {
	l, clk := newTestLimiter(60, 2)
	l.Allow("old")
	clk.advance(5 * time.Minute)
	l.Allow("fresh")

	l.evict(clk.now().Add(-2 * time.Minute))
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.clients, "old")
	assert.Contains(t, l.clients, "fresh")
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(60, 1)
	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Greater(t, cfg.RequestsPerMinute, 0)
	assert.Greater(t, cfg.BurstSize, 0)
}
