package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestDisabled_AllowsEverything(t *testing.T) {
	l := New(nil)

	assert.False(t, l.Enabled())
	for i := 0; i < 500; i++ {
		assert.True(t, l.Allow(context.Background(), "203.0.113.7"))
	}
}

func TestConnect_WithoutAddr(t *testing.T) {
	t.Setenv("redis_addr", "")

	l := Connect()
	assert.False(t, l.Enabled())
}

func TestMiddleware_Passthrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(New(nil).Middleware())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req, _ := http.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestDefaultWindows(t *testing.T) {
	windows := DefaultWindows()

	assert.Len(t, windows, 3)
	assert.Equal(t, time.Minute, windows[0].Span)
	assert.Equal(t, int64(120), windows[0].Budget)

	// tighter windows come first so the cheap check trips before the
	// daily budget is even consulted
	for i := 1; i < len(windows); i++ {
		assert.Greater(t, windows[i].Span, windows[i-1].Span)
	}
}

func TestKey_Slots(t *testing.T) {
	now := time.Now()
	slot := now.UnixNano() / int64(time.Minute)

	assert.Equal(t, key("203.0.113.7", "minute", slot),
		key("203.0.113.7", "minute", slot))
	assert.NotEqual(t, key("203.0.113.7", "minute", slot),
		key("203.0.113.7", "minute", slot+1))
	assert.NotEqual(t, key("203.0.113.7", "minute", slot),
		key("203.0.113.8", "minute", slot))
}
