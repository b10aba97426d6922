// Package ratelimit enforces per-IP request budgets over sliding fixed
// windows backed by redis. Without redis the limiter is a no-op.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Window is one fixed-size counting window with its request budget.
type Window struct {
	Name   string
	Span   time.Duration
	Budget int64
}

// DefaultWindows are the per-IP budgets applied to every request.
func DefaultWindows() []Window {
	return []Window{
		{Name: "minute", Span: time.Minute, Budget: 120},
		{Name: "hour", Span: time.Hour, Budget: 2000},
		{Name: "day", Span: 24 * time.Hour, Budget: 10000},
	}
}

type Limiter struct {
	client  *redis.Client
	windows []Window

	// MaxDelay caps the randomized penalty sleep applied before a 429.
	MaxDelay time.Duration
}

// Connect builds a limiter from the redis_addr environment variable. An
// empty redis_addr disables limiting.
func Connect() *Limiter {
	addr := os.Getenv("redis_addr")
	if addr == "" {
		log.Println("redis_addr unset, rate limiting disabled")
		return New(nil)
	}

	db, _ := strconv.Atoi(os.Getenv("redis_db"))

	return New(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("redis_password"),
		DB:       db,
	}))
}

// New wraps an existing client. A nil client yields a disabled limiter.
func New(client *redis.Client) *Limiter {
	return &Limiter{
		client:   client,
		windows:  DefaultWindows(),
		MaxDelay: 15 * time.Second,
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.client != nil
}

func key(ip, window string, slot int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", ip, window, slot)
}

// Allow counts one hit from ip against every window and reports whether the
// request is within budget. Backend errors fail open so a redis outage does
// not take the site down with it.
func (l *Limiter) Allow(ctx context.Context, ip string) bool {
	if !l.Enabled() {
		return true
	}

	now := time.Now()
	for _, w := range l.windows {
		k := key(ip, w.Name, now.UnixNano()/int64(w.Span))

		count, err := l.client.Incr(ctx, k).Result()
		if err != nil {
			return true
		}

		if count == 1 {
			l.client.Expire(ctx, k, w.Span)
		}

		if count > w.Budget {
			return false
		}
	}

	return true
}

// Middleware applies the limiter to every request. Over-budget clients are
// stalled for a random interval before the 429 so tight retry loops pay for
// the extra traffic.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.Request.Context(), c.ClientIP()) {
			if l.MaxDelay > 0 {
				time.Sleep(time.Duration(rand.Int63n(int64(l.MaxDelay))))
			}

			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}

		c.Next()
	}
}
