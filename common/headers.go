package common

import "github.com/gin-gonic/gin"

// SecurityHeaders applies the uniform security response headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "upgrade-insecure-requests")
		h.Set("Referrer-Policy", "no-referrer-when-downgrade")
		c.Next()
	}
}

// APIHeaders marks a response as uncacheable and, when cors is true, open to
// any origin. API surfaces are explicitly cache-busted.
func APIHeaders(c *gin.Context, cors bool) {
	h := c.Writer.Header()
	h.Set("Expires", "Thu, 01 Jan 1970 00:00:00 GMT")
	h.Set("Cache-Control", "max-age=0, no-cache, must-revalidate, proxy-revalidate")

	if cors {
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	}
}
