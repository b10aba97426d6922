package common

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Flash queues a user-visible message on the session. level is one of
// "info", "warning" or "error".
func Flash(c *gin.Context, level, msg string) {
	session := sessions.Default(c)
	session.AddFlash(level + ": " + msg)
	if err := session.Save(); err != nil {
		// a lost flash is cosmetic, never fail the request for it
		return
	}
}

// Flashes drains and returns all queued flash messages.
func Flashes(c *gin.Context) []string {
	session := sessions.Default(c)
	raw := session.Flashes()
	session.Save()

	msgs := make([]string, 0, len(raw))
	for _, m := range raw {
		if s, ok := m.(string); ok {
			msgs = append(msgs, s)
		}
	}
	return msgs
}
