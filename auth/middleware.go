package auth

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"persona/models"
)

const (
	sessionUser     = "username"
	sessionRemember = "remember"

	// remembered sessions live for thirty days
	rememberMaxAge = 30 * 24 * 60 * 60

	contextUser = "current_user"
)

// Login binds the session to username. remember keeps the cookie across
// browser restarts.
func Login(c *gin.Context, username string, remember bool) error {
	session := sessions.Default(c)
	session.Set(sessionUser, username)
	session.Set(sessionRemember, remember)

	if remember {
		session.Options(sessions.Options{Path: "/", MaxAge: rememberMaxAge, HttpOnly: true})
	} else {
		session.Options(sessions.Options{Path: "/", MaxAge: 0, HttpOnly: true})
	}

	return session.Save()
}

// Logout drops the authenticated identity but leaves the rest of the
// session (flashes, impersonation record) alone.
func Logout(c *gin.Context) error {
	session := sessions.Default(c)
	session.Delete(sessionUser)
	session.Delete(sessionRemember)
	return session.Save()
}

// SessionUsername returns the authenticated username, if any.
func SessionUsername(c *gin.Context) (string, bool) {
	username, ok := sessions.Default(c).Get(sessionUser).(string)
	return username, ok && username != ""
}

// Remembered reports whether the current session is persistent.
func Remembered(c *gin.Context) bool {
	remember, ok := sessions.Default(c).Get(sessionRemember).(bool)
	return ok && remember
}

// CurrentUser returns the user loaded by RequireAuth or RequireRoleRoute.
func CurrentUser(c *gin.Context) *models.User {
	user, _ := c.Get(contextUser)
	if u, ok := user.(*models.User); ok {
		return u
	}
	return nil
}

// RequireAuth loads the session's user into the context, redirecting
// unauthenticated requests to the sign-in page.
func RequireAuth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		username, ok := SessionUsername(c)
		if !ok {
			c.Redirect(http.StatusFound, "/auth/signin")
			c.Abort()
			return
		}

		user, err := models.GetUser(db, username)
		if err != nil {
			// stale session for a deleted account
			Logout(c)
			c.Redirect(http.StatusFound, "/auth/signin")
			c.Abort()
			return
		}

		c.Set(contextUser, user)
		c.Next()
	}
}

// HasRole reports whether the context's user is at least min. With
// allowLimited false, limited accounts fail even when the role matches.
func HasRole(c *gin.Context, min models.Role, allowLimited bool) bool {
	user := CurrentUser(c)
	if user == nil {
		return false
	}

	if !allowLimited && user.Limited {
		return false
	}

	return user.Role.AtLeast(min)
}

// RequireRoleRoute gates a route on authentication plus a minimum role.
// Unauthenticated requests are redirected to sign-in, authenticated but
// under-privileged ones get a hard 403 before any handler body runs.
func RequireRoleRoute(db *gorm.DB, min models.Role) gin.HandlerFunc {
	requireAuth := RequireAuth(db)

	return func(c *gin.Context) {
		requireAuth(c)
		if c.IsAborted() {
			return
		}

		if !HasRole(c, min, true) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		c.Next()
	}
}
