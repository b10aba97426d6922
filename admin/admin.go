// Package admin is the privileged management surface: user administration,
// moderated counter management and session impersonation.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"persona/auth"
	"persona/captcha"
	"persona/common"
	"persona/counter"
	"persona/models"
)

type AdminModule struct {
	db      *gorm.DB
	gate    *captcha.Gate
	secrets *common.Secrets
}

func NewAdminModule(db *gorm.DB, gate *captcha.Gate, secrets *common.Secrets) *AdminModule {
	return &AdminModule{db: db, gate: gate, secrets: secrets}
}

func (a *AdminModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/admin")
	{
		group.GET("/", auth.RequireRoleRoute(a.db, models.RoleMod), a.index)

		group.GET("/manage/:user", auth.RequireRoleRoute(a.db, models.RoleMod), a.managePage)
		group.POST("/manage/:user", auth.RequireRoleRoute(a.db, models.RoleMod),
			a.gate.Require(), a.manageUser)

		group.GET("/manage/:user/counters",
			auth.RequireRoleRoute(a.db, models.RoleAdmin), a.countersPage)
		group.POST("/manage/:user/counters", auth.RequireRoleRoute(a.db, models.RoleAdmin),
			a.gate.Require(), a.createCounter)

		group.GET("/delete/:user", auth.RequireRoleRoute(a.db, models.RoleAdmin), a.deletePage)
		group.POST("/delete/:user", auth.RequireRoleRoute(a.db, models.RoleAdmin),
			a.gate.Require(), a.deleteUser)

		group.GET("/restore", a.restore)
		group.GET("/clear", a.clear)

		// /admin/@{user}, impersonation
		group.GET("/:user", auth.RequireRoleRoute(a.db, models.RoleAdmin), a.impersonate)
	}
}

// userParam extracts the "@"-prefixed username path parameter.
func userParam(c *gin.Context) (string, bool) {
	raw := c.Param("user")
	if !strings.HasPrefix(raw, "@") {
		return "", false
	}

	username := strings.TrimPrefix(raw, "@")
	return username, username != ""
}

func (a *AdminModule) targetUser(c *gin.Context) (*models.User, bool) {
	username, ok := userParam(c)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return nil, false
	}

	user, err := models.GetUser(a.db, username)
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return nil, false
	}

	return user, true
}

func (a *AdminModule) index(c *gin.Context) {
	var users []models.User
	if err := a.db.Order("username").Find(&users).Error; err != nil {
		c.String(http.StatusInternalServerError, "failed to load users")
		return
	}

	c.HTML(http.StatusOK, "admin_index.html", gin.H{
		"users":   users,
		"admin":   auth.CurrentUser(c),
		"flashes": common.Flashes(c),
	})
}

func (a *AdminModule) managePage(c *gin.Context) {
	target, ok := a.targetUser(c)
	if !ok {
		return
	}

	// moderators manage their own account through the self-service surface
	if target.Username == auth.CurrentUser(c).Username {
		c.Redirect(http.StatusFound, "/auth/manage")
		return
	}

	c.HTML(http.StatusOK, "admin_manage.html", gin.H{
		"user":    target,
		"admin":   auth.CurrentUser(c),
		"flashes": common.Flashes(c),
	})
}

func (a *AdminModule) manageUser(c *gin.Context) {
	target, ok := a.targetUser(c)
	if !ok {
		return
	}

	if target.Username == auth.CurrentUser(c).Username {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	// password resets stay admin-only, moderators handle roles and bios
	if password := c.PostForm("password"); password != "" && auth.HasRole(c, models.RoleAdmin, true) {
		if err := target.SetPassword(password); err != nil {
			common.Flash(c, "error", "failed to update the password")
		}
	}

	if role := c.PostForm("role"); role != "" {
		parsed, err := models.ParseRole(role)
		if err != nil {
			common.Flash(c, "error", "failed to update the role : invalid value")
		} else {
			target.Role = parsed
		}
	}

	if bio, bioSet := c.GetPostForm("bio"); bioSet {
		if err := target.SetBio(bio); err != nil {
			common.Flash(c, "error", "bio is too long")
		}
	}

	if limited := c.PostForm("limited"); limited != "" {
		target.Limited = limited == "on"
	}

	if err := a.db.Save(target).Error; err != nil {
		common.Flash(c, "error", "failed to update user "+target.Username)
	} else {
		common.Flash(c, "info", "user "+target.Username+" updated")
	}

	c.Redirect(http.StatusFound, "/admin/")
}

func (a *AdminModule) countersPage(c *gin.Context) {
	target, ok := a.targetUser(c)
	if !ok {
		return
	}

	if target.Username == auth.CurrentUser(c).Username {
		c.Redirect(http.StatusFound, "/counter/")
		return
	}

	var counters []models.Counter
	if err := a.db.Where("username = ?", target.Username).Find(&counters).Error; err != nil {
		c.String(http.StatusInternalServerError, "failed to load counters")
		return
	}

	c.HTML(http.StatusOK, "admin_counters.html", gin.H{
		"user":     target,
		"admin":    auth.CurrentUser(c),
		"counters": counters,
		"flashes":  common.Flashes(c),
	})
}

func (a *AdminModule) createCounter(c *gin.Context) {
	target, ok := a.targetUser(c)
	if !ok {
		return
	}

	if target.Username == auth.CurrentUser(c).Username {
		c.Redirect(http.StatusFound, "/counter/")
		return
	}

	_, err := counter.Create(a.db, target.Username,
		c.PostForm("name"), c.PostForm("init"), c.PostForm("origin"))
	switch {
	case err == nil:
	case err == models.ErrInvalid:
		c.AbortWithStatus(http.StatusBadRequest)
		return
	default:
		common.Flash(c, "error", "unable to create a counter")
		c.String(http.StatusInternalServerError, "unable to create a counter")
		return
	}

	c.Redirect(http.StatusFound, "/admin/manage/@"+target.Username+"/counters")
}

func (a *AdminModule) deletePage(c *gin.Context) {
	target, ok := a.targetUser(c)
	if !ok {
		return
	}

	if target.Username == auth.CurrentUser(c).Username {
		c.Redirect(http.StatusFound, "/auth/delete")
		return
	}

	common.Flash(c, "warning", "you are about to delete account "+target.Username)
	c.HTML(http.StatusOK, "admin_delete.html", gin.H{
		"user":    target,
		"flashes": common.Flashes(c),
	})
}

func (a *AdminModule) deleteUser(c *gin.Context) {
	target, ok := a.targetUser(c)
	if !ok {
		return
	}

	if target.Username == auth.CurrentUser(c).Username {
		c.Redirect(http.StatusFound, "/auth/delete")
		return
	}

	if c.PostForm("sure") != "on" {
		common.Flash(c, "info", "account not deleted")
		c.Redirect(http.StatusFound, "/admin/")
		return
	}

	if err := models.DeleteUser(a.db, target.Username); err != nil {
		common.Flash(c, "error", "failed to delete account")
		c.String(http.StatusInternalServerError, "failed to delete account")
		return
	}

	common.Flash(c, "info", "account "+target.Username+" deleted")
	c.Redirect(http.StatusFound, "/")
}

// impersonate re-binds the session to the target user while stashing the
// admin's identity in the encrypted impersonation record.
func (a *AdminModule) impersonate(c *gin.Context) {
	target, ok := a.targetUser(c)
	if !ok {
		return
	}

	actor := auth.CurrentUser(c)

	// only downwards, and never while already impersonating
	if target.Role >= actor.Role || auth.IsAdmin(c, a.secrets) {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	if err := auth.SetAdmin(c, a.secrets, actor.Username); err != nil {
		c.String(http.StatusInternalServerError, "failed to impersonate")
		return
	}

	auth.Logout(c)
	if err := auth.Login(c, target.Username, true); err != nil {
		auth.ClearAdmin(c)
		c.String(http.StatusInternalServerError, "failed to impersonate")
		return
	}

	common.Flash(c, "info", "you are now signed in as "+target.Username)
	c.Redirect(http.StatusFound, "/")
}

// restore returns an impersonating session to the original admin identity
// and purges the record. Decryption or lookup failures clear the record
// anyway so the session can never get stuck mid-impersonation.
func (a *AdminModule) restore(c *gin.Context) {
	original, remember, err := auth.GetAdmin(c, a.secrets)
	if err != nil {
		c.String(http.StatusBadRequest, "not impersonating")
		return
	}

	auth.ClearAdmin(c)
	auth.Logout(c)

	if _, err := models.GetUser(a.db, original); err != nil {
		c.String(http.StatusBadRequest, "original account no longer exists")
		return
	}

	if err := auth.Login(c, original, remember); err != nil {
		c.String(http.StatusInternalServerError, "failed to restore session")
		return
	}

	common.Flash(c, "info", "welcome back, "+original)
	c.Redirect(http.StatusFound, "/")
}

// clear drops the impersonation record without switching identities.
func (a *AdminModule) clear(c *gin.Context) {
	auth.ClearAdmin(c)
	common.Flash(c, "info", "impersonation record cleared")
	c.Redirect(http.StatusFound, "/")
}
