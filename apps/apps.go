// Package apps is the registry of API applications: named credentials a
// user hands to external services. Private apps carry a secret that is
// shown exactly once at creation and stored only as a hash.
package apps

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"persona/auth"
	"persona/captcha"
	"persona/common"
	"persona/models"
)

// Create validates and persists an app for username. The returned secret is
// the only copy in plaintext, empty for public apps.
func Create(db *gorm.DB, username, name string, public bool) (*models.App, string, error) {
	if name == "" || len(name) > models.NameLen {
		return nil, "", models.ErrInvalid
	}

	var count int64
	if err := db.Model(&models.App{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, "", err
	}
	if count >= models.AppsLimit {
		return nil, "", models.ErrQuota
	}

	id, err := models.GenID(db, &models.App{})
	if err != nil {
		return nil, "", err
	}

	app := &models.App{
		ID:       id,
		Name:     name,
		Public:   public,
		Username: username,
	}

	var secret string
	if !public {
		secret, err = models.GenToken(models.AppSecretLen)
		if err != nil {
			return nil, "", err
		}

		app.SecretHash, err = models.HashSecret(secret)
		if err != nil {
			return nil, "", err
		}
	}

	if err := db.Create(app).Error; err != nil {
		return nil, "", err
	}

	return app, secret, nil
}

// Get fetches an app by owner and id.
func Get(db *gorm.DB, username, id string) (*models.App, error) {
	var app models.App
	err := db.First(&app, "username = ? AND id = ?", username, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &app, nil
}

type AppsModule struct {
	db   *gorm.DB
	gate *captcha.Gate
}

func NewAppsModule(db *gorm.DB, gate *captcha.Gate) *AppsModule {
	return &AppsModule{db: db, gate: gate}
}

func (m *AppsModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/apps")
	{
		group.GET("/", auth.RequireAuth(m.db), m.index)
		group.POST("/", auth.RequireAuth(m.db), m.gate.Require(), m.create)

		group.GET("/:user/:id", auth.RequireAuth(m.db), m.show)

		group.GET("/:user/:id/delete", auth.RequireAuth(m.db), m.deletePage)
		group.POST("/:user/:id/delete", auth.RequireAuth(m.db), m.authorize, m.gate.Require(), m.deleteApp)
	}
}

func userParam(c *gin.Context) (string, bool) {
	raw := c.Param("user")
	if !strings.HasPrefix(raw, "@") {
		return "", false
	}

	username := strings.TrimPrefix(raw, "@")
	return username, username != ""
}

// authorize rejects mutations on apps the session user does not own.
// It runs ahead of the challenge check so an unauthorized request cannot
// consume the session's pending challenge.
func (m *AppsModule) authorize(c *gin.Context) {
	owner, ok := userParam(c)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	user := auth.CurrentUser(c)
	if user.Username != owner && !user.Role.AtLeast(models.RoleAdmin) {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	c.Next()
}

func (m *AppsModule) target(c *gin.Context) (*models.App, bool) {
	owner, ok := userParam(c)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return nil, false
	}

	user := auth.CurrentUser(c)
	if user.Username != owner && !user.Role.AtLeast(models.RoleAdmin) {
		c.AbortWithStatus(http.StatusForbidden)
		return nil, false
	}

	app, err := Get(m.db, owner, c.Param("id"))
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return nil, false
	}

	return app, true
}

func (m *AppsModule) index(c *gin.Context) {
	user := auth.CurrentUser(c)

	var apps []models.App
	if err := m.db.Where("username = ?", user.Username).Order("name").Find(&apps).Error; err != nil {
		c.String(http.StatusInternalServerError, "failed to load apps")
		return
	}

	c.HTML(http.StatusOK, "apps.html", gin.H{
		"user":    user,
		"apps":    apps,
		"flashes": common.Flashes(c),
	})
}

func (m *AppsModule) create(c *gin.Context) {
	user := auth.CurrentUser(c)

	app, secret, err := Create(m.db, user.Username,
		c.PostForm("name"), c.PostForm("public") == "on")
	switch {
	case err == nil:
	case err == models.ErrInvalid:
		common.Flash(c, "error", "invalid app name")
		c.Redirect(http.StatusFound, "/apps/")
		return
	case err == models.ErrQuota:
		common.Flash(c, "error", "app limit reached")
		c.Redirect(http.StatusFound, "/apps/")
		return
	default:
		common.Flash(c, "error", "unable to create an app")
		c.String(http.StatusInternalServerError, "unable to create an app")
		return
	}

	// the plaintext secret exists only in this response
	c.HTML(http.StatusOK, "app_created.html", gin.H{
		"user":   user,
		"app":    app,
		"secret": secret,
	})
}

func (m *AppsModule) show(c *gin.Context) {
	app, ok := m.target(c)
	if !ok {
		return
	}

	c.HTML(http.StatusOK, "app.html", gin.H{
		"user":    auth.CurrentUser(c),
		"app":     app,
		"flashes": common.Flashes(c),
	})
}

func (m *AppsModule) deletePage(c *gin.Context) {
	app, ok := m.target(c)
	if !ok {
		return
	}

	common.Flash(c, "warning", "you are about to delete app "+app.Name)
	c.HTML(http.StatusOK, "app_delete.html", gin.H{
		"app":     app,
		"flashes": common.Flashes(c),
	})
}

func (m *AppsModule) deleteApp(c *gin.Context) {
	app, ok := m.target(c)
	if !ok {
		return
	}

	if c.PostForm("sure") != "on" {
		common.Flash(c, "info", "app not deleted")
		c.Redirect(http.StatusFound, "/apps/")
		return
	}

	if err := m.db.Delete(&models.App{}, "username = ? AND id = ?",
		app.Username, app.ID).Error; err != nil {
		common.Flash(c, "error", "failed to delete the app")
		c.String(http.StatusInternalServerError, "failed to delete the app")
		return
	}

	common.Flash(c, "info", "app "+app.Name+" deleted")
	c.Redirect(http.StatusFound, "/apps/")
}
