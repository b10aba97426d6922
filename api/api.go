// Package api is the public JSON surface. Every response is cache-busted
// and CORS-open so third-party pages can consume it directly.
package api

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"persona/common"
	"persona/counter"
	"persona/models"
)

type APIModule struct {
	db *gorm.DB

	// subapps is the list of mounted route groups, served as-is
	subapps []string
}

func NewAPIModule(db *gorm.DB, subapps []string) *APIModule {
	return &APIModule{db: db, subapps: subapps}
}

func (a *APIModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api")
	group.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "OPTIONS"},
	}))
	group.Use(func(c *gin.Context) {
		common.APIHeaders(c, false)
		c.Next()
	})

	{
		group.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusFound, "/")
		})

		group.GET("/roles", a.roles)
		group.GET("/apps", a.apps)

		group.GET("/counter/:user/:id", a.counter)

		group.GET("/:user", a.user)
		group.GET("/:user/:id", a.app)
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

func (a *APIModule) roles(c *gin.Context) {
	c.JSON(http.StatusOK, models.RolesJSON())
}

func (a *APIModule) apps(c *gin.Context) {
	c.JSON(http.StatusOK, a.subapps)
}

// user serves a user's public profile with their registered apps. An
// unknown username yields an empty list rather than an error.
func (a *APIModule) user(c *gin.Context) {
	username, ok := userParam(c)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	user, err := models.GetUser(a.db, username)
	if err != nil {
		c.JSON(http.StatusOK, []string{})
		return
	}

	var apps []models.App
	if err := a.db.Where("username = ?", username).Find(&apps).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load apps"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": user,
		"apps": apps,
	})
}

func (a *APIModule) app(c *gin.Context) {
	username, ok := userParam(c)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	var app models.App
	if err := a.db.First(&app, "username = ? AND id = ?", username, c.Param("id")).Error; err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	c.JSON(http.StatusOK, app)
}

// counter reports a counter's value without counting a visit.
func (a *APIModule) counter(c *gin.Context) {
	username, ok := userParam(c)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	ctr, err := counter.Get(a.db, username, c.Param("id"))
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":  ctr.Name,
		"count": ctr.Count,
	})
}
