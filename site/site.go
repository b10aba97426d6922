// Package site serves the landing page and public user profiles.
package site

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"persona/auth"
	"persona/common"
	"persona/models"
)

type SiteModule struct {
	db *gorm.DB
}

func NewSiteModule(db *gorm.DB) *SiteModule {
	return &SiteModule{db: db}
}

func (s *SiteModule) RegisterRoutes(router *gin.Engine) {
	router.GET("/", s.index)

	// /@{username}
	router.GET("/:user", s.profile)
}

func (s *SiteModule) index(c *gin.Context) {
	var username string
	if name, ok := auth.SessionUsername(c); ok {
		username = name
	}

	c.HTML(http.StatusOK, "index.html", gin.H{
		"username": username,
		"flashes":  common.Flashes(c),
	})
}

func (s *SiteModule) profile(c *gin.Context) {
	raw := c.Param("user")
	if !strings.HasPrefix(raw, "@") {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	user, err := models.GetUser(s.db, strings.TrimPrefix(raw, "@"))
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	hasBlog := s.db.First(&models.Blog{}, "username = ?", user.Username).Error == nil

	c.HTML(http.StatusOK, "profile.html", gin.H{
		"user":    user,
		"hasBlog": hasBlog,
		"flashes": common.Flashes(c),
	})
}
