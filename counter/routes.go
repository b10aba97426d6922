package counter

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

type CounterModule struct {
	db   *gorm.DB
	gate *captcha.Gate
}

func NewCounterModule(db *gorm.DB, gate *captcha.Gate) *CounterModule {
	return &CounterModule{db: db, gate: gate}
}

func (m *CounterModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/counter")
	{
		group.GET("/", auth.RequireAuth(m.db), m.index)
		group.POST("/", auth.RequireAuth(m.db), m.gate.Require(), m.create)

		// public renders and the owner's manage page share this route, the
		// handler dispatches on the .txt / .svg suffix
		group.GET("/:user/:id", m.show)
		group.POST("/:user/:id", auth.RequireAuth(m.db), m.authorize, m.gate.Require(), m.update)

		group.GET("/:user/:id/delete", auth.RequireAuth(m.db), m.deletePage)
		group.POST("/:user/:id/delete", auth.RequireAuth(m.db), m.authorize, m.gate.Require(), m.deleteCounter)
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

// authorize rejects mutations on counters the session user may not manage.
// It runs ahead of the challenge check so an unauthorized request cannot
// consume the session's pending challenge.
func (m *CounterModule) authorize(c *gin.Context) {
	owner, ok := userParam(c)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	if !canManage(c, owner) {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	c.Next()
}

// canManage reports whether the authenticated user may edit owner's
// counters.
func canManage(c *gin.Context, owner string) bool {
	user := auth.CurrentUser(c)
	if user == nil {
		return false
	}
	return user.Username == owner || user.Role.AtLeast(models.RoleAdmin)
}

func (m *CounterModule) index(c *gin.Context) {
	user := auth.CurrentUser(c)

	var counters []models.Counter
	if err := m.db.Where("username = ?", user.Username).Order("name").Find(&counters).Error; err != nil {
		c.String(http.StatusInternalServerError, "failed to load counters")
		return
	}

	c.HTML(http.StatusOK, "counters.html", gin.H{
		"user":     user,
		"counters": counters,
		"flashes":  common.Flashes(c),
	})
}

func (m *CounterModule) create(c *gin.Context) {
	user := auth.CurrentUser(c)

	created, err := Create(m.db, user.Username,
		c.PostForm("name"), c.PostForm("init"), c.PostForm("origin"))
	switch {
	case err == nil:
	case err == models.ErrInvalid:
		common.Flash(c, "error", "invalid counter")
		c.Redirect(http.StatusFound, "/counter/")
		return
	case err == models.ErrQuota:
		common.Flash(c, "error", "counter limit reached")
		c.Redirect(http.StatusFound, "/counter/")
		return
	default:
		common.Flash(c, "error", "unable to create a counter")
		c.String(http.StatusInternalServerError, "unable to create a counter")
		return
	}

	c.Redirect(http.StatusFound, "/counter/@"+user.Username+"/"+created.ID)
}

func (m *CounterModule) show(c *gin.Context) {
	owner, ok := userParam(c)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	id := c.Param("id")

	if base, found := strings.CutSuffix(id, ".txt"); found {
		m.renderText(c, owner, base)
		return
	}
	if base, found := strings.CutSuffix(id, ".svg"); found {
		m.renderSVG(c, owner, base)
		return
	}

	m.managePage(c, owner, id)
}

// hit increments a counter for a public render, applying the cache-busting
// and per-counter CORS headers.
func (m *CounterModule) hit(c *gin.Context, owner, id string) (string, bool) {
	counter, err := Get(m.db, owner, id)
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return "", false
	}

	count, err := Increment(m.db, owner, id)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to count the visit")
		return "", false
	}

	common.APIHeaders(c, false)

	h := c.Writer.Header()
	h.Set("Vary", "Origin")
	if counter.Origin != "" {
		h.Set("Access-Control-Allow-Origin", counter.Origin)
	} else {
		h.Set("Access-Control-Allow-Origin", "*")
	}

	return count, true
}

func (m *CounterModule) renderText(c *gin.Context, owner, id string) {
	count, ok := m.hit(c, owner, id)
	if !ok {
		return
	}

	c.String(http.StatusOK, count)
}

func (m *CounterModule) renderSVG(c *gin.Context, owner, id string) {
	count, ok := m.hit(c, owner, id)
	if !ok {
		return
	}

	c.Data(http.StatusOK, "image/svg+xml", []byte(RenderSVG(count, ParseSVGOptions(c.Query))))
}

func (m *CounterModule) managePage(c *gin.Context, owner, id string) {
	// the manage page sits on a public route, so authentication runs here
	auth.RequireAuth(m.db)(c)
	if c.IsAborted() {
		return
	}

	if !canManage(c, owner) {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	counter, err := Get(m.db, owner, id)
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	c.HTML(http.StatusOK, "counter_manage.html", gin.H{
		"user":    auth.CurrentUser(c),
		"counter": counter,
		"flashes": common.Flashes(c),
	})
}

func (m *CounterModule) target(c *gin.Context) (*models.Counter, bool) {
	owner, ok := userParam(c)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return nil, false
	}

	if !canManage(c, owner) {
		c.AbortWithStatus(http.StatusForbidden)
		return nil, false
	}

	counter, err := Get(m.db, owner, c.Param("id"))
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return nil, false
	}

	return counter, true
}

func (m *CounterModule) update(c *gin.Context) {
	counter, ok := m.target(c)
	if !ok {
		return
	}

	if name := c.PostForm("name"); name != "" {
		if len(name) > models.NameLen {
			common.Flash(c, "error", "name is too long")
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		counter.Name = name
	}

	if count := c.PostForm("count"); count != "" {
		if err := SetCount(counter, count); err != nil {
			common.Flash(c, "error", "invalid count")
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
	}

	if origin, originSet := c.GetPostForm("origin"); originSet {
		if len(origin) > models.CounterOriginsLen {
			common.Flash(c, "error", "origin is too long")
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		counter.Origin = origin
	}

	if err := m.db.Save(counter).Error; err != nil {
		common.Flash(c, "error", "failed to update the counter")
		c.String(http.StatusInternalServerError, "failed to update the counter")
		return
	}

	common.Flash(c, "info", "counter updated")
	c.Redirect(http.StatusFound, "/counter/@"+counter.Username+"/"+counter.ID)
}

func (m *CounterModule) deletePage(c *gin.Context) {
	counter, ok := m.target(c)
	if !ok {
		return
	}

	common.Flash(c, "warning", "you are about to delete counter "+counter.Name)
	c.HTML(http.StatusOK, "counter_delete.html", gin.H{
		"counter": counter,
		"flashes": common.Flashes(c),
	})
}

func (m *CounterModule) deleteCounter(c *gin.Context) {
	counter, ok := m.target(c)
	if !ok {
		return
	}

	if c.PostForm("sure") != "on" {
		common.Flash(c, "info", "counter not deleted")
		c.Redirect(http.StatusFound, "/counter/")
		return
	}

	if err := m.db.Delete(&models.Counter{}, "username = ? AND id = ?",
		counter.Username, counter.ID).Error; err != nil {
		common.Flash(c, "error", "failed to delete the counter")
		c.String(http.StatusInternalServerError, "failed to delete the counter")
		return
	}

	common.Flash(c, "info", "counter "+counter.Name+" deleted")
	c.Redirect(http.StatusFound, "/counter/")
}
