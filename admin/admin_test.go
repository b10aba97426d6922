package admin

import (
	"html/template"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"persona/auth"
	"persona/common"
	"persona/models"
)

func init() {
	models.HashCost = bcrypt.MinCost
}

func setupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		panic("failed to connect database")
	}

	db.AutoMigrate(&models.User{}, &models.App{}, &models.Counter{},
		&models.Blog{}, &models.BlogPost{})
	return db
}

func testSecrets() *common.Secrets {
	return &common.Secrets{
		SessionKey: []byte("test session key"),
		AdminKey:   []byte("test admin key"),
	}
}

// setupTestRouter registers the handlers without the captcha gate so tests
// can post directly. Role middleware stays in place.
func setupTestRouter(db *gorm.DB, secrets *common.Secrets) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	store := cookie.NewStore(secrets.SessionKey)
	router.Use(sessions.Sessions("test-session", store))

	router.SetHTMLTemplate(template.Must(template.New("t").Parse(
		`{{define "admin_index.html"}}users:{{len .users}}{{end}}`)))

	a := &AdminModule{db: db, secrets: secrets}

	router.GET("/login/:name", func(c *gin.Context) {
		auth.Login(c, c.Param("name"), false)
		c.String(http.StatusOK, "ok")
	})
	router.GET("/whoami", auth.RequireAuth(db), func(c *gin.Context) {
		c.String(http.StatusOK, auth.CurrentUser(c).Username)
	})

	group := router.Group("/admin")
	{
		group.GET("/", auth.RequireRoleRoute(db, models.RoleMod), a.index)
		group.POST("/manage/:user", auth.RequireRoleRoute(db, models.RoleMod), a.manageUser)
		group.POST("/manage/:user/counters",
			auth.RequireRoleRoute(db, models.RoleAdmin), a.createCounter)
		group.POST("/delete/:user", auth.RequireRoleRoute(db, models.RoleAdmin), a.deleteUser)
		group.GET("/restore", a.restore)
		group.GET("/clear", a.clear)
		group.GET("/:user", auth.RequireRoleRoute(db, models.RoleAdmin), a.impersonate)
	}

	return router
}

func seedUser(t *testing.T, db *gorm.DB, username string, role models.Role) *models.User {
	user, _, err := models.NewUser(username, "hunter2hunter2")
	assert.NoError(t, err)
	user.Role = role
	assert.NoError(t, db.Create(user).Error)
	return user
}

func request(router *gin.Engine, method, path string, form url.Values, cookies []string) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req, _ = http.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, _ = http.NewRequest(method, path, nil)
	}
	for _, c := range cookies {
		req.Header.Add("Cookie", strings.Split(c, ";")[0])
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// session folds a response's cookie updates into the carried session. The
// impersonation flow saves the session several times in one request, only
// the last write counts.
func session(w *httptest.ResponseRecorder, prev []string) []string {
	set := w.Result().Header.Values("Set-Cookie")
	if len(set) == 0 {
		return prev
	}
	return []string{set[len(set)-1]}
}

func login(t *testing.T, router *gin.Engine, username string) []string {
	w := request(router, "GET", "/login/"+username, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	return session(w, nil)
}

func TestIndex_RequiresMod(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, testSecrets())
	seedUser(t, db, "pleb", models.RoleUser)
	seedUser(t, db, "modmod", models.RoleMod)

	w := request(router, "GET", "/admin/", nil, login(t, router, "pleb"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = request(router, "GET", "/admin/", nil, login(t, router, "modmod"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "users:2")

	w = request(router, "GET", "/admin/", nil, nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/auth/signin", w.Header().Get("Location"))
}

func TestManageUser_Role(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, testSecrets())
	seedUser(t, db, "pleb", models.RoleUser)
	seedUser(t, db, "modmod", models.RoleMod)
	cookies := login(t, router, "modmod")

	w := request(router, "POST", "/admin/manage/@pleb", url.Values{"role": {"2"}}, cookies)
	assert.Equal(t, http.StatusFound, w.Code)

	target, err := models.GetUser(db, "pleb")
	assert.NoError(t, err)
	assert.Equal(t, models.RoleTrusted, target.Role)
}

func TestManageUser_PasswordIsAdminOnly(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, testSecrets())
	seedUser(t, db, "pleb", models.RoleUser)
	seedUser(t, db, "modmod", models.RoleMod)
	seedUser(t, db, "boss", models.RoleAdmin)

	w := request(router, "POST", "/admin/manage/@pleb",
		url.Values{"password": {"newpassword123"}}, login(t, router, "modmod"))
	assert.Equal(t, http.StatusFound, w.Code)

	target, err := models.GetUser(db, "pleb")
	assert.NoError(t, err)
	assert.True(t, target.VerifyPassword("hunter2hunter2"))

	w = request(router, "POST", "/admin/manage/@pleb",
		url.Values{"password": {"newpassword123"}}, login(t, router, "boss"))
	assert.Equal(t, http.StatusFound, w.Code)

	target, err = models.GetUser(db, "pleb")
	assert.NoError(t, err)
	assert.True(t, target.VerifyPassword("newpassword123"))
}

func TestManageUser_Limited(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, testSecrets())
	seedUser(t, db, "pleb", models.RoleUser)
	seedUser(t, db, "modmod", models.RoleMod)
	cookies := login(t, router, "modmod")

	w := request(router, "POST", "/admin/manage/@pleb", url.Values{"limited": {"on"}}, cookies)
	assert.Equal(t, http.StatusFound, w.Code)

	target, err := models.GetUser(db, "pleb")
	assert.NoError(t, err)
	assert.True(t, target.Limited)
}

func TestManageUser_Self(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, testSecrets())
	seedUser(t, db, "modmod", models.RoleMod)
	cookies := login(t, router, "modmod")

	w := request(router, "POST", "/admin/manage/@modmod", url.Values{"role": {"1"}}, cookies)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCounter_ForUser(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, testSecrets())
	seedUser(t, db, "pleb", models.RoleUser)
	seedUser(t, db, "modmod", models.RoleMod)
	seedUser(t, db, "boss", models.RoleAdmin)

	// moderators cannot reach the counter surface
	w := request(router, "POST", "/admin/manage/@pleb/counters",
		url.Values{"name": {"visits"}, "init": {"0"}}, login(t, router, "modmod"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = request(router, "POST", "/admin/manage/@pleb/counters",
		url.Values{"name": {"visits"}, "init": {"41"}}, login(t, router, "boss"))
	assert.Equal(t, http.StatusFound, w.Code)

	var counters []models.Counter
	assert.NoError(t, db.Where("username = ?", "pleb").Find(&counters).Error)
	assert.Len(t, counters, 1)
	assert.Equal(t, "41", counters[0].Count)
}

func TestDeleteUser(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, testSecrets())
	seedUser(t, db, "pleb", models.RoleUser)
	seedUser(t, db, "boss", models.RoleAdmin)
	cookies := login(t, router, "boss")

	// without the checkbox the account survives
	w := request(router, "POST", "/admin/delete/@pleb", url.Values{}, cookies)
	assert.Equal(t, http.StatusFound, w.Code)
	_, err := models.GetUser(db, "pleb")
	assert.NoError(t, err)

	w = request(router, "POST", "/admin/delete/@pleb", url.Values{"sure": {"on"}}, cookies)
	assert.Equal(t, http.StatusFound, w.Code)
	_, err = models.GetUser(db, "pleb")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestImpersonate_RoundTrip(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, testSecrets())
	seedUser(t, db, "pleb", models.RoleUser)
	seedUser(t, db, "boss", models.RoleAdmin)
	cookies := login(t, router, "boss")

	w := request(router, "GET", "/admin/@pleb", nil, cookies)
	assert.Equal(t, http.StatusFound, w.Code)
	cookies = session(w, cookies)

	w = request(router, "GET", "/whoami", nil, cookies)
	assert.Equal(t, "pleb", w.Body.String())

	w = request(router, "GET", "/admin/restore", nil, cookies)
	assert.Equal(t, http.StatusFound, w.Code)
	cookies = session(w, cookies)

	w = request(router, "GET", "/whoami", nil, cookies)
	assert.Equal(t, "boss", w.Body.String())
}

func TestImpersonate_DownwardsOnly(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, testSecrets())
	seedUser(t, db, "boss", models.RoleAdmin)
	seedUser(t, db, "peer", models.RoleAdmin)
	seedUser(t, db, "chief", models.RoleOwner)
	cookies := login(t, router, "boss")

	w := request(router, "GET", "/admin/@chief", nil, cookies)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// equal roles are just as forbidden
	w = request(router, "GET", "/admin/@peer", nil, cookies)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestImpersonate_NoNesting(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, testSecrets())
	seedUser(t, db, "pleb", models.RoleUser)
	seedUser(t, db, "boss", models.RoleAdmin)
	seedUser(t, db, "chief", models.RoleOwner)
	cookies := login(t, router, "chief")

	w := request(router, "GET", "/admin/@boss", nil, cookies)
	assert.Equal(t, http.StatusFound, w.Code)
	cookies = session(w, cookies)

	// the session now belongs to an admin, but the standing record blocks
	// a second hop
	w = request(router, "GET", "/admin/@pleb", nil, cookies)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRestore_NotImpersonating(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, testSecrets())
	seedUser(t, db, "boss", models.RoleAdmin)
	cookies := login(t, router, "boss")

	w := request(router, "GET", "/admin/restore", nil, cookies)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "not impersonating")
}

func TestClear(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, testSecrets())
	seedUser(t, db, "pleb", models.RoleUser)
	seedUser(t, db, "boss", models.RoleAdmin)
	cookies := login(t, router, "boss")

	w := request(router, "GET", "/admin/@pleb", nil, cookies)
	assert.Equal(t, http.StatusFound, w.Code)
	cookies = session(w, cookies)

	w = request(router, "GET", "/admin/clear", nil, cookies)
	assert.Equal(t, http.StatusFound, w.Code)
	cookies = session(w, cookies)

	// the session stays bound to the target, only the way back is gone
	w = request(router, "GET", "/whoami", nil, cookies)
	assert.Equal(t, "pleb", w.Body.String())

	w = request(router, "GET", "/admin/restore", nil, cookies)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
