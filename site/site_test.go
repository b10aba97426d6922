package site

import (
	"html/template"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

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

	db.AutoMigrate(&models.User{}, &models.Blog{})
	return db
}

func setupTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	store := cookie.NewStore([]byte("secret"))
	router.Use(sessions.Sessions("test-session", store))

	router.SetHTMLTemplate(template.Must(template.New("t").Parse(
		`{{define "index.html"}}welcome {{.username}}{{end}}` +
			`{{define "profile.html"}}{{.user.Username}} blog:{{.hasBlog}}{{end}}`)))

	NewSiteModule(db).RegisterRoutes(router)
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIndex(t *testing.T) {
	router := setupTestRouter(setupTestDB())

	w := get(router, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "welcome")
}

func TestProfile(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)

	user, _, err := models.NewUser("ari", "hunter2hunter2")
	assert.NoError(t, err)
	assert.NoError(t, db.Create(user).Error)

	w := get(router, "/@ari")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ari blog:false")

	blog := &models.Blog{Username: "ari"}
	assert.NoError(t, blog.SetTitle("my corner"))
	assert.NoError(t, db.Create(blog).Error)

	w = get(router, "/@ari")
	assert.Contains(t, w.Body.String(), "ari blog:true")
}

func TestProfile_NotFound(t *testing.T) {
	router := setupTestRouter(setupTestDB())

	w := get(router, "/@nobody")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(router, "/ari")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
