package counter

import (
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"persona/auth"
	"persona/captcha"
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

	db.AutoMigrate(&models.User{}, &models.Counter{})
	return db
}

func setupTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	store := cookie.NewStore([]byte("secret"))
	router.Use(sessions.Sessions("test-session", store))

	m := &CounterModule{db: db}
	router.GET("/counter/:user/:id", m.show)

	return router
}

func TestCreate(t *testing.T) {
	db := setupTestDB()

	counter, err := Create(db, "ari", "visits", "0", "")
	assert.NoError(t, err)
	assert.Equal(t, "0", counter.Count)
	assert.NotEmpty(t, counter.ID)
}

func TestCreate_InitModulo(t *testing.T) {
	db := setupTestDB()

	over := new(big.Int).Add(models.HugeIntMax, big.NewInt(5))
	counter, err := Create(db, "ari", "visits", over.String(), "")
	assert.NoError(t, err)
	assert.Equal(t, "5", counter.Count)
}

func TestCreate_Invalid(t *testing.T) {
	db := setupTestDB()

	_, err := Create(db, "ari", "", "0", "")
	assert.ErrorIs(t, err, models.ErrInvalid)

	_, err = Create(db, "ari", "visits", "not a number", "")
	assert.ErrorIs(t, err, models.ErrInvalid)

	_, err = Create(db, "ari", "visits", "", "")
	assert.ErrorIs(t, err, models.ErrInvalid)

	_, err = Create(db, "ari", "visits", "0", strings.Repeat("x", models.CounterOriginsLen+1))
	assert.ErrorIs(t, err, models.ErrInvalid)
}

func TestCreate_Quota(t *testing.T) {
	db := setupTestDB()

	for i := 0; i < models.CountersLimit; i++ {
		_, err := Create(db, "ari", fmt.Sprintf("counter %d", i), "0", "")
		assert.NoError(t, err)
	}

	_, err := Create(db, "ari", "one too many", "0", "")
	assert.ErrorIs(t, err, models.ErrQuota)

	// the ceiling is per user
	_, err = Create(db, "someone-else", "fine", "0", "")
	assert.NoError(t, err)
}

func TestIncrement(t *testing.T) {
	db := setupTestDB()
	counter, err := Create(db, "ari", "visits", "0", "")
	assert.NoError(t, err)

	for i := 1; i <= 5; i++ {
		count, err := Increment(db, "ari", counter.ID)
		assert.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), count)
	}
}

func TestIncrement_Ceiling(t *testing.T) {
	db := setupTestDB()
	counter, err := Create(db, "ari", "visits", models.HugeIntMax.String(), "")
	assert.NoError(t, err)

	// creation already reduced the value modulo the maximum
	assert.Equal(t, "0", counter.Count)

	assert.NoError(t, db.Model(&models.Counter{}).
		Where("id = ?", counter.ID).
		Update("count", models.HugeIntMax.String()).Error)

	count, err := Increment(db, "ari", counter.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.HugeIntMax.String(), count)

	stored, err := Get(db, "ari", counter.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.HugeIntMax.String(), stored.Count)
}

func TestIncrement_NotFound(t *testing.T) {
	db := setupTestDB()

	_, err := Increment(db, "ari", "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestIncrement_Concurrent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "counters.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	assert.NoError(t, err)

	sqlDB, err := db.DB()
	assert.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	db.AutoMigrate(&models.Counter{})

	counter, err := Create(db, "ari", "visits", "0", "")
	assert.NoError(t, err)

	const workers = 8
	const perWorker = 4

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := Increment(db, "ari", counter.ID)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	stored, err := Get(db, "ari", counter.ID)
	assert.NoError(t, err)
	assert.Equal(t, fmt.Sprint(workers*perWorker), stored.Count)
}

func TestSetCount(t *testing.T) {
	counter := &models.Counter{Count: "0"}

	assert.NoError(t, SetCount(counter, "42"))
	assert.Equal(t, "42", counter.Count)

	assert.ErrorIs(t, SetCount(counter, "nope"), models.ErrInvalid)
}

func TestTextRender_Increments(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)
	counter, err := Create(db, "ari", "visits", "0", "https://ari.example")
	assert.NoError(t, err)

	req, _ := http.NewRequest("GET", "/counter/@ari/"+counter.ID+".txt", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Body.String())
	assert.Equal(t, "https://ari.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))

	req, _ = http.NewRequest("GET", "/counter/@ari/"+counter.ID+".txt", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "2", w.Body.String())
}

func TestSVGRender(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)
	counter, err := Create(db, "ari", "visits", "41", "")
	assert.NoError(t, err)

	req, _ := http.NewRequest("GET", "/counter/@ari/"+counter.ID+".svg?fill=%23ff0000&size=20", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/svg+xml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), ">42</text>")
	assert.Contains(t, w.Body.String(), `fill="#ff0000"`)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRender_UnknownCounter(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)

	req, _ := http.NewRequest("GET", "/counter/@ari/missing.txt", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRender_NoAtPrefix(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)

	req, _ := http.NewRequest("GET", "/counter/ari/whatever.txt", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdate_AuthorizeBeforeChallenge(t *testing.T) {
	db := setupTestDB()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(sessions.Sessions("test-session", cookie.NewStore([]byte("secret"))))

	m := &CounterModule{db: db, gate: captcha.NewGate()}
	router.GET("/login/:name", func(c *gin.Context) {
		auth.Login(c, c.Param("name"), false)
		c.String(http.StatusOK, "ok")
	})
	router.POST("/counter/:user/:id", auth.RequireAuth(db), m.authorize, m.gate.Require(), m.update)

	for _, name := range []string{"ari", "mallory"} {
		user, _, err := models.NewUser(name, "hunter2hunter2")
		assert.NoError(t, err)
		assert.NoError(t, db.Create(user).Error)
	}

	counter, err := Create(db, "ari", "visits", "0", "")
	assert.NoError(t, err)

	login := func(name string) []string {
		req, _ := http.NewRequest("GET", "/login/"+name, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		return w.Result().Header.Values("Set-Cookie")
	}
	post := func(cookies []string) *httptest.ResponseRecorder {
		req, _ := http.NewRequest("POST", "/counter/@ari/"+counter.ID,
			strings.NewReader("name=hijacked"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		for _, c := range cookies {
			req.Header.Add("Cookie", strings.Split(c, ";")[0])
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	// a non-owner is rejected before the challenge check runs, so the
	// session's pending challenge is never consumed
	w := post(login("mallory"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	// the owner reaches the challenge check, which bounces the missing code
	w = post(login("ari"))
	assert.Equal(t, http.StatusFound, w.Code)

	stored, err := Get(db, "ari", counter.ID)
	assert.NoError(t, err)
	assert.Equal(t, "visits", stored.Name)
}

func TestParseSVGOptions(t *testing.T) {
	values := map[string]string{
		"fill": "#00ff00",
		"size": "32",
	}
	o := ParseSVGOptions(func(key string) string { return values[key] })

	assert.Equal(t, "#00ff00", o.Fill)
	assert.Equal(t, 32.0, o.Size)
	assert.Equal(t, DefaultSVGOptions().Font, o.Font)

	// hostile values fall back to the defaults
	values = map[string]string{
		"fill": `"><script>`,
		"size": "-5",
	}
	o = ParseSVGOptions(func(key string) string { return values[key] })
	assert.Equal(t, DefaultSVGOptions().Fill, o.Fill)
	assert.Equal(t, DefaultSVGOptions().Size, o.Size)
}
