package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"persona/captcha"
	"persona/common"
	"persona/models"
)

type AuthModule struct {
	db      *gorm.DB
	gate    *captcha.Gate
	secrets *common.Secrets
}

func NewAuthModule(db *gorm.DB, gate *captcha.Gate, secrets *common.Secrets) *AuthModule {
	return &AuthModule{db: db, gate: gate, secrets: secrets}
}

func (a *AuthModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/auth")
	{
		group.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusFound, "/auth/signin")
		})
		group.GET("/captcha", a.captchaJSON)

		group.GET("/signup", a.nologin, a.signupPage)
		group.POST("/signup", a.nologin, a.gate.Require(), a.signup)
		group.GET("/signin", a.nologin, a.signinPage)
		group.POST("/signin", a.nologin, a.gate.Require(), a.signin)

		group.GET("/signout", RequireAuth(a.db), a.signout)
		group.GET("/manage", RequireAuth(a.db), a.managePage)
		group.POST("/manage", RequireAuth(a.db), a.gate.Require(), a.manage)
		group.GET("/delete", RequireAuth(a.db), a.deletePage)
		group.POST("/delete", RequireAuth(a.db), a.gate.Require(), a.deleteUser)
	}
}

// nologin sends already-authenticated users back to the landing page.
func (a *AuthModule) nologin(c *gin.Context) {
	if _, ok := SessionUsername(c); ok {
		common.Flash(c, "info", "you are already signed in")
		c.Redirect(http.StatusFound, "/")
		c.Abort()
	}
}

func (a *AuthModule) captchaJSON(c *gin.Context) {
	challenge, err := a.gate.Issue(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue a challenge"})
		return
	}

	common.APIHeaders(c, false)
	c.JSON(http.StatusOK, challenge)
}

func (a *AuthModule) flashRender(c *gin.Context, status int, template, msg string, extra gin.H) {
	common.Flash(c, "error", msg)

	data := gin.H{"flashes": common.Flashes(c)}
	for k, v := range extra {
		data[k] = v
	}

	c.HTML(status, template, data)
}

func (a *AuthModule) signupPage(c *gin.Context) {
	c.HTML(http.StatusOK, "signup.html", gin.H{"flashes": common.Flashes(c)})
}

func (a *AuthModule) signup(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	terms := c.PostForm("terms")

	if terms != "on" {
		a.flashRender(c, http.StatusForbidden, "signup.html", "terms have not been accepted", nil)
		return
	}

	if !models.ValidateUsername(username) || password == "" {
		a.flashRender(c, http.StatusBadRequest, "signup.html", "invalid request", nil)
		return
	}

	user, pin, err := models.NewUser(username, password)
	if err != nil {
		a.flashRender(c, http.StatusBadRequest, "signup.html", "invalid request", nil)
		return
	}

	// the primary key constraint is the final word on uniqueness; a taken
	// username surfaces as the same generic failure as any other commit error
	if err := a.db.Create(user).Error; err != nil {
		a.flashRender(c, http.StatusInternalServerError, "signup.html",
			"username is taken / invalid request", nil)
		return
	}

	c.HTML(http.StatusOK, "created.html", gin.H{
		"username": user.Username,
		"pin":      pin,
	})
}

func (a *AuthModule) signinPage(c *gin.Context) {
	c.HTML(http.StatusOK, "signin.html", gin.H{"flashes": common.Flashes(c)})
}

func (a *AuthModule) signin(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	pin := c.PostForm("pin")
	remember := c.PostForm("remember")

	if username == "" || password == "" || pin == "" {
		a.flashRender(c, http.StatusBadRequest, "signin.html", "invalid request", nil)
		return
	}

	user, err := models.GetUser(a.db, username)
	if err != nil {
		a.flashRender(c, http.StatusNotFound, "signin.html", "no such user", nil)
		return
	}

	if !user.VerifyPassword(password) || !user.VerifyPin(pin) {
		a.flashRender(c, http.StatusUnauthorized, "signin.html", "invalid pin and / or password", nil)
		return
	}

	if err := Login(c, user.Username, remember != ""); err != nil {
		a.flashRender(c, http.StatusInternalServerError, "signin.html", "failed to sign in", nil)
		return
	}

	c.Redirect(http.StatusFound, "/")
}

func (a *AuthModule) signout(c *gin.Context) {
	Logout(c)
	common.Flash(c, "info", "you have been signed out")
	c.Redirect(http.StatusFound, "/")
}

func (a *AuthModule) managePage(c *gin.Context) {
	user := CurrentUser(c)

	var impersonator string
	if admin, _, err := GetAdmin(c, a.secrets); err == nil {
		impersonator = admin
	}

	c.HTML(http.StatusOK, "manage.html", gin.H{
		"user":         user,
		"impersonator": impersonator,
		"flashes":      common.Flashes(c),
	})
}

func (a *AuthModule) manage(c *gin.Context) {
	user := CurrentUser(c)

	if IsAdmin(c, a.secrets) {
		a.manageAsAdmin(c, user)
		return
	}

	a.manageSelf(c, user)
}

// manageSelf lets a user update their own bio and, with the old password and
// PIN re-confirmed, their password.
func (a *AuthModule) manageSelf(c *gin.Context, user *models.User) {
	oldPassword := c.PostForm("password_old")
	newPassword := c.PostForm("password")
	pin := c.PostForm("pin")
	bio, bioSet := c.GetPostForm("bio")

	if newPassword != "" {
		if oldPassword == "" || pin == "" ||
			!user.VerifyPassword(oldPassword) || !user.VerifyPin(pin) {
			a.flashRender(c, http.StatusUnauthorized, "manage.html",
				"invalid password( s ) or PIN", gin.H{"user": user})
			return
		}

		if err := user.SetPassword(newPassword); err != nil {
			a.flashRender(c, http.StatusBadRequest, "manage.html",
				"failed to update password", gin.H{"user": user})
			return
		}
	}

	if bioSet {
		if err := user.SetBio(bio); err != nil {
			a.flashRender(c, http.StatusBadRequest, "manage.html",
				"bio is too long", gin.H{"user": user})
			return
		}
	}

	a.commitManage(c, user)
}

// manageAsAdmin applies the privileged edits available while impersonating:
// role changes plus direct password / PIN / bio resets.
func (a *AuthModule) manageAsAdmin(c *gin.Context, user *models.User) {
	if role := c.PostForm("role"); role != "" {
		parsed, err := models.ParseRole(role)
		if err != nil {
			a.flashRender(c, http.StatusBadRequest, "manage.html",
				"failed to update role", gin.H{"user": user})
			return
		}
		user.Role = parsed
	}

	if password := c.PostForm("password"); password != "" {
		if err := user.SetPassword(password); err != nil {
			a.flashRender(c, http.StatusBadRequest, "manage.html",
				"failed to update password", gin.H{"user": user})
			return
		}
	}

	if pin := c.PostForm("pin"); pin != "" {
		if err := user.SetPin(pin); err != nil {
			a.flashRender(c, http.StatusBadRequest, "manage.html",
				"failed to update PIN", gin.H{"user": user})
			return
		}
	}

	if bio, ok := c.GetPostForm("bio"); ok {
		if err := user.SetBio(bio); err != nil {
			a.flashRender(c, http.StatusBadRequest, "manage.html",
				"bio is too long", gin.H{"user": user})
			return
		}
	}

	a.commitManage(c, user)
}

func (a *AuthModule) commitManage(c *gin.Context, user *models.User) {
	if err := a.db.Save(user).Error; err != nil {
		a.flashRender(c, http.StatusInternalServerError, "manage.html",
			"invalid request / server error", gin.H{"user": user})
		return
	}

	common.Flash(c, "info", "user updated")
	c.HTML(http.StatusOK, "manage.html", gin.H{
		"user":    user,
		"flashes": common.Flashes(c),
	})
}

func (a *AuthModule) deletePage(c *gin.Context) {
	common.Flash(c, "warning", "you are about to delete your account")
	c.HTML(http.StatusOK, "delete.html", gin.H{"flashes": common.Flashes(c)})
}

func (a *AuthModule) deleteUser(c *gin.Context) {
	user := CurrentUser(c)

	// confirmation contract: the checkbox must equal "on" and the PIN must
	// re-verify, uniformly across every delete surface
	if c.PostForm("sure") != "on" || !user.VerifyPin(c.PostForm("pin")) {
		common.Flash(c, "info", "account not deleted")
		c.Redirect(http.StatusFound, "/")
		return
	}

	if err := models.DeleteUser(a.db, user.Username); err != nil {
		common.Flash(c, "error", "failed to delete account")
		c.String(http.StatusInternalServerError, "failed to delete account")
		return
	}

	Logout(c)
	common.Flash(c, "info", "account deleted")
	c.Redirect(http.StatusFound, "/")
}
