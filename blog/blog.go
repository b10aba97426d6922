// Package blog gives every user a markdown blog with a configurable theme,
// feeds and cached previews. Posts are addressed by slugs derived from
// their titles.
package blog

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"persona/auth"
	"persona/cache"
	"persona/captcha"
	"persona/common"
	"persona/models"
)

type BlogModule struct {
	db       *gorm.DB
	gate     *captcha.Gate
	secrets  *common.Secrets
	previews *cache.Cache
}

func NewBlogModule(db *gorm.DB, gate *captcha.Gate, secrets *common.Secrets, previews *cache.Cache) *BlogModule {
	return &BlogModule{db: db, gate: gate, secrets: secrets, previews: previews}
}

func (b *BlogModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/blog")
	{
		group.GET("/", auth.RequireAuth(b.db), b.configPage)
		group.POST("/", auth.RequireAuth(b.db), b.gate.Require(), b.saveConfig)

		group.GET("/~preview", auth.RequireAuth(b.db), b.servePreview)

		group.GET("/:user", b.userBlog)

		// posts, per-blog files and the owner's GET pages all live one
		// segment under the blog, the handler dispatches on the slug
		group.GET("/:user/:slug", b.userFile)

		group.POST("/:user/~new", auth.RequireAuth(b.db), b.owned, b.gate.Require(), b.createPost)
		group.POST("/:user/~new/preview", auth.RequireAuth(b.db), b.newPostPreview)
		group.POST("/:user/~style", auth.RequireAuth(b.db), b.owned, b.gate.Require(), b.saveStyle)
		group.POST("/:user/~style/preview", auth.RequireAuth(b.db), b.stylePreview)
		group.POST("/:user/~nuke", auth.RequireAuth(b.db), b.owned, b.gate.Require(), b.nukeBlog)

		group.GET("/:user/:slug/~edit", auth.RequireAuth(b.db), b.editPage)
		group.POST("/:user/:slug/~edit", auth.RequireAuth(b.db), b.owned, b.gate.Require(), b.editPost)
		group.POST("/:user/:slug/~edit/preview", auth.RequireAuth(b.db), b.editPostPreview)

		group.GET("/:user/:slug/~delete", auth.RequireAuth(b.db), b.deletePage)
		group.POST("/:user/:slug/~delete", auth.RequireAuth(b.db), b.owned, b.gate.Require(), b.deletePost)
	}
}

// GetBlog fetches a user's blog configuration.
func GetBlog(db *gorm.DB, username string) (*models.Blog, error) {
	var blog models.Blog
	err := db.First(&blog, "username = ?", username).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &blog, nil
}

// GetPost fetches a post by owner and slug.
func GetPost(db *gorm.DB, username, slug string) (*models.BlogPost, error) {
	var post models.BlogPost
	err := db.First(&post, "username = ? AND slug = ?", username, slug).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &post, nil
}

// ListPosts returns a user's posts, newest first.
func ListPosts(db *gorm.DB, username string) ([]models.BlogPost, error) {
	var posts []models.BlogPost
	err := db.Where("username = ?", username).Order("posted DESC").Find(&posts).Error
	return posts, err
}

// CreatePost validates and persists a post, deriving its slug from the
// title. A slug collision within the blog is retried once with a random
// prefix so two posts can share a title.
func CreatePost(db *gorm.DB, username, title, keywords, content, description string) (*models.BlogPost, error) {
	post := &models.BlogPost{Username: username}

	if err := post.SetTitle(title); err != nil {
		return nil, err
	}
	if err := post.SetKeywords(keywords); err != nil {
		return nil, err
	}
	if err := post.SetContent(content); err != nil {
		return nil, err
	}
	if err := post.SetDescription(description); err != nil {
		return nil, err
	}

	var count int64
	if err := db.Model(&models.BlogPost{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count >= models.BlogPostsLimit {
		return nil, models.ErrQuota
	}

	id, err := models.GenID(db, &models.BlogPost{})
	if err != nil {
		return nil, err
	}
	post.ID = id

	post.Slug = models.Slugify(title, "")
	if _, err := GetPost(db, username, post.Slug); err == nil {
		var raw [8]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return nil, err
		}
		post.Slug = models.Slugify(title, hex.EncodeToString(raw[:]))
	}

	now := time.Now().UTC()
	post.Posted = now
	post.Edited = now

	if err := db.Create(post).Error; err != nil {
		return nil, err
	}

	return post, nil
}

func userParam(c *gin.Context) (string, bool) {
	raw := c.Param("user")
	if !strings.HasPrefix(raw, "@") {
		return "", false
	}

	username := strings.TrimPrefix(raw, "@")
	return username, username != ""
}

// requireOwner authenticates the request and checks that the session user
// owns the addressed blog. Used by handlers on public routes where the
// middleware chain carries no auth.
func (b *BlogModule) requireOwner(c *gin.Context) (*models.User, bool) {
	owner, ok := userParam(c)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return nil, false
	}

	if auth.CurrentUser(c) == nil {
		auth.RequireAuth(b.db)(c)
		if c.IsAborted() {
			return nil, false
		}
	}

	user := auth.CurrentUser(c)
	if user.Username != owner {
		c.AbortWithStatus(http.StatusForbidden)
		return nil, false
	}

	return user, true
}

// owned is requireOwner as middleware. It runs ahead of the challenge
// check so a non-owner's request cannot consume the session's pending
// challenge.
func (b *BlogModule) owned(c *gin.Context) {
	if _, ok := b.requireOwner(c); !ok {
		return
	}

	c.Next()
}

func (b *BlogModule) ownBlog(c *gin.Context) (*models.User, *models.Blog, bool) {
	user, ok := b.requireOwner(c)
	if !ok {
		return nil, nil, false
	}

	blog, err := GetBlog(b.db, user.Username)
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return nil, nil, false
	}

	return user, blog, true
}

func (b *BlogModule) configPage(c *gin.Context) {
	user := auth.CurrentUser(c)

	blog, err := GetBlog(b.db, user.Username)
	if err != nil && err != models.ErrNotFound {
		c.String(http.StatusInternalServerError, "failed to load the blog")
		return
	}

	c.HTML(http.StatusOK, "blog_conf.html", gin.H{
		"user":    user,
		"blog":    blog,
		"flashes": common.Flashes(c),
	})
}

func (b *BlogModule) saveConfig(c *gin.Context) {
	user := auth.CurrentUser(c)

	blog, err := GetBlog(b.db, user.Username)
	fresh := err == models.ErrNotFound
	if err != nil && !fresh {
		c.String(http.StatusInternalServerError, "failed to load the blog")
		return
	}

	if fresh {
		blog = &models.Blog{Username: user.Username}
		if err := blog.SetTitle(c.PostForm("title")); err != nil {
			common.Flash(c, "error", "failed to create blog, bad request")
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
	}

	// each field is applied independently, one bad value does not block
	// the rest of the form
	setters := []struct {
		field string
		set   func(string) error
	}{
		{"title", blog.SetTitle},
		{"header", blog.SetHeader},
		{"description", blog.SetDescription},
		{"keywords", blog.SetKeywords},
		{"locale", blog.SetLocale},
		{"primary", blog.SetPrimary},
		{"secondary", blog.SetSecondary},
		{"visitor", blog.SetVisitorURL},
		{"comment", blog.SetCommentURL},
		{"code_theme", blog.SetCodeTheme},
	}

	for _, s := range setters {
		value, set := c.GetPostForm(s.field)
		if !set {
			continue
		}

		if err := s.set(value); err != nil {
			common.Flash(c, "error", "failed to set '"+s.field+"'")
		}
	}

	if fresh {
		err = b.db.Create(blog).Error
	} else {
		err = b.db.Save(blog).Error
	}
	if err != nil {
		common.Flash(c, "error", "failed updating the blog")
		c.String(http.StatusInternalServerError, "failed updating the blog")
		return
	}

	common.Flash(c, "info", "blog updated")
	c.Redirect(http.StatusFound, "/blog/")
}

func (b *BlogModule) userBlog(c *gin.Context) {
	owner, ok := userParam(c)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	if _, err := models.GetUser(b.db, owner); err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	blog, err := GetBlog(b.db, owner)
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	posts, err := ListPosts(b.db, owner)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load posts")
		return
	}

	c.HTML(http.StatusOK, "blog.html", blogPage(blog, posts, blog.BlogCSS()))
}

// userFile serves everything one segment under a blog: special files,
// the owner's management pages and finally the posts themselves.
func (b *BlogModule) userFile(c *gin.Context) {
	owner, ok := userParam(c)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	switch slug := c.Param("slug"); slug {
	case "robots.txt":
		b.robots(c, owner)
	case "theme.txt":
		b.themeFile(c, owner)
	case "blog.css":
		b.blogCSS(c, owner)
	case "post.css":
		b.postCSS(c, owner)
	case "sitemap.xml":
		b.sitemap(c, owner)
	case "manifest.json":
		b.manifest(c, owner)
	case "rss.xml":
		b.rss(c, owner)
	case "~new":
		b.newPage(c)
	case "~style":
		b.stylePage(c)
	case "~nuke":
		b.nukePage(c)
	default:
		b.showPost(c, owner, slug)
	}
}

func (b *BlogModule) showPost(c *gin.Context, owner, slug string) {
	blog, err := GetBlog(b.db, owner)
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	post, err := GetPost(b.db, owner, slug)
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	c.HTML(http.StatusOK, "blog_post.html",
		postPage(blog, post, strings.Replace(blog.Style, models.StyleDelim, "", 1)))
}

func (b *BlogModule) newPage(c *gin.Context) {
	if _, _, ok := b.ownBlog(c); !ok {
		return
	}

	c.HTML(http.StatusOK, "blog_new.html", gin.H{
		"user":    auth.CurrentUser(c),
		"flashes": common.Flashes(c),
	})
}

func (b *BlogModule) createPost(c *gin.Context) {
	user, _, ok := b.ownBlog(c)
	if !ok {
		return
	}

	post, err := CreatePost(b.db, user.Username,
		c.PostForm("title"), c.PostForm("keywords"),
		c.PostForm("content"), c.PostForm("description"))
	if err != nil {
		common.Flash(c, "error", "failed to post "+c.PostForm("title"))
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	c.Redirect(http.StatusFound, "/blog/@"+user.Username+"/"+post.Slug)
}

func (b *BlogModule) editPage(c *gin.Context) {
	user, _, ok := b.ownBlog(c)
	if !ok {
		return
	}

	post, err := GetPost(b.db, user.Username, c.Param("slug"))
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	c.HTML(http.StatusOK, "blog_new.html", gin.H{
		"user":    user,
		"post":    post,
		"flashes": common.Flashes(c),
	})
}

func (b *BlogModule) editPost(c *gin.Context) {
	user, _, ok := b.ownBlog(c)
	if !ok {
		return
	}

	post, err := GetPost(b.db, user.Username, c.Param("slug"))
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	fields := []struct {
		name string
		set  func(string) error
	}{
		{"title", post.SetTitle},
		{"keywords", post.SetKeywords},
		{"content", post.SetContent},
		{"description", post.SetDescription},
	}

	for _, f := range fields {
		value, set := c.GetPostForm(f.name)
		if !set {
			continue
		}

		if err := f.set(value); err != nil {
			common.Flash(c, "error", "failed to set '"+f.name+"'")
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
	}

	post.Edited = time.Now().UTC()

	if err := b.db.Save(post).Error; err != nil {
		common.Flash(c, "error", "failed to edit blog post")
		c.String(http.StatusInternalServerError, "failed to edit blog post")
		return
	}

	c.Redirect(http.StatusFound, "/blog/@"+user.Username+"/"+post.Slug)
}

func (b *BlogModule) deletePage(c *gin.Context) {
	user, _, ok := b.ownBlog(c)
	if !ok {
		return
	}

	post, err := GetPost(b.db, user.Username, c.Param("slug"))
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	common.Flash(c, "warning", "you are about to delete your blog post "+post.Title)
	c.HTML(http.StatusOK, "blog_delete.html", gin.H{
		"post":    post,
		"flashes": common.Flashes(c),
	})
}

// confirmed checks the uniform deletion contract: impersonating admins skip
// it, everyone else re-confirms with the checkbox and their PIN.
func (b *BlogModule) confirmed(c *gin.Context, user *models.User) bool {
	if auth.IsAdmin(c, b.secrets) {
		return true
	}
	return c.PostForm("sure") == "on" && user.VerifyPin(c.PostForm("pin"))
}

func (b *BlogModule) deletePost(c *gin.Context) {
	user, _, ok := b.ownBlog(c)
	if !ok {
		return
	}

	post, err := GetPost(b.db, user.Username, c.Param("slug"))
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	if !b.confirmed(c, user) {
		common.Flash(c, "info", "blog post not deleted")
		c.Redirect(http.StatusFound, "/blog/")
		return
	}

	if err := b.db.Delete(&models.BlogPost{}, "username = ? AND id = ?",
		post.Username, post.ID).Error; err != nil {
		common.Flash(c, "error", "failed to delete blog post")
		c.String(http.StatusInternalServerError, "failed to delete blog post")
		return
	}

	common.Flash(c, "info", "blog post deleted")
	c.Redirect(http.StatusFound, "/blog/")
}

func (b *BlogModule) nukePage(c *gin.Context) {
	if _, _, ok := b.ownBlog(c); !ok {
		return
	}

	common.Flash(c, "warning", "you are about to delete your blog")
	c.HTML(http.StatusOK, "blog_delete.html", gin.H{
		"flashes": common.Flashes(c),
	})
}

// nukeBlog deletes the blog with every post in one transaction.
func (b *BlogModule) nukeBlog(c *gin.Context) {
	user, _, ok := b.ownBlog(c)
	if !ok {
		return
	}

	if !b.confirmed(c, user) {
		common.Flash(c, "info", "blog not deleted")
		c.Redirect(http.StatusFound, "/blog/")
		return
	}

	err := b.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.BlogPost{}, "username = ?", user.Username).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Blog{}, "username = ?", user.Username).Error
	})
	if err != nil {
		common.Flash(c, "error", "failed to delete blog")
		c.String(http.StatusInternalServerError, "failed to delete blog")
		return
	}

	common.Flash(c, "info", "blog deleted")
	c.Redirect(http.StatusFound, "/blog/")
}

func (b *BlogModule) stylePage(c *gin.Context) {
	_, blog, ok := b.ownBlog(c)
	if !ok {
		return
	}

	c.HTML(http.StatusOK, "blog_style.html", gin.H{
		"user":    auth.CurrentUser(c),
		"blog":    blog,
		"blogCSS": blog.BlogCSS(),
		"postCSS": blog.PostCSS(),
		"flashes": common.Flashes(c),
	})
}

func (b *BlogModule) saveStyle(c *gin.Context) {
	user, blog, ok := b.ownBlog(c)
	if !ok {
		return
	}

	if err := blog.SetStyle(c.PostForm("blog_css"), c.PostForm("post_css")); err != nil {
		common.Flash(c, "error", "invalid style")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	if err := b.db.Save(blog).Error; err != nil {
		common.Flash(c, "error", "failed to save the style")
		c.String(http.StatusInternalServerError, "failed to save the style")
		return
	}

	common.Flash(c, "info", "style saved")
	c.Redirect(http.StatusFound, "/blog/@"+user.Username+"/~style")
}
