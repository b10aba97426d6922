package blog

import (
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"persona/auth"
	"persona/common"
	"persona/models"
)

// Previews are rendered against standalone templates so a staged draft
// never depends on the request that later retrieves it.
var (
	previewBlogTmpl = template.Must(template.New("preview_blog").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8" />
<title>{{.blog.Title}}</title>
<style>{{.style}}</style>
</head>
<body>
<header><h1>{{.blog.Header}}</h1></header>
<main>{{.descriptionHTML}}
<ul>{{range .posts}}<li>{{.Title}}</li>{{end}}</ul>
</main>
</body>
</html>
`))

	previewPostTmpl = template.Must(template.New("preview_post").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8" />
<title>{{.post.Title}} | {{.blog.Title}}</title>
<style>{{.style}}</style>
</head>
<body>
<header><h1>{{.post.Title}}</h1></header>
<main>{{.contentHTML}}</main>
</body>
</html>
`))
)

func blogPage(blog *models.Blog, posts []models.BlogPost, style string) gin.H {
	return gin.H{
		"blog":            blog,
		"posts":           posts,
		"style":           template.CSS(style),
		"descriptionHTML": template.HTML(renderMarkdown(blog.Description)),
	}
}

func postPage(blog *models.Blog, post *models.BlogPost, style string) gin.H {
	return gin.H{
		"blog":        blog,
		"post":        post,
		"style":       template.CSS(style),
		"contentHTML": template.HTML(renderMarkdown(post.Content)),
	}
}

func renderPreview(tmpl *template.Template, data gin.H) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// servePreview returns the staged render for the session user's ctx slot.
func (b *BlogModule) servePreview(c *gin.Context) {
	user := auth.CurrentUser(c)

	ctx, ok := c.GetQuery("ctx")
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	html, ok := b.previews.GetPreview(c.Request.Context(), user.Username, ctx)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	common.APIHeaders(c, false)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

// newPostPreview stages a render of the submitted draft under the "post"
// slot without persisting anything.
func (b *BlogModule) newPostPreview(c *gin.Context) {
	user, blog, ok := b.ownBlog(c)
	if !ok {
		return
	}

	draft := &models.BlogPost{
		Title:    c.PostForm("title"),
		Content:  c.PostForm("content"),
		Username: user.Username,
		Posted:   time.Now().UTC(),
	}

	html, err := renderPreview(previewPostTmpl, postPage(blog, draft, blog.Style))
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to render the preview")
		return
	}

	if err := b.previews.PutPreview(c.Request.Context(), user.Username, "post", html); err != nil {
		c.String(http.StatusInternalServerError, "failed to stage the preview")
		return
	}

	common.APIHeaders(c, false)
	c.JSON(http.StatusOK, []string{"post"})
}

// editPostPreview previews an edit exactly like a new draft, the slug only
// routes the request.
func (b *BlogModule) editPostPreview(c *gin.Context) {
	b.newPostPreview(c)
}

// stylePreview stages both the blog and a sample post rendered against the
// submitted style blob.
func (b *BlogModule) stylePreview(c *gin.Context) {
	user, blog, ok := b.ownBlog(c)
	if !ok {
		return
	}

	style := c.PostForm("style")

	posts, err := ListPosts(b.db, user.Username)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load posts")
		return
	}

	blogCSS, _, _ := strings.Cut(style, models.StyleDelim)

	blogHTML, err := renderPreview(previewBlogTmpl, blogPage(blog, posts, blogCSS))
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to render the preview")
		return
	}

	sample := &models.BlogPost{
		Title:    "title",
		Content:  "minimal post content !\n\nhow are `you` ?",
		Username: user.Username,
		Posted:   time.Now().UTC(),
	}

	postHTML, err := renderPreview(previewPostTmpl,
		postPage(blog, sample, strings.Replace(style, models.StyleDelim, "", 1)))
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to render the preview")
		return
	}

	reqCtx := c.Request.Context()
	if err := b.previews.PutPreview(reqCtx, user.Username, "blog", blogHTML); err != nil {
		c.String(http.StatusInternalServerError, "failed to stage the preview")
		return
	}
	if err := b.previews.PutPreview(reqCtx, user.Username, "post", postHTML); err != nil {
		c.String(http.StatusInternalServerError, "failed to stage the preview")
		return
	}

	common.APIHeaders(c, false)
	c.JSON(http.StatusOK, []string{"blog", "post"})
}
