package blog

import (
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"persona/models"
)

const sitemapTime = "2006-01-02T15:04:05+00:00"

// blogURL reconstructs the absolute URL of a user's blog from the request.
func blogURL(c *gin.Context, username string) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + c.Request.Host + "/blog/@" + username
}

func (b *BlogModule) robots(c *gin.Context, owner string) {
	if _, err := GetBlog(b.db, owner); err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	c.String(http.StatusOK, "User-agent: *\nAllow: *\nSitemap: %s/sitemap.xml\n",
		blogURL(c, owner))
}

func (b *BlogModule) themeFile(c *gin.Context, owner string) {
	blog, err := GetBlog(b.db, owner)
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	base := blogURL(c, owner)
	theme := blog.Style +
		"\n\n/* see " + base + "/post.css and " + base + "/blog.css for individual files */\n"

	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(theme))
}

func (b *BlogModule) blogCSS(c *gin.Context, owner string) {
	blog, err := GetBlog(b.db, owner)
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	c.Data(http.StatusOK, "text/css; charset=utf-8", []byte(blog.BlogCSS()))
}

func (b *BlogModule) postCSS(c *gin.Context, owner string) {
	blog, err := GetBlog(b.db, owner)
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	c.Data(http.StatusOK, "text/css; charset=utf-8",
		[]byte(strings.Replace(blog.Style, models.StyleDelim, "", 1)))
}

type sitemapURL struct {
	Loc      string `xml:"loc"`
	LastMod  string `xml:"lastmod"`
	Priority string `xml:"priority"`
}

type sitemapSet struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

func (b *BlogModule) sitemap(c *gin.Context, owner string) {
	posts, err := ListPosts(b.db, owner)
	if err != nil || len(posts) == 0 {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	base := blogURL(c, owner)
	latest := posts[0].Edited.UTC().Format(sitemapTime)

	set := sitemapSet{Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9"}

	for _, file := range []string{"robots.txt", "manifest.json", "rss.xml"} {
		set.URLs = append(set.URLs, sitemapURL{
			Loc:      base + "/" + file,
			LastMod:  latest,
			Priority: "1.0",
		})
	}

	for _, post := range posts {
		set.URLs = append(set.URLs, sitemapURL{
			Loc:      base + "/" + post.Slug,
			LastMod:  post.Edited.UTC().Format(sitemapTime),
			Priority: "1.0",
		})
	}

	c.XML(http.StatusOK, set)
}

func (b *BlogModule) manifest(c *gin.Context, owner string) {
	blog, err := GetBlog(b.db, owner)
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"$schema":          "https://json.schemastore.org/web-manifest-combined.json",
		"short_name":       blog.Header,
		"name":             blog.Title,
		"description":      blog.Description,
		"start_url":        ".",
		"display":          "standalone",
		"theme_color":      blog.Primary,
		"background_color": blog.Secondary,
		"icons": []gin.H{
			{"src": "/favicon.ico", "sizes": "128x128", "type": "image/x-icon"},
		},
	})
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	Generator     string    `xml:"generator"`
	Language      string    `xml:"language"`
	LastBuildDate string    `xml:"lastBuildDate,omitempty"`
	Items         []rssItem `xml:"item"`
}

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

func (b *BlogModule) rss(c *gin.Context, owner string) {
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

	base := blogURL(c, owner)

	feed := rssFeed{
		Version: "2.0",
		Channel: rssChannel{
			Title:       blog.Title,
			Link:        base,
			Description: blog.Description,
			Generator:   "persona user accounts and services",
			Language:    strings.ReplaceAll(strings.ToLower(blog.Locale), "_", "-"),
		},
	}

	if len(posts) > 0 {
		feed.Channel.LastBuildDate = posts[0].Edited.UTC().Format(http.TimeFormat)
	}

	for _, post := range posts {
		link := base + "/" + post.Slug

		feed.Channel.Items = append(feed.Channel.Items, rssItem{
			Title:       post.Title,
			Link:        link,
			Description: post.Description + " [last edited at " + post.Edited.UTC().Format(http.TimeFormat) + "]",
			PubDate:     post.Posted.UTC().Format(http.TimeFormat),
			GUID:        link,
		})
	}

	c.XML(http.StatusOK, feed)
}
