package blog

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"boolpress/cache"
	"boolpress/errs"
	"boolpress/posts"
)

type BlogModule struct {
	posts *posts.Service
	pages *cache.PageCache
}

// markdown renderer configured with Goldmark and useful extensions.
// Raw HTML in post content is not passed through.
var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,     // tables, strikethrough, task lists, autolinks (GFM set)
		extension.Linkify, // linkify raw URLs
	),
)

// NewBlogModule builds the public pages. pages may be nil to disable caching.
func NewBlogModule(postService *posts.Service, pages *cache.PageCache) *BlogModule {
	return &BlogModule{posts: postService, pages: pages}
}

func (b *BlogModule) RegisterRoutes(router *gin.Engine) {
	blogGroup := router.Group("/blog")
	{
		blogGroup.GET("", b.index)
		if b.pages != nil {
			blogGroup.GET("/:slug", b.pages.Middleware(), b.post)
		} else {
			blogGroup.GET("/:slug", b.post)
		}
	}
}

func (b *BlogModule) index(c *gin.Context) {
	list, err := b.posts.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("list posts")
		c.HTML(http.StatusInternalServerError, "blog_error.html", gin.H{
			"error": "Could not load posts",
		})
		return
	}

	c.HTML(http.StatusOK, "blog_index.html", gin.H{
		"posts": list,
	})
}

func (b *BlogModule) post(c *gin.Context) {
	post, err := b.posts.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		status := errs.Status(err)
		if status == http.StatusNotFound {
			c.HTML(status, "blog_error.html", gin.H{"error": "Post not found"})
			return
		}
		log.Error().Err(err).Str("slug", c.Param("slug")).Msg("load post")
		c.HTML(status, "blog_error.html", gin.H{"error": "Could not load post"})
		return
	}

	c.HTML(http.StatusOK, "blog_post.html", gin.H{
		"post":        post,
		"contentHTML": RenderMarkdown(post.Content),
		"coverURL":    b.posts.CoverURL(post),
	})
}

// RenderMarkdown converts post content to HTML. On a conversion error the
// content is returned escaped.
func RenderMarkdown(content string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(content))
	}
	return template.HTML(buf.String())
}
