package cache

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Middleware serves and fills the cache for a route whose :slug parameter
// names a post. Only successful HTML responses to GET are stored.
func (p *PageCache) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		postSlug := c.Param("slug")
		if c.Request.Method != http.MethodGet || postSlug == "" || p.maxAge <= 0 {
			c.Next()
			return
		}

		if cached, found := p.Read(postSlug); found {
			c.Header("X-Cache", "HIT")
			c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(cached))
			c.Abort()
			return
		}

		c.Header("X-Cache", "MISS")

		writer := &responseWriter{
			ResponseWriter: c.Writer,
			body:           bytes.NewBuffer(nil),
		}
		c.Writer = writer

		c.Next()

		if writer.Status() == http.StatusOK &&
			strings.HasPrefix(writer.Header().Get("Content-Type"), "text/html") {
			if err := p.Write(postSlug, writer.body.String()); err != nil {
				log.Warn().Err(err).Str("slug", postSlug).Msg("could not cache page")
			}
		}
	}
}
