// Package cache keeps rendered public post pages on disk.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"boolpress/slug"
)

// PageCache stores one HTML file per post slug under dir. Entries older than
// maxAge are ignored.
type PageCache struct {
	dir    string
	maxAge time.Duration
}

func New(dir string, maxAge time.Duration) *PageCache {
	return &PageCache{dir: dir, maxAge: maxAge}
}

// path returns the cache file of postSlug. The readable part of the name is
// normalized so request input never reaches the filesystem as is.
func (p *PageCache) path(postSlug string) string {
	hash := fmt.Sprintf("%016x", xxhash.Sum64String(postSlug))
	name := slug.Make(postSlug)
	if name == "" {
		name = "page"
	}
	return filepath.Join(p.dir, fmt.Sprintf("%s_%s.html", name, hash))
}

// Read returns the cached page of postSlug if it exists and is not expired.
func (p *PageCache) Read(postSlug string) (string, bool) {
	cachePath := p.path(postSlug)

	info, err := os.Stat(cachePath)
	if err != nil {
		return "", false
	}
	if time.Since(info.ModTime()) > p.maxAge {
		return "", false
	}

	content, err := os.ReadFile(cachePath)
	if err != nil {
		return "", false
	}
	return string(content), true
}

func (p *PageCache) Write(postSlug, html string) error {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(p.path(postSlug), []byte(html), 0644)
}

// Invalidate removes the cached pages of the given slugs.
func (p *PageCache) Invalidate(slugs ...string) error {
	for _, s := range slugs {
		if s == "" {
			continue
		}
		if err := os.Remove(p.path(s)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Purge removes cached pages older than maxAge; zero removes every page.
// It returns the number of files removed.
func (p *PageCache) Purge(maxAge time.Duration) (int, error) {
	removed := 0
	err := filepath.Walk(p.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".html") {
			return nil
		}
		if time.Since(info.ModTime()) >= maxAge {
			if err := os.Remove(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("could not remove cached page")
				return nil
			}
			removed++
		}
		return nil
	})
	return removed, err
}
