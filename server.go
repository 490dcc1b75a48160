package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"boolpress/admin"
	"boolpress/blog"
	"boolpress/cache"
	"boolpress/common"
	"boolpress/database"
	"boolpress/email"
	"boolpress/files"
	"boolpress/posts"
	"boolpress/slug"
	"boolpress/users"
)

const shutdownTimeout = 10 * time.Second

type server struct {
	httpServer *http.Server
	db         *gorm.DB
}

func newServer(ctx context.Context, cfg *common.Config) (*server, error) {
	if cfg.Server.SessionSecret == "" {
		return nil, errors.New("server.session_secret is not set (BOOLPRESS_SERVER_SESSION_SECRET)")
	}

	db, err := common.ConnectDb(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	fileStore, err := files.New(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	router := newRouter(cfg, db, fileStore)

	return &server{
		db: db,
		httpServer: &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

// newRouter wires the services and the gin modules.
func newRouter(cfg *common.Config, db *gorm.DB, fileStore files.Store) *gin.Engine {
	store := database.NewStore(db)
	mailer := email.NewEmailService(cfg.SMTP, cfg.Server.Domain)

	postService := posts.NewService(store, fileStore, mailer, slug.New(cfg.Slug.MaxAttempts))
	userService := users.NewService(store)

	var pages *cache.PageCache
	if cfg.Cache.MaxAge > 0 {
		pages = cache.New(cfg.Cache.Dir, cfg.Cache.MaxAge)
		postService.UsePageCache(pages)
	}

	router := gin.New()
	router.Use(gin.Recovery(), common.RequestLogger())

	sessionStore := cookie.NewStore([]byte(cfg.Server.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   false,
	})
	router.Use(sessions.Sessions("boolpress-session", sessionStore))

	router.LoadHTMLGlob("*/views/*.html")

	if local, ok := fileStore.(*files.LocalStore); ok {
		router.Static(cfg.Storage.BaseURL, local.Dir())
	}

	admin.NewAdminModule(postService, userService).RegisterRoutes(router)
	blog.NewBlogModule(postService, pages).RegisterRoutes(router)

	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/blog")
	})

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("starting server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
	return nil
}
