package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"galleria/internal/handlers"
	"galleria/internal/logging"
	"galleria/internal/security"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth_gin"
	"github.com/gin-gonic/gin"
)

const APIKeyHeader = "X-API-Key"

type Options struct {
	Logger *slog.Logger
	Signer *security.Signer

	// APIKey guards the /api routes. Empty rejects every API call with 500.
	APIKey string

	// MediaRoot enables the local /media route. Leave empty when a proxy
	// serves media in front of the object store.
	MediaRoot string

	// SignRate is the per-client requests/second allowed on the sign endpoint.
	SignRate float64

	Pictures *handlers.PictureHandler

	ShutdownGracePeriod time.Duration
}

type Server struct {
	engine *gin.Engine
	logger *slog.Logger
	grace  time.Duration
}

func New(opts Options) (*Server, error) {
	if opts.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SignRate <= 0 {
		opts.SignRate = 20
	}
	if opts.ShutdownGracePeriod <= 0 {
		opts.ShutdownGracePeriod = 10 * time.Second
	}

	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(opts.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api", RequireAPIKey(opts.APIKey))

	limiter := tollbooth.NewLimiter(opts.SignRate, nil)
	sign := handlers.NewSignHandler(opts.Signer)
	api.GET("/sign/*resource", tollbooth_gin.LimitHandler(limiter), sign.Generate)

	if opts.Pictures != nil {
		api.POST("/albums/:album/pictures", opts.Pictures.Create)
		api.GET("/albums/:album/pictures", opts.Pictures.List)
		api.GET("/pictures/:id", opts.Pictures.Get)
		api.DELETE("/pictures/:id", opts.Pictures.Delete)
		api.POST("/pictures/:id/restore", opts.Pictures.Restore)
		api.GET("/pictures/:id/signed_url", opts.Pictures.SignedURL)
		api.POST("/albums/:album/archives", opts.Pictures.ImportArchive)
	}

	if opts.MediaRoot != "" {
		media := handlers.NewMediaHandler(opts.MediaRoot)
		r.GET(opts.Signer.BasePath+"/*path", RequireSignedURL(opts.Signer), media.Serve)
	}

	return &Server{engine: r, logger: opts.Logger, grace: opts.ShutdownGracePeriod}, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains in-flight requests for up
// to the grace period.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 3 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("graceful server shutdown failed", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			s.logger.Error("error closing server", "error", closeErr)
		}
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// RequireAPIKey checks the X-API-Key header against key.
func RequireAPIKey(key string) gin.HandlerFunc {
	expected := []byte(key)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "api key not configured"})
			return
		}
		got := strings.TrimSpace(c.GetHeader(APIKeyHeader))
		if got == "" || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// RequireSignedURL only lets through requests carrying a valid, unexpired
// st/e pair for the requested path. Every failure is a bare 403.
func RequireSignedURL(signer *security.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		sig := c.Query(security.ParamSignature)
		expiresAt, ok := security.ParseExpires(c.Query(security.ParamExpires))
		if sig == "" || !ok || !signer.VerifyPath(c.Request.URL.EscapedPath(), expiresAt, sig) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
