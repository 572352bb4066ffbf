// Package dashboard serves the admin HTTP API: registered bots, their
// resources, live fleet status and Prometheus metrics.
package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/zulandar/botyard/internal/fleet"
	"gorm.io/gorm"
)

// StatusSource reports the live state of every bot loop.
type StatusSource interface {
	Status() []fleet.Status
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	DB     *gorm.DB
	Fleet  StatusSource
	Port   int
	Logger zerolog.Logger
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return errors.New("dashboard: db is required")
	}
	if opts.Fleet == nil {
		return errors.New("dashboard: fleet is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           newRouter(opts.DB, opts.Fleet, opts.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	opts.Logger.Info().Int("port", opts.Port).Msg("dashboard: listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "dashboard")
	}
	return nil
}

func newRouter(db *gorm.DB, fl StatusSource, log zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, db, fl, log)
	return router
}
