// Package api serves the read-only REST interface and the event stream.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/zulandar/buildyard/internal/buildrequests"
	"github.com/zulandar/buildyard/internal/buildsets"
	"github.com/zulandar/buildyard/internal/mq"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB   *gorm.DB
	Bus  *mq.Bus
	Port int
	Out  io.Writer
}

// Start launches the API HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("api: db is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8010
	}

	router := NewRouter(opts.DB, opts.Bus)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// NewRouter builds the Gin router with all API routes registered. Exposed
// separately so tests can drive it with httptest.
func NewRouter(gdb *gorm.DB, bus *mq.Bus) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	registerRoutes(router, &handlers{
		buildsets:     buildsets.New(gdb, bus),
		buildrequests: buildrequests.New(gdb, bus),
		db:            gdb,
		bus:           bus,
	})
	return router
}
