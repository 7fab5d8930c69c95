// Package server is the admin HTTP API: health, live queries, the catalog
// and prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiresql/internal/catalog"
	"github.com/tarungka/wiresql/internal/query"
)

// Server serves the admin API.
type Server struct {
	addr     string
	ctx      context.Context
	registry *query.Registry
	catalog  *catalog.Catalog
}

// New builds a server listening on addr. Queries started over HTTP run
// until ctx is done.
func New(ctx context.Context, addr string, registry *query.Registry, cat *catalog.Catalog) *Server {
	return &Server{addr: addr, ctx: ctx, registry: registry, catalog: cat}
}

// Router returns the handler of every route.
func (s *Server) Router() chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Heartbeat("/health"))
	router.Use(middleware.CleanPath)

	router.Handle("/metrics", promhttp.Handler())
	router.Mount("/queries", s.QueryRouter())
	router.Mount("/catalog", s.CatalogRouter())
	return router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Msgf("Running the web server on %s", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
