package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tarungka/wiresql/internal/catalog"
	"github.com/tarungka/wiresql/internal/query"
	"github.com/tarungka/wiresql/stream"
)

func (s *Server) QueryRouter() chi.Router {
	router := chi.NewRouter()

	router.Get("/", s.listQueries())
	router.Post("/", s.startQuery())
	router.Get("/{id}", s.getQuery())
	router.Delete("/{id}", s.terminateQuery())

	return router
}

func (s *Server) CatalogRouter() chi.Router {
	router := chi.NewRouter()

	router.Get("/", s.listCatalog())
	router.Get("/{name}", s.getCatalogEntry())

	return router
}

func (s *Server) listQueries() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SendResponse(w, s.registry.List())
	}
}

func (s *Server) startQuery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg query.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			SendError(w, err, http.StatusBadRequest)
			return
		}
		q, err := s.registry.Start(s.ctx, cfg)
		if err != nil {
			SendError(w, err, startStatus(err))
			return
		}
		SendResponseWithStatus(w, true, StartedQueryModel{ID: q.ID(), Plan: q.Plan().Describe()}, "", http.StatusCreated)
	}
}

func startStatus(err error) int {
	var planErr *stream.PlanError
	switch {
	case errors.Is(err, query.ErrDuplicateQuery):
		return http.StatusConflict
	case errors.Is(err, query.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, query.ErrInvalidQuery), errors.As(err, &planErr):
		return http.StatusBadRequest
	}
	// anything else came from the broker or the table store
	return http.StatusInternalServerError
}

func (s *Server) getQuery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := s.registry.Get(chi.URLParam(r, "id"))
		if err != nil {
			SendError(w, err, http.StatusNotFound)
			return
		}
		SendResponse(w, q.Info())
	}
}

func (s *Server) terminateQuery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.registry.Terminate(id); err != nil {
			SendError(w, err, http.StatusNotFound)
			return
		}
		SendResponse(w, map[string]string{"terminated": id})
	}
}

func (s *Server) listCatalog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources := s.catalog.List()
		out := make([]catalog.Description, len(sources))
		for i, src := range sources {
			out[i] = src.Describe()
		}
		SendResponse(w, out)
	}
}

func (s *Server) getCatalogEntry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src, err := s.catalog.Lookup(chi.URLParam(r, "name"))
		if err != nil {
			SendError(w, err, http.StatusNotFound)
			return
		}
		SendResponse(w, src.Describe())
	}
}
