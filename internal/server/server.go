// Package server is the thin HTTP layer: REST endpoints, the enrichment SSE
// stream, CSV and bundle transfer. All domain decisions live in the packages
// it wires together.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/harvestlab/ytharvest/internal/discovery"
	"github.com/harvestlab/ytharvest/internal/enrich"
	"github.com/harvestlab/ytharvest/internal/store"
	"github.com/harvestlab/ytharvest/internal/youtube"
)

// Resolver turns a pasted channel reference (bare ID, channel URL, handle,
// vanity URL) into the channel's canonical identity.
type Resolver interface {
	Resolve(ctx context.Context, reference string) (youtube.Resolution, error)
}

// Server holds the wired collaborators behind the HTTP surface.
type Server struct {
	store      *store.Store
	manager    *enrich.Manager
	discovery  *discovery.Controller
	resolver   Resolver
	maxCSVRows int
}

type Option func(*Server)

// WithMaxCSVRows caps how many rows one CSV export emits.
func WithMaxCSVRows(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxCSVRows = n
		}
	}
}

func New(st *store.Store, manager *enrich.Manager, disc *discovery.Controller, resolver Resolver, opts ...Option) *Server {
	s := &Server{
		store:      st,
		manager:    manager,
		discovery:  disc,
		resolver:   resolver,
		maxCSVRows: 10000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with the full /api surface.
func (s *Server) Router(requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/discover", s.handleDiscover)
		r.Post("/discover/stop", s.handleDiscoverStop)

		r.Post("/enrich", s.handleEnrich)
		r.Get("/enrich/stream/{jobID}", s.handleEnrichStream)

		r.Get("/channels", s.handleChannels)
		r.Post("/channels", s.handleAddChannels)
		r.Post("/channels/{id}/archive", s.handleChannelAction(actionArchive))
		r.Post("/channels/{id}/blacklist", s.handleChannelAction(actionBlacklist))
		r.Post("/channels/{id}/restore", s.handleChannelAction(actionRestore))
		r.Post("/channels/archive", s.handleBulkAction(actionArchive))
		r.Post("/channels/blacklist", s.handleBulkAction(actionBlacklist))
		r.Post("/channels/restore", s.handleBulkAction(actionRestore))

		r.Get("/export/csv", s.handleExportCSV)
		r.Get("/export/bundle", s.handleExportBundle)
		r.Post("/import/bundle", s.handleImportBundle)

		r.Get("/stats", s.handleStats)
	})

	if requestTimeout > 0 {
		// The SSE stream manages its own lifetime.
		return timeoutExceptStream(r, requestTimeout)
	}
	return r
}

func timeoutExceptStream(next http.Handler, d time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && len(r.URL.Path) >= len("/api/enrich/stream/") &&
			r.URL.Path[:len("/api/enrich/stream/")] == "/api/enrich/stream/" {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	totals, err := s.store.Stats(r.Context())
	if err != nil {
		s.internalError(w, "stats", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"channels":  totals,
		"byStatus":  totals.ByStatus,
		"jobs":      s.manager.Summaries(),
		"discovery": s.discovery.State().Snapshot(),
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("server: write response", slog.Any("error", err))
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func notFound(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusNotFound, map[string]string{"error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	slog.Error("server: "+op, slog.Any("error", err))
	respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}
