// Package api provides the HTTP API consumed by the web dashboard:
// segment and rule authoring, event ingestion, match previews, membership
// reads, and execution history.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cultivar-crm/cultivar/internal/filter"
	"github.com/cultivar-crm/cultivar/internal/segment"
	"github.com/cultivar-crm/cultivar/internal/store"
	"github.com/cultivar-crm/cultivar/internal/trigger"
	"github.com/cultivar-crm/cultivar/internal/types"
)

// Pinger reports backing-store health. *sqlx.DB satisfies it.
type Pinger interface {
	Ping() error
}

// Service is a thin orchestration layer over the engines and the store.
type Service struct {
	store    store.Store
	source   types.SnapshotSource
	segments *segment.Engine
	triggers *trigger.Engine
	compiler *filter.Compiler
	pinger   Pinger
	logger   *slog.Logger
}

// Config assembles a Service.
type Config struct {
	Store    store.Store
	Source   types.SnapshotSource
	Segments *segment.Engine
	Triggers *trigger.Engine

	// Pinger backs the health endpoint. Nil reports healthy unconditionally.
	Pinger Pinger

	Logger *slog.Logger
}

// NewService creates the API service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if cfg.Segments == nil {
		return nil, fmt.Errorf("segment engine cannot be nil")
	}
	if cfg.Triggers == nil {
		return nil, fmt.Errorf("trigger engine cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    cfg.Store,
		source:   cfg.Source,
		segments: cfg.Segments,
		triggers: cfg.Triggers,
		compiler: filter.NewCompiler(filter.DonorSchema(), logger),
		pinger:   cfg.Pinger,
		logger:   logger,
	}, nil
}

// Router builds the chi router. authn wraps the /v1 API routes; pass nil to
// serve unauthenticated (tests, local development).
func (s *Service) Router(authn func(http.Handler) http.Handler, requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		if authn != nil {
			r.Use(authn)
		}

		r.Route("/segments", func(r chi.Router) {
			r.Get("/", s.handleListSegments)
			r.Post("/", s.handleCreateSegment)
			r.Post("/preview", s.handlePreviewSegment)

			r.Route("/{segmentID}", func(r chi.Router) {
				r.Get("/", s.handleGetSegment)
				r.Put("/", s.handleUpdateSegment)
				r.Post("/state", s.handleSegmentState)
				r.Post("/recompute", s.handleRecomputeSegment)
				r.Get("/members", s.handleListMembers)
				r.Post("/members/{donorID}", s.handleAddMember)
				r.Delete("/members/{donorID}", s.handleRemoveMember)
			})
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)

			r.Route("/{ruleID}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Put("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)
			})
		})

		r.Post("/events", s.handleSubmitEvent)
		r.Get("/executions", s.handleListExecutions)
	})

	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
