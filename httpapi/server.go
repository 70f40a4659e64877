// Package httpapi exposes the plan, task and notification operations over
// HTTP. Handlers translate between the JSON surface and the service layer;
// all domain decisions live in the services.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lebenslotse/lifeplan/config"
	"github.com/lebenslotse/lifeplan/notify"
	"github.com/lebenslotse/lifeplan/storage"
)

// PlanAPI is the plan lifecycle surface the handlers call.
type PlanAPI interface {
	Create(ctx context.Context, templateKey string, facts map[string]any) (*storage.Plan, error)
	Get(ctx context.Context, planID uuid.UUID) (*storage.Plan, error)
	UpdateFacts(ctx context.Context, planID uuid.UUID, patch map[string]any, recompute bool) (*storage.Plan, error)
	Recompute(ctx context.Context, planID uuid.UUID) (*storage.Plan, error)
}

// TaskAPI is the task surface the handlers call.
type TaskAPI interface {
	List(ctx context.Context, planID uuid.UUID, status string) ([]storage.Task, error)
	UpdateStatus(ctx context.Context, planID, taskID uuid.UUID, newStatus string, force bool) (*storage.Task, error)
}

// ProfileAPI is the notification surface the handlers call.
type ProfileAPI interface {
	Upsert(ctx context.Context, planID uuid.UUID, settings notify.ProfileSettings) (*storage.NotificationProfile, error)
	UnsubscribeByToken(ctx context.Context, token string) error
}

// Server wires the HTTP surface to the service layer.
type Server struct {
	plans    PlanAPI
	tasks    TaskAPI
	profiles ProfileAPI
	validate *validator.Validate
	logger   *slog.Logger
}

// NewServer creates the API server.
func NewServer(plans PlanAPI, tasks TaskAPI, profiles ProfileAPI, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		plans:    plans,
		tasks:    tasks,
		profiles: profiles,
		validate: validator.New(),
		logger:   logger,
	}
}

// Router builds the chi router with CORS, health, metrics and the API routes.
func (s *Server) Router(cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/plans", func(r chi.Router) {
		r.Post("/", s.handleCreatePlan)
		r.Route("/{planID}", func(r chi.Router) {
			r.Get("/", s.handleGetPlan)
			r.Patch("/facts", s.handleUpdateFacts)
			r.Post("/recompute", s.handleRecompute)
			r.Get("/tasks", s.handleListTasks)
			r.Patch("/tasks/{taskID}", s.handleUpdateTask)
			r.Put("/notification-profile", s.handleUpsertProfile)
		})
	})

	r.Get("/notifications/unsubscribe", s.handleUnsubscribe)

	return r
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
