package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/odonata-labs/ledgerflow/internal/config"
	"github.com/odonata-labs/ledgerflow/internal/engine"
	"github.com/odonata-labs/ledgerflow/internal/graph"
	"github.com/odonata-labs/ledgerflow/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport
// layer.
type Dependencies struct {
	Config          *config.Config
	Logger          *zap.Logger
	Metrics         *observability.Metrics
	MetricsRegistry *prometheus.Registry
	Graphs          *graph.Service
	Engine          *engine.Engine
	Authenticate    func(http.Handler) http.Handler
	Ready           observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and
// all route registrations. Health, readiness, and metrics endpoints
// bypass the authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware, applied to all routes including health.
	r.Use(Recovery(deps.Logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)

	// Public routes, no authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Ready))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path,
			promhttp.HandlerFor(deps.MetricsRegistry, promhttp.HandlerOpts{}))
	}

	// Authenticated routes, full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))
		r.Use(MetricsRecording(deps.Metrics))

		r.Route("/roles", func(r chi.Router) {
			r.Post("/", handleRoleCreate(deps.Graphs))
			r.Get("/", handleRoleList(deps.Graphs))
			r.Get("/{roleId}", handleRoleGet(deps.Graphs))
		})

		r.Route("/event-types", func(r chi.Router) {
			r.Post("/", handleEventTypeCreate(deps.Graphs))
			r.Get("/", handleEventTypeList(deps.Graphs))
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", handleWorkflowCreate(deps.Graphs))
			r.Get("/", handleWorkflowList(deps.Graphs))

			r.Route("/{workflowId}", func(r chi.Router) {
				r.Get("/", handleWorkflowGet(deps.Graphs))
				r.Delete("/", handleWorkflowDelete(deps.Graphs))

				r.Post("/states", handleStateAdd(deps.Graphs))
				r.Delete("/states/{stateId}", handleStateRemove(deps.Graphs))
				r.Post("/transitions", handleTransitionAdd(deps.Graphs))
				r.Delete("/transitions/{transitionId}", handleTransitionRemove(deps.Graphs))
				r.Post("/events", handleEventAdd(deps.Graphs))
				r.Delete("/events/{eventId}", handleEventRemove(deps.Graphs))

				r.Post("/activate", handleWorkflowActivate(deps.Graphs))
				r.Post("/retire", handleWorkflowRetire(deps.Graphs))
				r.Post("/clone", handleWorkflowClone(deps.Graphs))
				r.Get("/graph", handleWorkflowGraph(deps.Graphs))
			})
		})

		r.Route("/activities", func(r chi.Router) {
			r.Post("/", handleActivityCreate(deps.Engine))
			r.Get("/", handleActivityList(deps.Engine))

			r.Route("/{activityId}", func(r chi.Router) {
				r.Get("/", handleActivityGet(deps.Engine))
				r.Get("/state", handleActivityState(deps.Engine))
				r.Get("/transitions", handleActivityTransitions(deps.Engine))
				r.Get("/history", handleActivityHistory(deps.Engine))

				r.Post("/fire", handleActivityFire(deps.Engine))
				r.Post("/events", handleActivityLogEvent(deps.Engine))
				r.Post("/stop", handleActivityStop(deps.Engine))

				r.Post("/participants", handleParticipantGrant(deps.Engine))
				r.Get("/participants", handleParticipantList(deps.Engine))
				r.Delete("/participants", handleParticipantRevoke(deps.Engine))
			})
		})
	})

	return r
}
