/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Access log: zap, one line per request, with request_id
  4. Metrics:    Request duration histogram per route pattern
  5. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/users/*    Households
  /api/stays/*    Stay recording and costs
  /api/meters/*   Meter history and fill series
  /api/fills      Fuel fills
  /api/segments   Ad-hoc range pricing
  /api/prices/*   Price tables
  /api/years/*    Summaries and closings
  /api/scenarios  Demo data
  /metrics        Prometheus
  /healthz        Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warp/fuel-ledger/logging"
	"github.com/warp/fuel-ledger/metrics"
)

// Pinger reports storage health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Health         Pinger // optional
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(h.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			if err := opts.Health.Ping(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
		})

		r.Route("/stays", func(r chi.Router) {
			r.Get("/", h.ListStays)
			r.Post("/", h.SubmitStay)
			r.Get("/{id}", h.GetStay)
			r.Put("/{id}", h.UpdateStay)
			r.Get("/{id}/cost", h.GetStayCost)
			r.Get("/{id}/overlaps", h.GetStayOverlaps)
		})

		r.Route("/meters", func(r chi.Router) {
			r.Get("/", h.ListMeters)
			r.Get("/at", h.MeterAt)
			r.Post("/", h.InstallMeter)
			r.Post("/replace", h.ReplaceMeter)
			r.Delete("/{id}", h.DeleteMeter)
			r.Get("/{id}/fills", h.ListFills)
		})

		r.Post("/fills", h.AddFill)
		r.Post("/segments", h.ResolveSegments)

		r.Route("/prices", func(r chi.Router) {
			r.Get("/{year}", h.GetPriceTable)
			r.Put("/{year}", h.SetLodgingRates)
		})

		r.Route("/years", func(r chi.Router) {
			r.Get("/", h.ListClosings)
			r.Get("/{year}/summary", h.GetYearSummary)
			r.Post("/{year}/close", h.CloseYear)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// accessLog logs each request and records its duration per route pattern.
func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			metrics.RequestDurationSeconds.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())

			logging.WithRequestID(logger, middleware.GetReqID(r.Context())).Info("request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("duration", elapsed))
		})
	}
}
