package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/alluxio-auth/internal/logger"
	"github.com/marmos91/alluxio-auth/pkg/auth/login"
)

// NewRouter builds the admin routes:
//
//	GET /metrics        Prometheus exposition
//	GET /healthz        liveness
//	GET /healthz/ready  ready once the process identity is logged in
//	GET /rules          installed auth_to_local rules
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	h := &handlers{deps: deps, started: time.Now()}
	r.Route("/healthz", func(r chi.Router) {
		r.Get("/", h.liveness)
		r.Get("/ready", h.readiness)
	})
	r.Get("/rules", h.rules)

	return r
}

// Response is the JSON body of every non-metrics endpoint.
type Response struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

type handlers struct {
	deps    Deps
	started time.Time
}

func (h *handlers) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, "healthy", map[string]any{
		"service":    "alluxio-auth",
		"uptime_sec": int64(time.Since(h.started).Seconds()),
	}, "")
}

func (h *handlers) readiness(w http.ResponseWriter, _ *http.Request) {
	s := h.deps.Session
	if s == nil {
		writeJSON(w, http.StatusServiceUnavailable, "unhealthy", nil, "no login session")
		return
	}
	state := s.State()
	if state != login.StateLoggedIn {
		writeJSON(w, http.StatusServiceUnavailable, "unhealthy", map[string]string{
			"state": state.String(),
		}, "not logged in")
		return
	}
	writeJSON(w, http.StatusOK, "healthy", map[string]string{
		"state": state.String(),
		"mode":  s.Mode().String(),
	}, "")
}

func (h *handlers) rules(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Mapper == nil {
		writeJSON(w, http.StatusNotFound, "error", nil, "no mapper configured")
		return
	}
	text, installed := h.deps.Mapper.RuleText()
	writeJSON(w, http.StatusOK, "ok", map[string]any{
		"installed":     installed,
		"rules":         text,
		"default_realm": h.deps.Mapper.DefaultRealm(),
	}, "")
}

func writeJSON(w http.ResponseWriter, code int, status string, data any, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
		Error:     errMsg,
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Debug("Admin request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			logger.DurationMs(start))
	})
}
