// Package server is the browser dashboard: an HTML page plus the JSON API
// its script calls for tab switches, submits and table rows.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/spektr-org/insight/insight"
	"github.com/spektr-org/insight/schema"
	"github.com/spektr-org/insight/session"
)

// DefaultAddr binds every interface on the dashboard port.
const DefaultAddr = "0.0.0.0:8050"

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/dashboard.html"))

// Asker answers insight panel submits.
type Asker interface {
	HandleQuery(ctx context.Context, req insight.Request) (insight.Result, error)
}

// Table is the read-only dataset shown on the data tab.
type Table interface {
	Name() string
	Headers() []string
	Rows() [][]string
	Filter(column, substr string) ([][]string, error)
	Schema() (*schema.Config, error)
}

// Deps are the handler's collaborators. Asker, Table and Sessions are
// required.
type Deps struct {
	Asker    Asker
	Table    Table
	Sessions session.Store
	Limiter  *rate.Limiter        // nil disables submit rate limiting
	Registry *prometheus.Registry // nil creates a private registry
	Logger   *slog.Logger
	Version  string
}

// handler holds the wired dependencies for the route functions.
type handler struct {
	Deps
	metrics *Metrics
	locks   sessionLocks
}

// NewHandler builds the chi router.
func NewHandler(d Deps) (http.Handler, error) {
	if d.Asker == nil || d.Table == nil || d.Sessions == nil {
		return nil, errors.New("server: asker, table and session store are required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	h := &handler{Deps: d, metrics: NewMetrics(d.Registry)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/", h.page)
	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/table", h.table)
		r.Get("/schema", h.schema)
		r.Get("/sessions", h.listSessions)
		r.Post("/sessions", h.createSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Delete("/", h.deleteSession)
			r.Post("/tab", h.switchTab)
			r.Post("/submit", h.submit)
		})
	})
	return r, nil
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.Logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// Serve runs srv until ctx is done, then shuts it down, waiting up to
// timeout for requests in flight.
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration, logger *slog.Logger) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("dashboard listening", "addr", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("shutting down dashboard")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown did not complete", "timeout", timeout, "error", err)
			if err := srv.Close(); err != nil {
				return fmt.Errorf("close server: %w", err)
			}
		}
		return nil
	}
}
