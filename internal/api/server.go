// Package api serves the survey HTTP API: scan upload and status, floor
// and wall listings, plan export and download, and debug charts.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/banshee-data/survey.report/internal/config"
	"github.com/banshee-data/survey.report/internal/monitoring"
	"github.com/banshee-data/survey.report/internal/objectstore"
	"github.com/banshee-data/survey.report/internal/survey/pipeline"
	"github.com/banshee-data/survey.report/internal/survey/storage/sqlite"
	"github.com/banshee-data/survey.report/internal/timeutil"
)

// ANSI escape codes for request logging.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Config wires a Server to its dependencies.
type Config struct {
	Store          *sqlite.Store
	Objects        objectstore.Store
	Queue          pipeline.Queue
	Exporter       *pipeline.Exporter
	Clock          timeutil.Clock
	MaxUploadBytes int64
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

type Server struct {
	store     *sqlite.Store
	objects   objectstore.Store
	queue     pipeline.Queue
	exporter  *pipeline.Exporter
	clock     timeutil.Clock
	maxUpload int64
	gatherer  prometheus.Gatherer
}

func NewServer(c Config) *Server {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	maxUpload := c.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = config.DefaultMaxUploadBytes
	}
	return &Server{
		store:     c.Store,
		objects:   c.Objects,
		queue:     c.Queue,
		exporter:  c.Exporter,
		clock:     clock,
		maxUpload: maxUpload,
		gatherer:  c.Gatherer,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[api] [%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/scans", s.uploadScan)
	mux.HandleFunc("GET /api/scans", s.listScans)
	mux.HandleFunc("GET /api/scans/{id}", s.getScan)
	mux.HandleFunc("GET /api/scans/{id}/floors", s.listFloors)
	mux.HandleFunc("GET /api/scans/{id}/events", s.listEvents)
	mux.HandleFunc("GET /api/scans/{id}/preview", s.downloadPreview)
	mux.HandleFunc("GET /api/scans/{id}/decimated", s.downloadDecimated)
	mux.HandleFunc("POST /api/scans/{id}/reprocess", s.reprocessScan)
	mux.HandleFunc("GET /api/floors/{id}/walls", s.listWalls)
	mux.HandleFunc("GET /api/floors/{id}/plans", s.listPlans)
	mux.HandleFunc("POST /api/floors/{id}/plans", s.createPlan)
	mux.HandleFunc("GET /api/plans/{id}", s.getPlan)
	mux.HandleFunc("GET /api/plans/{id}/download", s.downloadPlan)
	mux.HandleFunc("GET /debug/scans/{id}/histogram", s.histogramChart)
	mux.HandleFunc("GET /debug/floors/{id}/walls", s.wallsChart)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Handler wraps mux with tracing and request logging.
func Handler(mux http.Handler) http.Handler {
	return otelhttp.NewHandler(LoggingMiddleware(mux), "survey.api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.Pattern
		}))
}
