// Package server exposes the viewer websocket, poller status and metrics
// over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/scoresync/livesync/api"
	"github.com/scoresync/livesync/internal/poller"
)

const shutdownTimeout = 30 * time.Second

// Engine is the part of a poller.Engine the status endpoints read.
type Engine interface {
	Class() string
	Table() *poller.Table
	Discover(ctx context.Context) error
}

// Viewers is the websocket hub.
type Viewers interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	Count() int
	Rooms() []string
}

// Deps are the components behind the router. Gatherer may be nil to disable
// /metrics; Ready and HeldRecords may be nil.
type Deps struct {
	Engines  []Engine
	Viewers  Viewers
	Gatherer prometheus.Gatherer
	Ready    func(ctx context.Context) error
	// HeldRecords counts canonical records currently locked by a writer.
	HeldRecords func() int
}

// LoadSpec parses the embedded OpenAPI document of the status API.
func LoadSpec() (*openapi3.T, error) {
	swagger, err := openapi3.NewLoader().LoadFromData(api.OpenAPISpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := swagger.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid openapi spec: %w", err)
	}
	swagger.Servers = nil // Allow any host
	return swagger, nil
}

func NewRouter(deps Deps, logger *zap.Logger) (http.Handler, error) {
	swagger, err := LoadSpec()
	if err != nil {
		return nil, err
	}
	h := newHandlers(deps, logger)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	// Websocket upgrades must not pass through the compressor.
	r.Get("/ws", deps.Viewers.ServeWS)

	r.Group(func(cr chi.Router) {
		cr.Use(middleware.Compress(5))

		// Non-validated routes
		cr.Get("/openapi.yaml", openapiHandler)
		if deps.Gatherer != nil {
			cr.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
		}

		// Status routes with OpenAPI validation
		cr.Group(func(apiRouter chi.Router) {
			apiRouter.Use(oapimiddleware.OapiRequestValidator(swagger))
			apiRouter.Get("/healthz", h.health)
			apiRouter.Get("/api/poll", h.allStatus)
			apiRouter.Get("/api/poll/{class}", h.classStatus)
			apiRouter.Post("/api/poll/{class}/discover", h.discover)
		})
	})

	return r, nil
}

func openapiHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(api.OpenAPISpec)
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts it
// down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return serveListener(ctx, ln, handler, logger)
}

func serveListener(ctx context.Context, ln net.Listener, handler http.Handler, logger *zap.Logger) error {
	httpServer := &http.Server{
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: websocket connections are long lived.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", ln.Addr().String()))
		errc <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", maskQuery(r.URL.RawQuery)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
			next.ServeHTTP(w, r)
		})
	}
}

// maskQuery hides all but the first characters of the subscriber id.
func maskQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	if sub := values.Get("subscriber"); len(sub) > 4 {
		values.Set("subscriber", sub[:4]+"****")
	}
	return strings.ReplaceAll(values.Encode(), "%2A", "*")
}
