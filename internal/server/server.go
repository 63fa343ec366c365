// Package server implements the chunkstore HTTP server and route multiplexer.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bleepstore/chunkstore/internal/archive"
	"github.com/bleepstore/chunkstore/internal/chunkstore"
	"github.com/bleepstore/chunkstore/internal/config"
	"github.com/bleepstore/chunkstore/internal/handlers"
	"github.com/bleepstore/chunkstore/internal/metrics"
)

// Server is the chunkstore HTTP server. System endpoints (health, readiness,
// metrics, API docs) are registered first; every other path names an object.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	store      *chunkstore.Store
	archiver   *archive.Archiver
	object     *handlers.ObjectHandler
	logger     *slog.Logger
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoints.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoints.
type HealthOutput struct {
	Body HealthBody
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithStore sets the object store. Without it the server creates one from
// the store section of the configuration.
func WithStore(store *chunkstore.Store) ServerOption {
	return func(s *Server) {
		s.store = store
	}
}

// WithArchiver enables archiving of completed uploads and makes /readyz
// depend on the archive sink.
func WithArchiver(a *archive.Archiver) ServerOption {
	return func(s *Server) {
		s.archiver = a
	}
}

// WithLogger sets the base logger used for request logs.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a new Server with the given configuration and wires up all
// routes on the Chi router with Huma API.
func New(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("chunkstore API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.store == nil {
		s.store = chunkstore.New(
			chunkstore.WithBroadcastCapacity(cfg.Store.BroadcastCapacity),
			chunkstore.WithReadChunkSize(cfg.Store.ReadChunkSize),
		)
	}

	hopts := []handlers.HandlerOption{
		handlers.WithMaxNameLength(cfg.Server.MaxNameLength),
		handlers.WithReservedNames(reservedNames(cfg, humaConfig)...),
	}
	if s.archiver != nil {
		hopts = append(hopts, handlers.WithArchiver(s.archiver))
	}
	s.object = handlers.NewObjectHandler(s.store, hopts...)

	s.registerRoutes()
	return s, nil
}

// Store returns the object store the server serves from.
func (s *Server) Store() *chunkstore.Store {
	return s.store
}

// Handler returns the router wrapped in the middleware chain:
// metricsMiddleware -> commonHeaders -> requestContext -> accessLog -> cors -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = corsMiddleware(s.cfg.CORS)(handler)
	handler = accessLog(handler)
	handler = requestContext(s.logger)(handler)
	handler = commonHeaders(handler)
	if s.cfg.Observability.Metrics {
		handler = metricsMiddleware(handler)
	}
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{
		Addr:    ln.Addr().String(),
		Handler: s.Handler(),
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline. Readers tailing an
// upload keep the server busy until that upload ends or ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router.
// Huma routes (/health, /readyz, /docs, /openapi.json), /healthz and
// /metrics are registered first. The object catch-all /* is registered
// last. Chi matches more specific routes first.
func (s *Server) registerRoutes() {
	// Plain-text liveness probe.
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	if s.cfg.Observability.HealthCheck {
		huma.Register(s.api, huma.Operation{
			OperationID: "get-health",
			Method:      http.MethodGet,
			Path:        "/health",
			Summary:     "Health check",
			Description: "Returns the health status of the chunkstore server.",
			Tags:        []string{"System"},
		}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
			return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
		})

		// Register HEAD /health separately (Huma only does one method per registration).
		s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
		})

		huma.Register(s.api, huma.Operation{
			OperationID: "get-readyz",
			Method:      http.MethodGet,
			Path:        "/readyz",
			Summary:     "Readiness check",
			Description: "Reports ready when the archive sink, if configured, passes its health check.",
			Tags:        []string{"System"},
		}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
			if s.archiver != nil {
				if err := s.archiver.HealthCheck(ctx); err != nil {
					s.logger.Warn("readiness check failed", "error", err)
					return nil, huma.Error503ServiceUnavailable("archive sink unavailable")
				}
			}
			return &HealthOutput{Body: HealthBody{Status: "ready"}}, nil
		})
	}

	if s.cfg.Observability.Metrics {
		prom := promhttp.Handler()
		s.router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			st := s.store.Stats()
			metrics.SetStoreStats(metrics.StoreStats{
				Objects:     st.Objects,
				OpenUploads: st.OpenUploads,
				Bytes:       st.Bytes,
				Subscribers: st.Subscribers,
			})
			prom.ServeHTTP(w, r)
		})
	}

	// Object catch-all: every remaining path names an object.
	s.router.Handle("/*", s.object)
}

// reservedNames lists the object names shadowed by system routes. The object
// handler rejects them for every method.
func reservedNames(cfg *config.Config, hc huma.Config) []string {
	names := []string{"healthz"}
	if cfg.Observability.HealthCheck {
		names = append(names, "health", "readyz")
	}
	if cfg.Observability.Metrics {
		names = append(names, "metrics")
	}
	if hc.DocsPath != "" {
		names = append(names, strings.TrimPrefix(hc.DocsPath, "/"))
	}
	if hc.OpenAPIPath != "" {
		base := strings.TrimPrefix(hc.OpenAPIPath, "/")
		names = append(names, base+".json", base+".yaml", base+"-3.0.json", base+"-3.0.yaml")
	}
	if hc.SchemasPath != "" {
		names = append(names, strings.TrimPrefix(hc.SchemasPath, "/")+"/")
	}
	return names
}
