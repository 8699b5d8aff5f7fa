package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/teamrichards/dispatchd/internal/config"
	"github.com/teamrichards/dispatchd/internal/demand"
	"github.com/teamrichards/dispatchd/internal/hub"
	"github.com/teamrichards/dispatchd/internal/metrics"
	"github.com/teamrichards/dispatchd/internal/state"
)

// Server wraps the HTTP server and mux for the dispatchd API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new API server wired with all routes.
func NewServer(
	port int,
	adminToken string,
	systemInfo SystemInfo,
	runtimeCfg *atomic.Pointer[config.RuntimeConfig],
	store *state.Store,
	agg *demand.Aggregator,
	metricsManager *metrics.Manager,
	h *hub.Hub,
	apiMaxBodyBytes int64,
) *Server {
	return NewServerWithAddress(
		"",
		port,
		adminToken,
		systemInfo,
		runtimeCfg,
		store,
		agg,
		metricsManager,
		h,
		apiMaxBodyBytes,
	)
}

// NewServerWithAddress creates a new API server with an explicit listen address.
func NewServerWithAddress(
	listenAddress string,
	port int,
	adminToken string,
	systemInfo SystemInfo,
	runtimeCfg *atomic.Pointer[config.RuntimeConfig],
	store *state.Store,
	agg *demand.Aggregator,
	metricsManager *metrics.Manager,
	h *hub.Hub,
	apiMaxBodyBytes int64,
) *Server {
	mux := http.NewServeMux()

	// Public (no auth). The websocket endpoint stays open because browser
	// clients cannot attach an Authorization header to the upgrade request.
	mux.Handle("GET /healthz", HandleHealthz())
	if h != nil {
		mux.Handle("GET /ws", http.HandlerFunc(h.ServeWS))
	}

	// Authenticated routes
	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/system/info", HandleSystemInfo(systemInfo))
	authed.Handle("GET /api/v1/system/config", HandleSystemConfig(runtimeCfg))
	authed.Handle("PATCH /api/v1/system/config", HandlePatchSystemConfig(runtimeCfg))

	authed.Handle("GET /api/v1/state", HandleState(store))
	authed.Handle("GET /api/v1/demand", HandleDemand(store, agg))

	if metricsManager != nil {
		authed.Handle("GET /api/v1/metrics/realtime", HandleRealtimeMetrics(metricsManager))
	}

	limitedAuthed := RequestBodyLimitMiddleware(apiMaxBodyBytes, authed)
	// CORS sits outside auth so preflight OPTIONS requests succeed without a token.
	mux.Handle("/api/", CORSMiddleware(AuthMiddleware(adminToken, limitedAuthed)))

	srv := &http.Server{
		Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
