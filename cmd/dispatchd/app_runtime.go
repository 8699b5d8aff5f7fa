package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/teamrichards/dispatchd/internal/api"
	"github.com/teamrichards/dispatchd/internal/buildinfo"
	"github.com/teamrichards/dispatchd/internal/config"
	"github.com/teamrichards/dispatchd/internal/demand"
	"github.com/teamrichards/dispatchd/internal/directions"
	"github.com/teamrichards/dispatchd/internal/dispatch"
	"github.com/teamrichards/dispatchd/internal/hexgrid"
	"github.com/teamrichards/dispatchd/internal/hub"
	"github.com/teamrichards/dispatchd/internal/metrics"
	"github.com/teamrichards/dispatchd/internal/sim"
	"github.com/teamrichards/dispatchd/internal/state"
)

type dispatchApp struct {
	envCfg     *config.EnvConfig
	runtimeCfg *atomic.Pointer[config.RuntimeConfig]

	store          *state.Store
	agg            *demand.Aggregator
	metricsManager *metrics.Manager
	hub            *hub.Hub
	supervisor     *sim.Supervisor
	apiSrv         *api.Server
}

func run() error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}

	app, err := newDispatchApp(envCfg)
	if err != nil {
		return err
	}

	serverErrCh := app.startServers()
	runtimeErr := waitForShutdown(serverErrCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.shutdown(ctx)

	if runtimeErr != nil {
		return fmt.Errorf("runtime server error: %w", runtimeErr)
	}
	return nil
}

func newDispatchApp(envCfg *config.EnvConfig) (*dispatchApp, error) {
	app := &dispatchApp{
		envCfg:     envCfg,
		runtimeCfg: &atomic.Pointer[config.RuntimeConfig]{},
	}
	app.runtimeCfg.Store(config.NewDefaultRuntimeConfig())
	warnAboutAdminToken(envCfg.AdminToken)

	// Phase 1: World state. Fleet and hex tiling are fixed for the whole run.
	if err := app.initSimulation(); err != nil {
		return nil, err
	}

	// Phase 2: Routing provider.
	routes, err := app.initRouting()
	if err != nil {
		return nil, err
	}

	// Phase 3: Observability.
	app.initObservability()

	// Phase 4: Dispatch pipeline (matcher, subscriber hub, tick loops).
	app.buildDispatchPipeline(routes)

	// Phase 5: API server.
	app.buildNetworkServers()

	app.startBackgroundServices()
	return app, nil
}

func warnAboutAdminToken(token string) {
	if token == "" {
		log.Println("Warning: DISPATCH_ADMIN_TOKEN is empty; admin API authentication is disabled")
		return
	}
	if config.IsWeakToken(token) {
		log.Println("Warning: DISPATCH_ADMIN_TOKEN is weak; use a longer random value")
	}
}

func (a *dispatchApp) initSimulation() error {
	a.store = state.New(a.envCfg.MaxPendingOrders, a.envCfg.MaxCompletedOrders)
	if err := sim.SeedTaxis(a.store, a.envCfg.Center(), a.envCfg.MaxTaxis); err != nil {
		return fmt.Errorf("seed fleet: %w", err)
	}
	log.Printf("Seeded %d taxis around (%.6f, %.6f)", a.envCfg.MaxTaxis, a.envCfg.CenterLat, a.envCfg.CenterLng)

	grid, err := hexgrid.New(a.envCfg.Center(), a.envCfg.H3Resolution)
	if err != nil {
		return fmt.Errorf("hex grid: %w", err)
	}
	a.agg = demand.NewAggregator(grid)
	log.Printf("Hex grid ready: %d cells at resolution %d", grid.Size(), grid.Resolution())
	return nil
}

func (a *dispatchApp) initRouting() (*directions.Client, error) {
	keys, err := config.ResolveRoutingCredentials(a.envCfg)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		log.Println("No routing API keys configured; provider requests will be keyless")
	} else {
		log.Printf("Routing provider ready with %d API key(s)", len(keys))
	}

	return directions.NewClient(directions.Options{
		Endpoint:     a.envCfg.RoutingURL,
		Credentials:  keys,
		Timeout:      a.envCfg.RoutingTimeout,
		CacheEntries: a.envCfg.RouteCacheEntries,
	}), nil
}

func (a *dispatchApp) initObservability() {
	a.metricsManager = metrics.NewManager(metrics.ManagerConfig{
		Fleet:              a.store,
		RingCapacity:       a.envCfg.MetricsRingCapacity,
		SummarySchedule:    a.envCfg.MetricsSummarySchedule,
		MaxPendingOrders:   a.envCfg.MaxPendingOrders,
		MaxCompletedOrders: a.envCfg.MaxCompletedOrders,
	})
}

func (a *dispatchApp) buildDispatchPipeline(routes *directions.Client) {
	matcher := dispatch.NewMatcher(
		a.store,
		a.agg,
		routes,
		func() dispatch.Mode { return a.runtimeCfg.Load().MatchingMode },
		a.metricsManager,
	)

	a.hub = hub.NewHub(hub.Options{
		Store:      a.store,
		Demand:     a.agg,
		RuntimeCfg: a.runtimeCfg,
		Recorder:   a.metricsManager,
	})
	a.metricsManager.SetSubscriberSource(a.hub)

	a.supervisor = sim.NewSupervisor(sim.SupervisorConfig{
		Generator:         sim.NewGenerator(a.store, a.envCfg.Center(), a.metricsManager),
		Matcher:           matcher,
		Hub:               a.hub,
		GeneratorInterval: a.envCfg.GeneratorInterval,
		MatcherInterval:   a.envCfg.MatcherInterval,
		DemandInterval:    a.envCfg.DemandInterval,
	})
}

func (a *dispatchApp) buildNetworkServers() {
	systemInfo := api.SystemInfo{
		Version:      buildinfo.Version,
		GitCommit:    buildinfo.GitCommit,
		BuildTime:    buildinfo.BuildTime,
		GoVersion:    runtime.Version(),
		StartedAt:    time.Now().UTC(),
		Center:       a.envCfg.Center(),
		H3Resolution: a.envCfg.H3Resolution,
		MaxTaxis:     a.envCfg.MaxTaxis,
	}

	a.apiSrv = api.NewServerWithAddress(
		a.envCfg.ListenAddress,
		a.envCfg.Port,
		a.envCfg.AdminToken,
		systemInfo,
		a.runtimeCfg,
		a.store,
		a.agg,
		a.metricsManager,
		a.hub,
		int64(a.envCfg.APIMaxBodyBytes),
	)
}

func (a *dispatchApp) startBackgroundServices() {
	a.metricsManager.Start()
	log.Println("Metrics manager started")

	a.supervisor.Start()
	log.Println("Simulation supervisor started")
}

func (a *dispatchApp) startServers() <-chan error {
	serverErrCh := make(chan error, 1)
	reportServerErr := func(name string, err error) {
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		wrapped := fmt.Errorf("%s: %w", name, err)
		select {
		case serverErrCh <- wrapped:
		default:
		}
	}

	go func() {
		log.Printf("Dispatch server starting on %s", formatListenURL(a.envCfg.ListenAddress, a.envCfg.Port))
		reportServerErr("dispatch server", a.apiSrv.ListenAndServe())
	}()

	return serverErrCh
}

func waitForShutdown(serverErrCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Printf("Received signal %s, shutting down...", sig)
		return nil
	case err := <-serverErrCh:
		log.Printf("Received server runtime error (%v), shutting down...", err)
		return err
	}
}

func formatListenAddress(listenAddress string, port int) string {
	return net.JoinHostPort(listenAddress, strconv.Itoa(port))
}

func formatListenURL(listenAddress string, port int) string {
	return "http://" + formatListenAddress(listenAddress, port)
}

func (a *dispatchApp) shutdown(ctx context.Context) {
	// Stop in order: tick sources first, then subscriber connections,
	// then the listener, then the metrics sink.
	a.supervisor.Stop()
	log.Println("Simulation supervisor stopped")

	a.hub.Close()
	log.Println("Subscriber hub closed")

	if err := a.apiSrv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Dispatch server stopped")

	a.metricsManager.Stop()
	log.Println("Metrics manager stopped")

	log.Println("Server stopped")
}
