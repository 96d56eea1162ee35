// ABOUTME: Gateway wires auth providers, the backend orchestrator, the upgrade proxy and HTTP routes
// ABOUTME: Manages listener setup (TCP or Tailscale), user table watchers and graceful shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/warden-gateway/internal/auth"
	"github.com/2389/warden-gateway/internal/backend"
	"github.com/2389/warden-gateway/internal/config"
	"github.com/2389/warden-gateway/internal/dashboard"
	"github.com/2389/warden-gateway/internal/proxy"
	"github.com/2389/warden-gateway/internal/store"
)

// Backends is the orchestrator surface the gateway uses.
type Backends interface {
	proxy.Backends
	Start(ctx context.Context, username string, forceRestart bool) (backend.StartResult, error)
	Stop(ctx context.Context, username string) error
	Status(username string) backend.Status
	Log(username string) ([]string, bool)
	List() []backend.Status
	Shutdown(ctx context.Context) error
}

// Deps are the components a Gateway is assembled from. New builds them from config;
// tests supply their own.
type Deps struct {
	Providers    *auth.Providers
	Backends     Backends
	Store        store.Store // nil disables the document endpoints
	Registry     *prometheus.Registry
	AuthMetrics  *auth.Metrics
	ProxyMetrics *proxy.Metrics
}

// Gateway is the warden-gateway server.
type Gateway struct {
	config      *config.Config
	providers   *auth.Providers
	backends    Backends
	store       store.Store
	registry    *prometheus.Registry
	authMetrics *auth.Metrics
	runtime     *dashboard.RuntimeConfig
	handler     http.Handler
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore opens the SQLite store, or returns nil when no database is configured.
func initStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("WARDEN_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" {
		logger.Warn("no database configured, document endpoints and backend history disabled")
		return nil, nil
	}

	s, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newRegistry creates the metrics registry with the standard process collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New creates a Gateway from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	reg := newRegistry()
	authMetrics := auth.NewMetrics(reg)

	providers, err := auth.NewProviders(cfg.Auth, logger.With("component", "auth"), authMetrics)
	if err != nil {
		return nil, fmt.Errorf("configuring identity providers: %w", err)
	}

	s, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	var recorder backend.EventRecorder
	if s != nil {
		recorder = s
	}
	b := cfg.Backend
	orch := backend.New(backend.Options{
		Launcher:        backend.NewCommandLauncher(b),
		Ports:           backend.NewPortAllocator(b.Ports.Min, b.Ports.Max, b.ProbePorts),
		StartDelay:      b.StartDelay,
		KillGrace:       b.KillGrace,
		LogCapacity:     b.LogCapacity,
		LogFileTemplate: b.LogFileTemplate,
		Recorder:        recorder,
		Metrics:         backend.NewMetrics(reg),
		Logger:          logger.With("component", "backend"),
	})

	return NewWithDeps(cfg, logger, Deps{
		Providers:    providers,
		Backends:     orch,
		Store:        s,
		Registry:     reg,
		AuthMetrics:  authMetrics,
		ProxyMetrics: proxy.NewMetrics(reg),
	})
}

// NewWithDeps creates a Gateway from prepared components.
func NewWithDeps(cfg *config.Config, logger *slog.Logger, deps Deps) (*Gateway, error) {
	if deps.Providers == nil || deps.Backends == nil {
		return nil, errors.New("gateway requires providers and backends")
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	runtime, err := dashboard.Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("building dashboard config: %w", err)
	}

	g := &Gateway{
		config:      cfg,
		providers:   deps.Providers,
		backends:    deps.Backends,
		store:       deps.Store,
		registry:    deps.Registry,
		authMetrics: deps.AuthMetrics,
		runtime:     runtime,
		logger:      logger.With("component", "gateway"),
	}

	upgrades := proxy.New(proxy.Options{
		Verifier:     deps.Providers.Registry,
		Mapper:       deps.Providers.Mapper,
		Backends:     deps.Backends,
		TokenSource:  cfg.Proxy.TokenSource,
		TokenCookie:  cfg.Proxy.TokenCookie,
		TokenQuery:   cfg.Proxy.TokenQuery,
		SecretHeader: cfg.Backend.AuthTokenHeader,
		DialTimeout:  cfg.Proxy.DialTimeout,
		Metrics:      deps.ProxyMetrics,
		Logger:       logger.With("component", "proxy"),
	})
	g.handler = upgrades.Wrap(g.routes())

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// Handler returns the root HTTP handler, upgrade interception included.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// setupTCPListener creates the standard TCP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and the user table watchers, and blocks until the
// context is canceled or the server fails. Shutdown runs before Run returns.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	watchCtx, stopWatching := context.WithCancel(ctx)
	defer stopWatching()
	go g.providers.WatchTables(watchCtx, g.logger)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "warden-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and returns its HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, every backend process and releases resources.
// It is safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
		errs = appendCloseError(errs, "backend shutdown", g.backends.Shutdown(ctx))

		if g.tsnetServer != nil {
			errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
		}
		if g.store != nil {
			errs = appendCloseError(errs, "store close", g.store.Close())
		}

		if len(errs) > 0 {
			g.shutdownErr = fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
		}
	})
	return g.shutdownErr
}
