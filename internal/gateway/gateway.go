// ABOUTME: Gateway orchestrator that wires the store, verifier and auth backend
// ABOUTME: Owns the HTTP server lifecycle for the login and health endpoints

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/browserid-gateway/internal/assets"
	"github.com/2389/browserid-gateway/internal/auth"
	"github.com/2389/browserid-gateway/internal/browserid"
	"github.com/2389/browserid-gateway/internal/config"
	"github.com/2389/browserid-gateway/internal/signals"
	"github.com/2389/browserid-gateway/internal/store"
)

// pinger is implemented by stores that can report reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// Gateway serves the BrowserID login endpoints.
type Gateway struct {
	config     *config.Config
	store      store.Store
	verifier   browserid.Verifier
	backend    *auth.Backend
	bus        *signals.Bus
	httpServer *http.Server
	logger     *slog.Logger
}

// Option customizes a Gateway before its backend is built.
type Option func(*options)

type options struct {
	registry *auth.Registry
	verifier browserid.Verifier
}

// WithRegistry supplies creators and username algorithms referenced by name
// in the browserid config.
func WithRegistry(r *auth.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithVerifier replaces the verifier built from config.
func WithVerifier(v browserid.Verifier) Option {
	return func(o *options) { o.verifier = v }
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("BROWSERID_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	return s, nil
}

// New creates a Gateway from cfg. The store is opened and the backend is
// validated here so configuration errors surface before serving.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	verifier := o.verifier
	if verifier == nil {
		verifier, err = auth.NewVerifier(cfg.BrowserID, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating verifier: %w", err)
		}
	}

	bus := signals.NewBus(logger)
	auth.RecordCreations(bus, s, logger)

	backendOpts := auth.OptionsFromConfig(cfg.BrowserID)
	backendOpts.Registry = o.registry
	backendOpts.Bus = bus
	backendOpts.Logger = logger
	backend, err := auth.NewBackend(verifier, s, backendOpts)
	if err != nil {
		closeVerifier(verifier)
		s.Close()
		return nil, fmt.Errorf("creating auth backend: %w", err)
	}

	gw := &Gateway{
		config:   cfg,
		store:    s,
		verifier: verifier,
		backend:  backend,
		bus:      bus,
		logger:   logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the gateway's routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	mux.HandleFunc("POST "+LoginPath, g.handleLogin)
	mux.HandleFunc("GET "+LoginPath, g.handleLoginGet)
	mux.HandleFunc("POST "+LogoutPath, g.handleLogout)
	mux.HandleFunc("GET "+InfoPath, g.handleInfo)

	// Embedded client script
	mux.Handle("GET /static/", http.StripPrefix("/static", assets.FileServer()))

	return mux
}

// Bus exposes the signal bus so callers can observe account creation.
func (g *Gateway) Bus() *signals.Bus {
	return g.bus
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

func closeVerifier(v browserid.Verifier) {
	if c, ok := v.(interface{ Close() }); ok {
		c.Close()
	}
}

// Shutdown stops the HTTP server and releases the store and verifier.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "store close", g.store.Close())
	closeVerifier(g.verifier)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the database answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := g.store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			g.logger.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
