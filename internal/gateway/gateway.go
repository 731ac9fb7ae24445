// ABOUTME: Gateway orchestrator that wires the relay and serves its HTTP API
// ABOUTME: Builds store, transport, poller and conversation service; manages listener lifecycle

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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/clonepilot/internal/auth"
	"github.com/2389/clonepilot/internal/config"
	"github.com/2389/clonepilot/internal/conversation"
	"github.com/2389/clonepilot/internal/directline"
	"github.com/2389/clonepilot/internal/metrics"
	"github.com/2389/clonepilot/internal/poll"
	"github.com/2389/clonepilot/internal/session"
	"github.com/2389/clonepilot/internal/store"
)

// Version is reported by GET / and set at build time.
var Version = "dev"

// shutdownTimeout bounds graceful shutdown once Run's context is done.
const shutdownTimeout = 5 * time.Second

// Gateway owns the relay's components and its HTTP server.
type Gateway struct {
	config       *config.Config
	store        store.KV
	sessions     *session.Store
	transport    transport
	conversation *conversation.Service
	broadcaster  *conversation.Broadcaster
	metrics      *metrics.Metrics
	registry     *prometheus.Registry
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger

	// configErr is set when the Direct Line client could not be built. The
	// relay still serves and reports it on every relay request.
	configErr error

	startedAt time.Time
}

// transport is the Direct Line surface the relay uses.
type transport interface {
	conversation.Transport
	poll.Fetcher
}

// unconfigured stands in for the Direct Line client when credentials are missing.
type unconfigured struct{ err error }

func (u unconfigured) CreateConversation(context.Context) (*directline.Conversation, error) {
	return nil, u.err
}

func (u unconfigured) PostActivity(context.Context, *directline.Conversation, *directline.Activity) (string, error) {
	return "", u.err
}

func (u unconfigured) FetchActivities(context.Context, *directline.Conversation, string) (*directline.ActivitySet, error) {
	return nil, u.err
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kv, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	sessions := session.NewStore(kv)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.MustNew(registry)

	tr, configErr := newTransport(cfg.DirectLine, m, logger)
	if configErr != nil {
		logger.Warn("direct line not configured, relay requests will fail",
			"error", configErr)
	}

	poller := poll.New(tr, sessions, poll.Options{
		UserID:           cfg.DirectLine.UserID,
		Interval:         cfg.Polling.Interval,
		Deadline:         cfg.Polling.Deadline,
		MaxAttempts:      cfg.Polling.MaxAttempts,
		MaxFetchFailures: cfg.Polling.MaxFetchFailures,
		Policy:           policyFor(cfg.Polling),
		Recorder:         m,
		Logger:           logger,
	})

	broadcaster := conversation.NewBroadcaster(logger)
	svc := conversation.New(sessions, tr, poller, conversation.Options{
		UserID:              cfg.DirectLine.UserID,
		Locale:              cfg.DirectLine.Locale,
		StartEvent:          cfg.DirectLine.StartEvent,
		StartValue:          cfg.DirectLine.StartValue,
		ForwardFirstMessage: cfg.DirectLine.ForwardFirstMessage,
		Broadcaster:         broadcaster,
		Recorder:            m,
	}, logger)

	gw := &Gateway{
		config:       cfg,
		store:        kv,
		sessions:     sessions,
		transport:    tr,
		conversation: svc,
		broadcaster:  broadcaster,
		metrics:      m,
		registry:     registry,
		logger:       logger.With("component", "gateway"),
		configErr:    configErr,
		startedAt:    time.Now(),
	}

	mux := http.NewServeMux()
	if err := gw.registerRoutes(mux); err != nil {
		_ = kv.Close()
		return nil, err
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// newTransport builds the Direct Line client. A missing credential yields a
// stand-in transport together with the configuration error.
func newTransport(cfg config.DirectLineConfig, m *metrics.Metrics, logger *slog.Logger) (transport, error) {
	var creds directline.CredentialSource = directline.StaticCredential(cfg.Secret)
	if cfg.OAuth.Enabled() {
		creds = directline.NewOAuthCredential(context.Background(), directline.OAuthConfig{
			TokenURL:     cfg.OAuth.TokenURL,
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			Scopes:       cfg.OAuth.Scopes,
		})
	}

	client, err := directline.NewClient(directline.Config{
		Endpoint:    cfg.Endpoint,
		Credentials: creds,
		HTTPClient:  &http.Client{Timeout: cfg.HTTPTimeout},
		Logger:      logger,
		Observer:    m,
	})
	if err != nil {
		return unconfigured{err: err}, err
	}
	return client, nil
}

// policyFor maps the configured policy name onto a termination policy.
func policyFor(cfg config.PollingConfig) poll.PolicyFactory {
	if cfg.Policy == config.PolicySignal {
		return poll.Signal(cfg.AwaitingInputEvents)
	}
	return poll.Quiescence(cfg.QuietPolls, cfg.Grace)
}

// registerRoutes mounts health, info, relay and metrics handlers. Relay
// routes require a JWT when a secret is configured.
func (g *Gateway) registerRoutes(mux *http.ServeMux) error {
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.HandleFunc("/{$}", g.handleRoot)

	relay := http.NewServeMux()
	relay.HandleFunc("/directline", g.handleDirectLineInfo)
	relay.HandleFunc("/directline/{$}", g.handleDirectLineInfo)
	relay.HandleFunc("/directline/message", g.handleSendMessage)
	relay.HandleFunc("/directline/start", g.handleStartConversation)
	relay.HandleFunc("/directline/conversations/{contactId}", g.handleConversationInfo)
	relay.HandleFunc("/directline/conversations/{contactId}/events", g.handleConversationEvents)

	var handler http.Handler = relay
	if g.config.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating HTTP JWT verifier: %w", err)
		}
		handler = auth.HTTPAuthMiddleware(verifier, g.logger)(relay)
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}
	mux.Handle("/directline", handler)
	mux.Handle("/directline/", handler)

	if g.config.Metrics.Enabled {
		mux.Handle(g.config.Metrics.Path, promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
		g.logger.Info("metrics enabled", "path", g.config.Metrics.Path)
	}
	return nil
}

// Handler returns the HTTP handler serving the API.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run serves the API and blocks until ctx is canceled or the server fails.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("initiating shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return g.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// setupListener creates a TCP or Tailscale listener based on configuration.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
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
	return filepath.Join(homeDir, ".local", "share", "clonepilot", "tailscale"), nil
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

// setupTailscaleListener joins the tailnet and listens on :80, :443 with
// Tailscale certs, or a Funnel.
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

	ln, err := g.listenTailscale(tsCfg)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, err
	}
	return ln, nil
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

func (g *Gateway) listenTailscale(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		g.logger.Info("enabling HTTPS with Tailscale certs on :443")
		ln, err := g.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		lc, err := g.tsnetServer.LocalClient()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	g.broadcaster.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the relay can reach its storage and has
// Direct Line credentials.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.configErr != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "not ready: %v", g.configErr)
		return
	}
	if pinger, ok := g.store.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "store unavailable: %v", err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
