// ABOUTME: HTTP server orchestrating store, authentication, ingestion fan-out and background jobs
// ABOUTME: Owns the listener (TCP or tailscale), the token janitor and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"tailscale.com/tsnet"

	"github.com/unconv/unconv-server/internal/admin"
	"github.com/unconv/unconv-server/internal/auth"
	"github.com/unconv/unconv-server/internal/config"
	"github.com/unconv/unconv-server/internal/dedupe"
	"github.com/unconv/unconv-server/internal/metrics"
	"github.com/unconv/unconv-server/internal/sink"
	"github.com/unconv/unconv-server/internal/store"
	"github.com/unconv/unconv-server/internal/stream"
)

// Upper bound on remembered idempotency keys.
const maxIdempotencyKeys = 100_000

// Server serves the unconv HTTP API.
type Server struct {
	config *config.Config
	store  store.Store
	logger *slog.Logger

	hasher   auth.Hasher
	jwt      *auth.JWTVerifier
	authn    *auth.Authenticator
	accounts *admin.AccountService
	tokens   *admin.TokenService

	// dedupe remembers idempotency keys of ingested batches
	dedupe *dedupe.Cache

	broadcaster *stream.Broadcaster
	stream      *stream.Handler
	sink        sink.ReadingWriter

	// metrics is nil when metrics are disabled
	metrics *metrics.Metrics

	handler     http.Handler
	httpServer  *http.Server
	tsnetServer *tsnet.Server
}

// New opens the configured store and analytics sink and builds the server.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	writer, err := newSink(cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	srv, err := newServer(cfg, st, writer, logger)
	if err != nil {
		writer.Close()
		_ = st.Close()
		return nil, err
	}
	return srv, nil
}

// newSink returns a ClickHouse writer when a DSN is configured, a LogWriter otherwise.
func newSink(cfg *config.Config, logger *slog.Logger) (sink.ReadingWriter, error) {
	if cfg.Sink.ClickHouseDSN == "" {
		return sink.NewLogWriter(logger), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w, err := sink.NewClickHouseWriter(ctx, cfg.Sink.ClickHouseDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing clickhouse sink: %w", err)
	}
	logger.Info("clickhouse sink enabled")
	return w, nil
}

func newServer(cfg *config.Config, st store.Store, writer sink.ReadingWriter, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	jwtVerifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTIssuer)
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	validator := auth.NewValidator(st, hasher, logger)

	authn := auth.NewAuthenticator(
		&auth.SensorTokenStrategy{Param: cfg.Auth.SensorTokenParam, Validator: validator},
		&auth.BearerStrategy{Verifier: jwtVerifier, Users: st, SkipHeaderAuth: cfg.Auth.SkipHeaderAuth},
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	broadcaster := stream.NewBroadcaster(logger)

	s := &Server{
		config:      cfg,
		store:       st,
		logger:      logger.With("component", "server"),
		hasher:      hasher,
		jwt:         jwtVerifier,
		authn:       authn,
		accounts:    admin.NewAccountService(st, hasher, jwtVerifier, cfg.Auth.JWTTTL, logger),
		tokens:      admin.NewTokenService(st, auth.NewIssuer(hasher), cfg.Auth.SensorTokenTTL, logger),
		dedupe:      dedupe.New(cfg.Ingest.IdempotencyTTL, maxIdempotencyKeys),
		broadcaster: broadcaster,
		stream:      stream.NewHandler(broadcaster, logger),
		sink:        writer,
		metrics:     m,
	}

	s.handler = s.routes(logger)
	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupListener creates the HTTP listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Run serves until ctx is canceled or the server fails, then shuts down.
// Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	jobCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	go s.runJanitor(jobCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}
	stopJobs()

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, ends live streams, flushes the sink and
// releases the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	// Hijacked websocket connections are not tracked by http.Server.
	s.broadcaster.Close()
	s.sink.Close()
	s.dedupe.Close()

	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", s.store.Close())

	return errors.Join(errs...)
}

// runJanitor purges expired sensor tokens every auth.token_cleanup_interval.
func (s *Server) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.config.Auth.TokenCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purgeExpiredTokens(ctx)
		}
	}
}

func (s *Server) purgeExpiredTokens(ctx context.Context) {
	n, err := s.tokens.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("purging expired sensor tokens", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("purged expired sensor tokens", "count", n)
	}
}
