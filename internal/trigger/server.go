// Package trigger exposes a local HTTP command endpoint for starting fills and managing
// saved settings.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/rosterfill/internal/config"
	"github.com/xkilldash9x/rosterfill/internal/record"
	"github.com/xkilldash9x/rosterfill/internal/store"
	"github.com/xkilldash9x/rosterfill/internal/traversal"
)

// Job runs one fill against whatever CSV is saved at call time.
type Job func(ctx context.Context) (*traversal.Summary, error)

// SettingsStore is the part of the settings repository the commands touch.
type SettingsStore interface {
	Settings(ctx context.Context) (store.Settings, error)
	SaveSettings(ctx context.Context, s store.Settings) error
	Clear(ctx context.Context) error
}

// ErrBusy is returned when a fill is requested while one is running.
var ErrBusy = errors.New("a fill is already running")

// Server hosts the command endpoint.
type Server struct {
	cfg      config.TriggerConfig
	job      Job
	settings SettingsStore
	parse    []record.Option
	limiter  *rate.Limiter
	logger   *zap.Logger
	now      func() time.Time

	running atomic.Bool
	bg      sync.WaitGroup
	baseCtx context.Context
}

// Option customizes a Server.
type Option func(*Server)

// WithParserOptions sets how store_csv validates incoming text.
func WithParserOptions(opts ...record.Option) Option {
	return func(s *Server) { s.parse = opts }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer builds a server. No socket is opened until Serve.
func NewServer(cfg config.TriggerConfig, job Job, settings SettingsStore, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	s := &Server{
		cfg:      cfg,
		job:      job,
		settings: settings,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger.Named("trigger"),
		now:      time.Now,
		baseCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthCheck)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/command", s.handleCommand)
	})
	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.respondWithError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Serve listens on the configured address until ctx is cancelled, then shuts down
// gracefully and waits for background fills.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.baseCtx = ctx
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Trigger server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	grace := s.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-errCh
	s.Wait()
	s.logger.Info("Trigger server stopped")
	return err
}

// Wait blocks until background fills started by store_csv have finished.
func (s *Server) Wait() { s.bg.Wait() }

// runJob runs the fill unless one is already running.
func (s *Server) runJob(ctx context.Context) (*traversal.Summary, error) {
	if err := s.reserve(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.job(ctx)
}

// reserve claims the single fill slot. The caller either releases it or hands it to
// startJob.
func (s *Server) reserve() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (s *Server) release() { s.running.Store(false) }

// startJob runs the fill in the background, detached from the request. The slot must
// already be reserved.
func (s *Server) startJob() {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer s.running.Store(false)
		if _, err := s.job(s.baseCtx); err != nil {
			s.logger.Error("Background fill failed", zap.Error(err))
		}
	}()
}
