// Package browser drives a real Chrome tab over the DevTools protocol and exposes the
// roster page to the fill engine.
package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rosterfill/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the browser process (or the connection to a running one) and the
// sessions opened on it.
type Manager struct {
	cfg       config.BrowserConfig
	selectors config.SelectorsConfig
	logger    *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	sessions map[string]*Session
	mu       sync.RWMutex
	wg       sync.WaitGroup

	// Initialization state management
	initOnce sync.Once
	initErr  error
}

// NewManager creates a manager. The browser is started when the first session is requested.
func NewManager(cfg config.BrowserConfig, selectors config.SelectorsConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		selectors: selectors,
		logger:    logger.Named("browser_manager"),
		sessions:  make(map[string]*Session),
	}
}

// initialize creates the allocator. Chrome itself is launched by the first tab.
func (m *Manager) initialize() error {
	m.initOnce.Do(func() {
		// The allocator outlives any single command context.
		if m.cfg.RemoteURL != "" {
			if !strings.HasPrefix(m.cfg.RemoteURL, "ws://") && !strings.HasPrefix(m.cfg.RemoteURL, "http://") {
				m.initErr = fmt.Errorf("remote browser url %q must start with ws:// or http://", m.cfg.RemoteURL)
				return
			}
			m.logger.Info("Connecting to running browser", zap.String("url", m.cfg.RemoteURL))
			m.allocCtx, m.allocCancel = chromedp.NewRemoteAllocator(context.Background(), m.cfg.RemoteURL)
			return
		}
		m.logger.Info("Initializing browser allocator", zap.Bool("headless", m.cfg.Headless))
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), buildAllocatorOptions(m.cfg)...)
	})
	return m.initErr
}

// allocatorFlag is one command line switch; a false bool drops the switch.
type allocatorFlag struct {
	name  string
	value any
}

// allocatorFlags lists the switches layered over chromedp's defaults.
func allocatorFlags(cfg config.BrowserConfig) []allocatorFlag {
	flags := []allocatorFlag{
		// The defaults mark the browser as automated and force it headless.
		{"enable-automation", false},
		{"headless", cfg.Headless},
		{"disable-gpu", cfg.Headless},
		{"disable-blink-features", "AutomationControlled"},
		{"disable-extensions", true},
	}

	// Add custom arguments from config.yaml.
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")

		if len(parts) == 2 {
			flags = append(flags, allocatorFlag{flagName, parts[1]})
		} else {
			flags = append(flags, allocatorFlag{flagName, true})
		}
	}

	// Add flags required for running inside containers (e.g., Docker on Linux).
	if runtime.GOOS == "linux" {
		flags = append(flags,
			allocatorFlag{"no-sandbox", true},
			allocatorFlag{"disable-dev-shm-usage", true},
		)
	}
	return flags
}

// buildAllocatorOptions assembles the allocator options for a local browser.
func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range allocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	return opts
}

// NewSession opens a tab.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	if err := m.initialize(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx)
	s := newSession(uuid.NewString(), tabCtx, tabCancel, m.cfg, m.selectors, m.logger)

	// The first Run binds the browser and tab to the context it is given, so it must be
	// the tab context itself rather than anything derived from the caller.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	initCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	if err := s.install(initCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to initialize browser session: %w", err)
	}

	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		m.wg.Done()
	}
	m.wg.Add(1)
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.logger.Debug("Session opened", zap.String("session_id", s.ID()))
	return s, nil
}

// Shutdown closes every open session, then the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.RUnlock()

	var errs []error
	for _, s := range open {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	graceCtx, cancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer cancel()
	select {
	case <-done:
	case <-graceCtx.Done():
		errs = append(errs, fmt.Errorf("timed out waiting for sessions: %w", graceCtx.Err()))
	}

	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.logger.Info("Browser manager shut down")
	return errors.Join(errs...)
}
