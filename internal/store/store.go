// Package store persists user settings, the auto-mode flag and pass history.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rosterfill/internal/config"
	"github.com/xkilldash9x/rosterfill/internal/fill"
)

// ErrNoSettings is returned when nothing has been saved yet.
var ErrNoSettings = errors.New("no saved settings")

// Settings is what the user saved: the roster text and the pass tuning knobs.
// A nil DelayMs or Verbose was never saved and leaves the configured value in place.
type Settings struct {
	CSV       string    `json:"csv"`
	DelayMs   *int      `json:"delay_ms,omitempty"`
	Verbose   *bool     `json:"verbose,omitempty"`
	AutoMode  bool      `json:"auto_mode"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository is the persistence surface shared by every backend.
type Repository interface {
	// Settings returns the saved settings, or ErrNoSettings.
	Settings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
	// AutoMode is false when nothing has been saved.
	AutoMode(ctx context.Context) (bool, error)
	SetAutoMode(ctx context.Context, enabled bool) error
	AppendReport(ctx context.Context, report *fill.Report) error
	// Reports returns up to limit reports, newest first. limit <= 0 means all.
	Reports(ctx context.Context, limit int) ([]fill.Report, error)
	// Clear erases settings and history.
	Clear(ctx context.Context) error
	Close() error
}

// Open builds the backend cfg selects.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Repository, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Path, cfg.HistorySize, logger)
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		s, err := New(ctx, pool, cfg.HistorySize, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Apply overlays saved settings onto the fill configuration. Unsaved knobs are skipped.
func (s Settings) Apply(f *config.FillConfig) {
	if s.DelayMs != nil {
		f.DelayMs = *s.DelayMs
	}
	if s.Verbose != nil {
		f.Verbose = *s.Verbose
	}
	f.AutoMode = s.AutoMode
}
