package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rosterfill/internal/config"
	"github.com/xkilldash9x/rosterfill/internal/fill"
)

// fileState is the on-disk layout.
type fileState struct {
	Settings *Settings     `json:"settings,omitempty"`
	History  []fill.Report `json:"history,omitempty"`
}

// FileStore keeps everything in one JSON document, rewritten atomically on change.
type FileStore struct {
	mu          sync.Mutex
	path        string
	historySize int
	now         func() time.Time
	log         *zap.Logger
}

// NewFileStore uses path, or settings.json under the default data directory.
func NewFileStore(path string, historySize int, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		path = filepath.Join(config.DefaultDataDir(), "settings.json")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{
		path:        path,
		historySize: historySize,
		now:         time.Now,
		log:         logger.Named("store"),
	}, nil
}

// Path is the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Settings(ctx context.Context) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load()
	if err != nil {
		return Settings{}, err
	}
	if st.Settings == nil {
		return Settings{}, ErrNoSettings
	}
	return *st.Settings, nil
}

func (s *FileStore) SaveSettings(ctx context.Context, settings Settings) error {
	return s.update(ctx, func(st *fileState) {
		settings.UpdatedAt = s.now().UTC()
		st.Settings = &settings
	})
}

func (s *FileStore) AutoMode(ctx context.Context) (bool, error) {
	settings, err := s.Settings(ctx)
	if errors.Is(err, ErrNoSettings) {
		return false, nil
	}
	return settings.AutoMode, err
}

func (s *FileStore) SetAutoMode(ctx context.Context, enabled bool) error {
	return s.update(ctx, func(st *fileState) {
		if st.Settings == nil {
			st.Settings = &Settings{}
		}
		st.Settings.AutoMode = enabled
		st.Settings.UpdatedAt = s.now().UTC()
	})
}

func (s *FileStore) AppendReport(ctx context.Context, report *fill.Report) error {
	if report == nil {
		return nil
	}
	return s.update(ctx, func(st *fileState) {
		st.History = append(st.History, *report)
		if s.historySize > 0 && len(st.History) > s.historySize {
			st.History = st.History[len(st.History)-s.historySize:]
		}
	})
}

func (s *FileStore) Reports(ctx context.Context, limit int) ([]fill.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]fill.Report, 0, len(st.History))
	for i := len(st.History) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, st.History[i])
	}
	return out, nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	s.log.Info("Store cleared", zap.String("path", s.path))
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) update(ctx context.Context, mutate func(st *fileState)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load()
	if err != nil {
		return err
	}
	mutate(st)
	return s.save(st)
}

// load reads the file; a missing file is an empty state.
func (s *FileStore) load() (*fileState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &fileState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}
	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode store %s: %w", s.path, err)
	}
	return &st, nil
}

func (s *FileStore) save(st *fileState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}
