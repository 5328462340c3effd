package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rosterfill/internal/fill"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	schemaSQL = `
        CREATE TABLE IF NOT EXISTS rosterfill_settings (
            id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
            csv TEXT NOT NULL DEFAULT '',
            delay_ms INTEGER,
            verbose BOOLEAN,
            auto_mode BOOLEAN NOT NULL DEFAULT FALSE,
            updated_at TIMESTAMPTZ NOT NULL
        );
        CREATE TABLE IF NOT EXISTS rosterfill_passes (
            id TEXT PRIMARY KEY,
            page INTEGER NOT NULL,
            outcome TEXT NOT NULL,
            result JSONB NOT NULL,
            error TEXT NOT NULL DEFAULT '',
            started_at TIMESTAMPTZ NOT NULL,
            finished_at TIMESTAMPTZ NOT NULL
        );
        ALTER TABLE rosterfill_settings
            ALTER COLUMN delay_ms DROP NOT NULL,
            ALTER COLUMN delay_ms DROP DEFAULT,
            ALTER COLUMN verbose DROP NOT NULL,
            ALTER COLUMN verbose DROP DEFAULT;
    `
	sqlSelectSettings = `
        SELECT csv, delay_ms, verbose, auto_mode, updated_at
        FROM rosterfill_settings
        WHERE id = 1;
    `
	sqlUpsertSettings = `
        INSERT INTO rosterfill_settings (id, csv, delay_ms, verbose, auto_mode, updated_at)
        VALUES (1, $1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE SET
            csv = EXCLUDED.csv,
            delay_ms = EXCLUDED.delay_ms,
            verbose = EXCLUDED.verbose,
            auto_mode = EXCLUDED.auto_mode,
            updated_at = EXCLUDED.updated_at;
    `
	sqlUpsertAutoMode = `
        INSERT INTO rosterfill_settings (id, auto_mode, updated_at)
        VALUES (1, $1, $2)
        ON CONFLICT (id) DO UPDATE SET
            auto_mode = EXCLUDED.auto_mode,
            updated_at = EXCLUDED.updated_at;
    `
	sqlInsertPass = `
        INSERT INTO rosterfill_passes (id, page, outcome, result, error, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `
	sqlTrimPasses = `
        DELETE FROM rosterfill_passes
        WHERE id NOT IN (
            SELECT id FROM rosterfill_passes ORDER BY finished_at DESC LIMIT $1
        );
    `
	sqlSelectPasses = `
        SELECT id, page, outcome, result, error, started_at, finished_at
        FROM rosterfill_passes
        ORDER BY finished_at DESC
        LIMIT $1;
    `
	sqlDeleteSettings = `DELETE FROM rosterfill_settings;`
	sqlDeletePasses   = `DELETE FROM rosterfill_passes;`
)

// Store provides a PostgreSQL implementation of the Repository interface.
type Store struct {
	pool        DBPool
	historySize int
	now         func() time.Time
	log         *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, historySize int, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:        pool,
		historySize: historySize,
		now:         time.Now,
		log:         logger.Named("store"),
	}, nil
}

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) Settings(ctx context.Context) (Settings, error) {
	rows, err := s.pool.Query(ctx, sqlSelectSettings)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Settings{}, fmt.Errorf("error during row iteration: %w", err)
		}
		return Settings{}, ErrNoSettings
	}
	var st Settings
	if err := rows.Scan(&st.CSV, &st.DelayMs, &st.Verbose, &st.AutoMode, &st.UpdatedAt); err != nil {
		return Settings{}, fmt.Errorf("failed to scan settings row: %w", err)
	}
	return st, nil
}

func (s *Store) SaveSettings(ctx context.Context, st Settings) error {
	_, err := s.pool.Exec(ctx, sqlUpsertSettings, st.CSV, st.DelayMs, st.Verbose, st.AutoMode, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (s *Store) AutoMode(ctx context.Context) (bool, error) {
	st, err := s.Settings(ctx)
	if errors.Is(err, ErrNoSettings) {
		return false, nil
	}
	return st.AutoMode, err
}

func (s *Store) SetAutoMode(ctx context.Context, enabled bool) error {
	if _, err := s.pool.Exec(ctx, sqlUpsertAutoMode, enabled, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to save auto mode flag: %w", err)
	}
	return nil
}

// AppendReport inserts the report and trims history to the configured size in one
// transaction.
func (s *Store) AppendReport(ctx context.Context, report *fill.Report) error {
	if report == nil {
		return nil
	}
	result, err := json.Marshal(report.Result)
	if err != nil {
		return fmt.Errorf("failed to encode pass result: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertPass,
		report.ID, report.Page, string(report.Outcome), result, report.Error,
		report.StartedAt.UTC(), report.FinishedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert pass %s: %w", report.ID, err)
	}
	if s.historySize > 0 {
		if _, err := tx.Exec(ctx, sqlTrimPasses, s.historySize); err != nil {
			return fmt.Errorf("failed to trim pass history: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Reports(ctx context.Context, limit int) ([]fill.Report, error) {
	var bound any = limit
	if limit <= 0 {
		bound = nil
	}
	rows, err := s.pool.Query(ctx, sqlSelectPasses, bound)
	if err != nil {
		return nil, fmt.Errorf("failed to query passes: %w", err)
	}
	defer rows.Close()

	var reports []fill.Report
	for rows.Next() {
		var (
			r       fill.Report
			outcome string
			result  []byte
		)
		if err := rows.Scan(&r.ID, &r.Page, &outcome, &result, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pass row: %w", err)
		}
		r.Outcome = fill.Outcome(outcome)
		if err := json.Unmarshal(result, &r.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result of pass %s: %w", r.ID, err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return reports, nil
}

func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()
	for _, stmt := range []string{sqlDeletePasses, sqlDeleteSettings} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear store: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Store cleared")
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
