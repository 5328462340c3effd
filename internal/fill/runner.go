package fill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/rosterfill/internal/control"
	"github.com/xkilldash9x/rosterfill/internal/record"
)

// Outcome classifies a finished pass.
type Outcome string

const (
	// OutcomeSuccess: submitted, every attempted field set.
	OutcomeSuccess Outcome = "success"
	// OutcomePartial: submitted, some fields failed.
	OutcomePartial Outcome = "partial"
	// OutcomeNothingFilled: no field was set, so nothing was submitted. Not an error.
	OutcomeNothingFilled Outcome = "nothing_filled"
	// OutcomeFailed: the pass broke before it could finish.
	OutcomeFailed Outcome = "failed"
)

// Report describes one pass.
type Report struct {
	ID         string    `json:"id"`
	Page       int       `json:"page"`
	Outcome    Outcome   `json:"outcome"`
	Result     Result    `json:"result"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Success is the { success: bool } answer given to whoever triggered the pass.
func (r *Report) Success() bool {
	return r != nil && r.Outcome != OutcomeFailed
}

// Submitted reports whether the real submit was issued.
func (r *Report) Submitted() bool {
	return r != nil && (r.Outcome == OutcomeSuccess || r.Outcome == OutcomePartial)
}

// Summary is the human readable line printed after every pass.
func (r *Report) Summary() string {
	head := fmt.Sprintf("pass %s: %s, %d/%d row(s) matched, %d field(s) set",
		shortID(r.ID), r.Outcome, r.Result.RowsMatched, r.Result.RowsSeen, r.Result.FieldsFilled)
	if r.Error != "" {
		head += ", error: " + r.Error
	}
	return head + "\n" + r.Result.Failures.Summary()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RunnerConfig tunes the pass boundary.
type RunnerConfig struct {
	// SubmitDelay is the pause between opening the gate and clicking save.
	SubmitDelay time.Duration
}

// Runner executes passes one at a time.
type Runner struct {
	orchestrator *Orchestrator
	cfg          RunnerConfig
	sem          *semaphore.Weighted
	sleep        func(ctx context.Context, d time.Duration) error
	now          func() time.Time
	logger       *zap.Logger
}

// NewRunner wraps orch with the single-pass guard and the submission gate.
func NewRunner(orch *Orchestrator, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		orchestrator: orch,
		cfg:          cfg,
		sem:          semaphore.NewWeighted(1),
		sleep:        control.Sleep,
		now:          time.Now,
		logger:       logger.Named("runner"),
	}
}

// RunPass performs one complete pass over page. A concurrent call fails fast with
// ErrFillInProgress and no report. Otherwise the report is always returned; the error
// is non-nil exactly when the outcome is OutcomeFailed. The gate is released on every
// path, including panics and cancellation.
func (r *Runner) RunPass(ctx context.Context, page Page, table *record.Table) (report *Report, err error) {
	if !r.sem.TryAcquire(1) {
		return nil, ErrFillInProgress
	}
	defer r.sem.Release(1)

	report = &Report{ID: uuid.New().String(), StartedAt: r.now()}
	logger := r.logger.With(zap.String("pass_id", report.ID))
	logger.Info("Starting fill pass", zap.Int("records", table.Len()))

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("fill pass panicked: %v", p)
		}
		report.FinishedAt = r.now()
		if err != nil {
			report.Outcome = OutcomeFailed
			report.Error = err.Error()
			logger.Error("Fill pass failed", zap.Error(err))
		}
		logger.Info("Fill pass finished",
			zap.String("outcome", string(report.Outcome)),
			zap.Int("failures", len(report.Result.Failures)),
			zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	}()

	form, err := page.Form(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to locate form: %w", err)
	}
	if form == nil {
		return report, ErrFormNotFound
	}

	gate := NewGate(form, logger)
	if err := gate.Engage(ctx); err != nil {
		return report, err
	}
	defer func() {
		// Release with a context that survives cancellation of ctx.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, oerr := gate.Open(releaseCtx); oerr != nil {
			logger.Warn("Failed to release submission gate", zap.Error(oerr))
		}
	}()

	rows, err := page.Rows(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list rows: %w", err)
	}

	result, err := r.orchestrator.FillAll(ctx, page, rows, table)
	if result != nil {
		report.Result = *result
	}
	if err != nil {
		return report, err
	}

	if _, err := gate.Open(ctx); err != nil {
		return report, err
	}

	if !result.Filled {
		report.Outcome = OutcomeNothingFilled
		logger.Warn("Nothing filled, skipping submission")
		return report, nil
	}

	if err := r.sleep(ctx, r.cfg.SubmitDelay); err != nil {
		return report, err
	}
	if err := form.Submit(ctx); err != nil {
		return report, fmt.Errorf("failed to submit form: %w", err)
	}
	logger.Info("Form submitted")

	report.Outcome = OutcomeSuccess
	if len(result.Failures) > 0 {
		report.Outcome = OutcomePartial
	}
	return report, nil
}

// IsBusy reports whether err means a pass was already running.
func IsBusy(err error) bool {
	return errors.Is(err, ErrFillInProgress)
}
