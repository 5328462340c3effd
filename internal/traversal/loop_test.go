package traversal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/rosterfill/internal/control"
	"github.com/xkilldash9x/rosterfill/internal/fill"
	"github.com/xkilldash9x/rosterfill/internal/record"
)

// -- Fakes --

type stubPage struct{ n int }

func (stubPage) Observe(context.Context) (control.Subscription, error)   { return nil, nil }
func (stubPage) ResultOptions(context.Context) ([]control.Option, error) { return nil, nil }
func (stubPage) Rows(context.Context) ([]fill.Row, error)               { return nil, nil }
func (stubPage) Form(context.Context) (fill.Form, error)                { return nil, nil }

type link struct{ b *fakeBrowser }

func (l link) Activate(context.Context) error {
	l.b.current++
	l.b.activations++
	return nil
}

// fakeBrowser serves pages 0..pages-1; every page but the last offers a next link.
type fakeBrowser struct {
	pages       int
	current     int
	activations int
	readyWaits  int
	alwaysNext  bool
}

func (b *fakeBrowser) Page(context.Context) (fill.Page, error) { return stubPage{n: b.current}, nil }
func (b *fakeBrowser) WaitReady(context.Context) error         { b.readyWaits++; return nil }
func (b *fakeBrowser) NextPage(context.Context) (Affordance, error) {
	if b.alwaysNext || b.current < b.pages-1 {
		return link{b: b}, nil
	}
	return nil, nil
}

type fakePasser struct {
	visited  []int
	outcomes map[int]fill.Outcome
	failOn   int
}

func (p *fakePasser) RunPass(_ context.Context, page fill.Page, _ *record.Table) (*fill.Report, error) {
	n := page.(stubPage).n
	p.visited = append(p.visited, n)
	outcome, ok := p.outcomes[n]
	if !ok {
		outcome = fill.OutcomeSuccess
	}
	report := &fill.Report{ID: "pass", Outcome: outcome}
	if p.failOn == n+1 {
		report.Outcome = fill.OutcomeFailed
		return report, errors.New("element vanished")
	}
	return report, nil
}

type fakeFlags struct {
	auto   bool
	writes []bool
}

func (f *fakeFlags) AutoMode(context.Context) (bool, error) { return f.auto, nil }
func (f *fakeFlags) SetAutoMode(_ context.Context, v bool) error {
	f.auto = v
	f.writes = append(f.writes, v)
	return nil
}

type sink struct{ reports []*fill.Report }

func (s *sink) AppendReport(_ context.Context, r *fill.Report) error {
	s.reports = append(s.reports, r)
	return nil
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// -- Tests --

func TestLoop_TwoPagesThenDone(t *testing.T) {
	browser := &fakeBrowser{pages: 2}
	passer := &fakePasser{}
	flags := &fakeFlags{auto: true}
	history := &sink{}
	notifications := 0

	loop := New(Config{SettleDelay: 2 * time.Second}, passer, browser, flags, zaptest.NewLogger(t),
		WithSleep(noSleep),
		WithReportSink(history),
		WithCompletionNotifier(func(context.Context, *Summary) { notifications++ }))

	summary, err := loop.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []State{StateActive, StateActive, StateDone}, summary.States)
	assert.True(t, summary.Completed)
	assert.Equal(t, 1, notifications, "exactly one completion notification")
	assert.Equal(t, []int{0, 1}, passer.visited)
	assert.Equal(t, 1, browser.activations)
	assert.False(t, flags.auto)
	assert.Equal(t, []bool{false}, flags.writes, "DONE is persisted")

	require.Len(t, history.reports, 2)
	assert.Equal(t, 1, history.reports[0].Page)
	assert.Equal(t, 2, history.reports[1].Page)
	assert.Equal(t, 3, browser.readyWaits, "after each pass and after the page change")
}

func TestLoop_AutoModeOffRunsOnce(t *testing.T) {
	browser := &fakeBrowser{pages: 3}
	passer := &fakePasser{}
	flags := &fakeFlags{auto: false}
	notified := false

	loop := New(Config{}, passer, browser, flags, zaptest.NewLogger(t),
		WithSleep(noSleep),
		WithCompletionNotifier(func(context.Context, *Summary) { notified = true }))

	summary, err := loop.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, summary.AutoMode)
	assert.Empty(t, summary.States)
	assert.Len(t, summary.Reports, 1)
	assert.Equal(t, []int{0}, passer.visited)
	assert.Equal(t, 0, browser.activations)
	assert.Empty(t, flags.writes)
	assert.False(t, notified)
}

func TestLoop_NothingFilledPagesStillAdvance(t *testing.T) {
	browser := &fakeBrowser{pages: 3}
	passer := &fakePasser{outcomes: map[int]fill.Outcome{1: fill.OutcomeNothingFilled}}
	flags := &fakeFlags{auto: true}

	loop := New(Config{}, passer, browser, flags, zaptest.NewLogger(t), WithSleep(noSleep))
	summary, err := loop.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, passer.visited)
	assert.Equal(t, []State{StateActive, StateActive, StateActive, StateDone}, summary.States)
}

func TestLoop_FailedPassKeepsFlag(t *testing.T) {
	browser := &fakeBrowser{pages: 3}
	passer := &fakePasser{failOn: 2}
	flags := &fakeFlags{auto: true}
	notified := false

	loop := New(Config{}, passer, browser, flags, zaptest.NewLogger(t),
		WithSleep(noSleep),
		WithCompletionNotifier(func(context.Context, *Summary) { notified = true }))

	summary, err := loop.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 2")
	assert.True(t, flags.auto, "flag stays set so a re-run resumes")
	assert.Empty(t, flags.writes)
	assert.False(t, notified)
	require.Len(t, summary.Reports, 2)
	assert.Equal(t, fill.OutcomeFailed, summary.Reports[1].Outcome)
}

func TestLoop_PageCeiling(t *testing.T) {
	browser := &fakeBrowser{alwaysNext: true}
	passer := &fakePasser{}
	flags := &fakeFlags{auto: true}
	notified := false

	loop := New(Config{MaxPages: 3}, passer, browser, flags, zaptest.NewLogger(t),
		WithSleep(noSleep),
		WithCompletionNotifier(func(context.Context, *Summary) { notified = true }))

	summary, err := loop.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrPageLimit)
	assert.Equal(t, []int{0, 1, 2}, passer.visited)
	assert.Equal(t, 2, browser.activations, "the last offered link is not followed")
	assert.False(t, flags.auto, "the ceiling clears the flag")
	assert.False(t, summary.Completed)
	assert.False(t, notified)
}

func TestLoop_Cancelled(t *testing.T) {
	browser := &fakeBrowser{alwaysNext: true}
	flags := &fakeFlags{auto: true}
	ctx, cancel := context.WithCancel(context.Background())

	loop := New(Config{}, &fakePasser{}, browser, flags, zaptest.NewLogger(t),
		WithSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}))

	_, err := loop.Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, flags.auto)
}
