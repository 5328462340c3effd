package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

// -- Fakes --

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeOption struct {
	name  string
	value string
	text  string
	rec   *recorder
}

func (o *fakeOption) Value() string { return o.value }
func (o *fakeOption) Text() string  { return o.text }
func (o *fakeOption) Dispatch(_ context.Context, ev EventType) error {
	o.rec.add(o.name + ":" + string(ev))
	return nil
}

// fakeDropdown serves a different option list per attempt; the last list repeats.
type fakeDropdown struct {
	rec       *recorder
	perCall   [][]string
	calls     int
	value     string
	setCalls  int
	optionErr error
}

func (d *fakeDropdown) Options(_ context.Context) ([]Option, error) {
	if d.optionErr != nil {
		return nil, d.optionErr
	}
	idx := d.calls
	if idx >= len(d.perCall) {
		idx = len(d.perCall) - 1
	}
	d.calls++
	var out []Option
	for i, text := range d.perCall[idx] {
		out = append(out, &fakeOption{name: "option", value: string(rune('a' + i)), text: text, rec: d.rec})
	}
	return out, nil
}

func (d *fakeDropdown) SetValue(_ context.Context, v string) error {
	d.setCalls++
	d.value = v
	d.rec.add("select:set=" + v)
	return nil
}

func (d *fakeDropdown) Dispatch(_ context.Context, ev EventType) error {
	d.rec.add("select:" + string(ev))
	return nil
}

type sleepCounter struct {
	count int
	total time.Duration
}

func (s *sleepCounter) sleep(ctx context.Context, d time.Duration) error {
	s.count++
	s.total += d
	return ctx.Err()
}

func newTestResolver(t *testing.T, cfg ResolverConfig) (*Resolver, *sleepCounter) {
	sc := &sleepCounter{}
	return NewResolver(cfg, zaptest.NewLogger(t), WithSleep(sc.sleep)), sc
}

// -- Dropdown --

func TestResolveDropdown_MatchOnFirstAttempt(t *testing.T) {
	rec := &recorder{}
	dd := &fakeDropdown{rec: rec, perCall: [][]string{{"Infant", "Toddler"}}}
	r, sc := newTestResolver(t, ResolverConfig{MaxAttempts: 5, RetryDelay: 200 * time.Millisecond})

	ok, err := r.ResolveDropdown(context.Background(), dd, "  infant  ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, dd.calls)
	assert.Equal(t, 0, sc.count, "no wait before or after a first attempt hit")
	assert.Equal(t, "a", dd.value)

	assert.Equal(t, []string{
		"select:set=a",
		"select:change",
		"select:mousedown", "select:mouseup", "select:click",
		"option:mousedown", "option:mouseup", "option:click",
	}, rec.all())
}

func TestResolveDropdown_OptionsArriveLate(t *testing.T) {
	rec := &recorder{}
	dd := &fakeDropdown{rec: rec, perCall: [][]string{
		{},
		{"Select..."},
		{"Select...", "Full  Time"},
	}}
	r, sc := newTestResolver(t, ResolverConfig{MaxAttempts: 5, RetryDelay: 200 * time.Millisecond})

	ok, err := r.ResolveDropdown(context.Background(), dd, "full time")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, dd.calls, "resolved on the third attempt, not before")
	assert.Equal(t, 2, sc.count)
	assert.Equal(t, 400*time.Millisecond, sc.total)
	assert.Equal(t, "b", dd.value)
}

func TestResolveDropdown_NeverMatches(t *testing.T) {
	rec := &recorder{}
	dd := &fakeDropdown{rec: rec, perCall: [][]string{{"Infant", "Toddler"}}}
	r, sc := newTestResolver(t, ResolverConfig{MaxAttempts: 5, RetryDelay: 200 * time.Millisecond})

	ok, err := r.ResolveDropdown(context.Background(), dd, "Preschool")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 5, dd.calls, "exactly MaxAttempts scans")
	assert.Equal(t, 4, sc.count, "no wait after the final attempt")
	assert.Equal(t, 0, dd.setCalls)
	assert.Empty(t, rec.all(), "a miss must not touch the control")
}

func TestResolveDropdown_AbsentInputs(t *testing.T) {
	r, sc := newTestResolver(t, ResolverConfig{})

	ok, err := r.ResolveDropdown(context.Background(), nil, "Infant")
	require.NoError(t, err)
	assert.False(t, ok)

	dd := &fakeDropdown{rec: &recorder{}, perCall: [][]string{{"Infant"}}}
	ok, err = r.ResolveDropdown(context.Background(), dd, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, dd.calls, "no attempt consumed")
	assert.Equal(t, 0, sc.count)
}

func TestResolveDropdown_ExactNormalizedMatchOnly(t *testing.T) {
	dd := &fakeDropdown{rec: &recorder{}, perCall: [][]string{{"Infant Care", "Infant"}}}
	r, _ := newTestResolver(t, ResolverConfig{MaxAttempts: 1})

	ok, err := r.ResolveDropdown(context.Background(), dd, "INFANT")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", dd.value, "substring matches do not count")
}

func TestResolveDropdown_Errors(t *testing.T) {
	t.Run("broken handle", func(t *testing.T) {
		dd := &fakeDropdown{rec: &recorder{}, optionErr: errors.New("node detached")}
		r, _ := newTestResolver(t, ResolverConfig{})
		ok, err := r.ResolveDropdown(context.Background(), dd, "Infant")
		assert.False(t, ok)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "node detached")
	})

	t.Run("cancelled between attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		dd := &fakeDropdown{rec: &recorder{}, perCall: [][]string{{"Infant"}}}
		r := NewResolver(ResolverConfig{MaxAttempts: 5}, zaptest.NewLogger(t), WithSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}))
		ok, err := r.ResolveDropdown(ctx, dd, "Toddler")
		assert.False(t, ok)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, dd.calls)
	})
}

func TestResolveDropdown_RealSleep(t *testing.T) {
	defer goleak.VerifyNone(t)
	dd := &fakeDropdown{rec: &recorder{}, perCall: [][]string{{}, {"Infant"}}}
	r := NewResolver(ResolverConfig{MaxAttempts: 3, RetryDelay: 10 * time.Millisecond}, zaptest.NewLogger(t))

	start := time.Now()
	ok, err := r.ResolveDropdown(context.Background(), dd, "Infant")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}
