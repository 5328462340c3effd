package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/rosterfill/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCombineContext(t *testing.T) {
	type ctxKey string
	const key ctxKey = "tab"

	t.Run("InheritsValuesFromPrimary", func(t *testing.T) {
		primary := context.WithValue(context.Background(), key, "t1")
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()

		assert.Equal(t, "t1", combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	t.Run("CancelledByPrimary", func(t *testing.T) {
		primary, cancelPrimary := context.WithCancel(context.Background())
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()

		cancelPrimary()
		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("CancelledBySecondary", func(t *testing.T) {
		secondary, cancelSecondary := context.WithCancel(context.Background())
		combined, cancel := CombineContext(context.Background(), secondary)
		defer cancel()

		cancelSecondary()
		assert.Eventually(t, func() bool {
			return combined.Err() != nil
		}, time.Second, 5*time.Millisecond)
	})
}

func TestDetach(t *testing.T) {
	type ctxKey string
	parent, cancel := context.WithTimeout(context.WithValue(context.Background(), ctxKey("k"), "v"), time.Minute)
	cancel()

	detached := Detach(parent)
	assert.NoError(t, detached.Err())
	assert.Nil(t, detached.Done())
	_, ok := detached.Deadline()
	assert.False(t, ok)
	assert.Equal(t, "v", detached.Value(ctxKey("k")))
}

func flagValue(flags []allocatorFlag, name string) (any, bool) {
	var (
		value any
		found bool
	)
	for _, f := range flags {
		if f.name == name {
			value, found = f.value, true
		}
	}
	return value, found
}

func TestAllocatorFlags(t *testing.T) {
	t.Run("AutomationMarkerDropped", func(t *testing.T) {
		v, ok := flagValue(allocatorFlags(config.BrowserConfig{Headless: true}), "enable-automation")
		require.True(t, ok)
		assert.Equal(t, false, v)
	})

	t.Run("HeadlessFollowsConfig", func(t *testing.T) {
		v, _ := flagValue(allocatorFlags(config.BrowserConfig{Headless: false}), "headless")
		assert.Equal(t, false, v)

		v, _ = flagValue(allocatorFlags(config.BrowserConfig{Headless: true}), "headless")
		assert.Equal(t, true, v)
	})

	t.Run("CustomArgs", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{Args: []string{"--window-size=1280,800", "--mute-audio"}})

		v, ok := flagValue(flags, "window-size")
		require.True(t, ok)
		assert.Equal(t, "1280,800", v)

		v, ok = flagValue(flags, "mute-audio")
		require.True(t, ok)
		assert.Equal(t, true, v)
	})
}

func TestBuildAllocatorOptions(t *testing.T) {
	cfg := config.BrowserConfig{Headless: true}
	base := buildAllocatorOptions(cfg)
	assert.Len(t, base, len(chromedp.DefaultExecAllocatorOptions)+len(allocatorFlags(cfg)))

	cfg.ExecPath = "/usr/bin/chromium"
	cfg.UserDataDir = t.TempDir()
	assert.Len(t, buildAllocatorOptions(cfg), len(base)+2)
}

func TestExpression(t *testing.T) {
	expr, err := expression("query", `//tr[@class="child"]`, "")
	require.NoError(t, err)
	assert.Equal(t, `window.__rosterfill.query("//tr[@class=\"child\"]", "")`, expr)

	expr, err = expression("ready")
	require.NoError(t, err)
	assert.Equal(t, "window.__rosterfill.ready()", expr)

	_, err = expression("setValue", make(chan int))
	assert.Error(t, err)
}

func TestManager_RejectsUnsupportedRemoteURL(t *testing.T) {
	m := NewManager(config.BrowserConfig{RemoteURL: "ftp://127.0.0.1:9222"}, config.NewDefaultConfig().Selectors, zaptest.NewLogger(t))

	_, err := m.NewSession(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ws:// or http://")

	assert.NoError(t, m.Shutdown(context.Background()))
}

func newDetachedSession(t *testing.T) (*Session, context.Context) {
	t.Helper()
	tabCtx, cancel := context.WithCancel(context.Background())
	s := newSession("s1", tabCtx, cancel, config.BrowserConfig{}, config.NewDefaultConfig().Selectors, zaptest.NewLogger(t))
	return s, tabCtx
}

func subscribe(s *Session) *subscription {
	sub := &subscription{s: s, ch: make(chan struct{}, 1)}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

func TestSession_BindingFanOut(t *testing.T) {
	s, _ := newDetachedSession(t)
	defer s.Close()
	a, b := subscribe(s), subscribe(s)

	// Coalesced: several mutation batches leave one pending notification.
	for i := 0; i < 3; i++ {
		s.handleEvent(&cdpruntime.EventBindingCalled{Name: mutationBinding})
	}
	s.handleEvent(&cdpruntime.EventBindingCalled{Name: "somethingElse"})

	assert.Len(t, a.Changes(), 1)
	assert.Len(t, b.Changes(), 1)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	<-b.Changes()
	s.handleEvent(&cdpruntime.EventBindingCalled{Name: mutationBinding})
	assert.Len(t, b.Changes(), 1)
}

func TestSubscription_LastCloseDisconnectsObserver(t *testing.T) {
	s, _ := newDetachedSession(t)
	disconnects := 0
	s.disconnect = func(context.Context) error { disconnects++; return nil }

	a, b := subscribe(s), subscribe(s)
	require.NoError(t, a.Close())
	assert.Zero(t, disconnects, "another search is still listening")

	require.NoError(t, b.Close())
	assert.Equal(t, 1, disconnects)
	require.NoError(t, b.Close())
	assert.Equal(t, 1, disconnects, "closing twice disconnects once")

	c := subscribe(s)
	require.NoError(t, s.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, disconnects, "a closed tab has nothing to disconnect")
}

func TestSubscription_DisconnectFailureIsReported(t *testing.T) {
	s, _ := newDetachedSession(t)
	defer s.Close()
	s.disconnect = func(context.Context) error { return errors.New("target detached") }

	sub := subscribe(s)
	assert.EqualError(t, sub.Close(), "target detached")
	_, open := <-sub.Changes()
	assert.False(t, open)
}

func TestSession_Close(t *testing.T) {
	s, tabCtx := newDetachedSession(t)
	sub := subscribe(s)
	closed := 0
	s.onClose = func() { closed++ }

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, 1, closed)
	assert.ErrorIs(t, tabCtx.Err(), context.Canceled)
	_, open := <-sub.Changes()
	assert.False(t, open)

	_, err := s.observe(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)

	page, err := s.Page(context.Background())
	require.NoError(t, err)
	_, err = page.Rows(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)

	f := &form{handle{s: s, id: "rf1"}}
	assert.ErrorIs(t, f.Submit(context.Background()), ErrSessionClosed)
}
