package control

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWaitFor(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("found immediately", func(t *testing.T) {
		var calls int32
		found, err := WaitFor(context.Background(), time.Hour, time.Second, func(context.Context) (bool, error) {
			atomic.AddInt32(&calls, 1)
			return true, nil
		})
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("found after polling through errors", func(t *testing.T) {
		var calls int32
		found, err := WaitFor(context.Background(), 5*time.Millisecond, time.Second, func(context.Context) (bool, error) {
			n := atomic.AddInt32(&calls, 1)
			if n < 3 {
				return false, errors.New("execution context was destroyed")
			}
			return true, nil
		})
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("times out", func(t *testing.T) {
		found, err := WaitFor(context.Background(), 5*time.Millisecond, 30*time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("parent cancellation is an error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		found, err := WaitFor(ctx, 5*time.Millisecond, time.Second, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.False(t, found)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMechanicalClickOrder(t *testing.T) {
	rec := &recorder{}
	opt := &fakeOption{name: "el", rec: rec}
	require.NoError(t, MechanicalClick(context.Background(), opt))
	assert.Equal(t, []string{"el:mousedown", "el:mouseup", "el:click"}, rec.all())
}
