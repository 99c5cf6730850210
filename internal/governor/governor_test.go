package governor_test

import (
	"chat-autopilot/internal/browser/snapshot"
	"chat-autopilot/internal/governor"
	"chat-autopilot/internal/ports"
	"chat-autopilot/pkg/apperr"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testPolicy() governor.Policy {
	return governor.Policy{
		NavigationTimeout: 200 * time.Millisecond,
		ElementTimeout:    100 * time.Millisecond,
		LocatorTimeout:    50 * time.Millisecond,
		VerifyTimeout:     100 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
		MaxPollInterval:   20 * time.Millisecond,
		BackoffFactor:     2,
		InteractionDelay:  time.Millisecond,
		PageLoadDelay:     time.Millisecond,
		SettleDelay:       time.Millisecond,
		RecheckDelay:      time.Millisecond,
	}
}

func TestPoll(t *testing.T) {
	g := governor.New(testPolicy(), zap.NewNop())

	t.Run("returns once predicate holds", func(t *testing.T) {
		calls := 0
		err := g.Poll(context.Background(), time.Second, func(context.Context) (bool, error) {
			calls++
			return calls == 3, nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("zero timeout evaluates exactly once", func(t *testing.T) {
		calls := 0
		err := g.Poll(context.Background(), 0, func(context.Context) (bool, error) {
			calls++
			return false, nil
		})

		assert.ErrorIs(t, err, governor.ErrExpired)
		assert.Equal(t, 1, calls)
	})

	t.Run("expires when predicate never holds", func(t *testing.T) {
		start := time.Now()
		err := g.Poll(context.Background(), 30*time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})

		assert.ErrorIs(t, err, governor.ErrExpired)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("last reading happens at the bound", func(t *testing.T) {
		// Readings at 0, 5 and 15ms; the next 20ms interval would overshoot
		// the bound and is shortened to land on it.
		start := time.Now()
		err := g.Poll(context.Background(), 30*time.Millisecond, func(context.Context) (bool, error) {
			return time.Since(start) >= 25*time.Millisecond, nil
		})

		require.NoError(t, err)
	})

	t.Run("interval grows up to the cap", func(t *testing.T) {
		var readings []time.Time
		err := g.Poll(context.Background(), 120*time.Millisecond, func(context.Context) (bool, error) {
			readings = append(readings, time.Now())
			return len(readings) == 5, nil
		})

		require.NoError(t, err)
		require.Len(t, readings, 5)
		// 5, 10, 20 and then capped at 20ms.
		assert.GreaterOrEqual(t, readings[2].Sub(readings[1]), 10*time.Millisecond)
		assert.GreaterOrEqual(t, readings[4].Sub(readings[3]), 20*time.Millisecond)
	})

	t.Run("predicate error stops polling", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		err := g.Poll(context.Background(), time.Second, func(context.Context) (bool, error) {
			calls++
			return false, boom
		})

		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancellation interrupts the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := g.Poll(ctx, time.Second, func(context.Context) (bool, error) {
			return false, nil
		})

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSettle(t *testing.T) {
	g := governor.New(testPolicy(), zap.NewNop())

	for _, kind := range []governor.Settle{
		governor.SettleInteraction,
		governor.SettlePageLoad,
		governor.SettleAction,
		governor.SettleRecheck,
	} {
		assert.NoError(t, g.Settle(context.Background(), kind), kind)
	}

	assert.Error(t, g.Settle(context.Background(), governor.Settle("nap")))
}

type loadingDriver struct {
	*snapshot.Driver
}

func (loadingDriver) Evaluate(context.Context, string) (any, error) {
	return "loading", nil
}

func TestNavigate(t *testing.T) {
	g := governor.New(testPolicy(), zap.NewNop())
	ctx := context.Background()

	t.Run("routed page becomes ready", func(t *testing.T) {
		drv := snapshot.New().Route("https://chat.test/auth", `<html><body></body></html>`)

		require.NoError(t, g.Navigate(ctx, drv, "https://chat.test/auth"))

		u, err := drv.URL(ctx)
		require.NoError(t, err)
		assert.Equal(t, "https://chat.test/auth", u)
	})

	t.Run("document that never settles times out", func(t *testing.T) {
		drv := loadingDriver{snapshot.New().Route("https://chat.test/auth", `<html></html>`)}

		err := g.Navigate(ctx, ports.Driver(drv), "https://chat.test/auth")

		assert.True(t, apperr.HasCode(err, apperr.CodeNavigationTimeout), err)
	})

	t.Run("closed context is a driver fault", func(t *testing.T) {
		drv := snapshot.New().Route("https://chat.test/auth", `<html></html>`)
		require.NoError(t, drv.Close(ctx))

		err := g.Navigate(ctx, drv, "https://chat.test/auth")

		assert.True(t, apperr.HasCode(err, apperr.CodeDriverFault), err)
	})
}
