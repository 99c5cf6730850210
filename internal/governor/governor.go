// Package governor owns every timing decision of a run: navigation bounds,
// element-appearance polling with backoff and the fixed settle delays that
// follow causal actions. Nothing above it sleeps on its own.
package governor

import (
	"chat-autopilot/internal/config"
	"chat-autopilot/internal/ports"
	"chat-autopilot/pkg/apperr"
	"chat-autopilot/pkg/logg"
	"chat-autopilot/pkg/tracing"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	governorName   = "Governor"
	governorTracer = "engine.governor"

	readyStateScript = `document.readyState`
)

// ErrExpired is returned by Poll when the predicate never held within the bound.
var ErrExpired = errors.New("wait bound exceeded")

type Settle string

const (
	SettleInteraction Settle = "interaction"
	SettlePageLoad    Settle = "page_load"
	SettleAction      Settle = "action"
	SettleRecheck     Settle = "recheck"
)

type Policy struct {
	NavigationTimeout time.Duration
	ElementTimeout    time.Duration
	LocatorTimeout    time.Duration
	VerifyTimeout     time.Duration
	PollInterval      time.Duration
	MaxPollInterval   time.Duration
	BackoffFactor     float64
	InteractionDelay  time.Duration
	PageLoadDelay     time.Duration
	SettleDelay       time.Duration
	RecheckDelay      time.Duration
}

func PolicyFromConfig(cfg *config.Config) Policy {
	t := cfg.TimingConfig

	return Policy{
		NavigationTimeout: t.NavigationTimeout,
		ElementTimeout:    t.ElementTimeout,
		LocatorTimeout:    t.LocatorTimeout,
		VerifyTimeout:     t.VerifyTimeout,
		PollInterval:      t.PollInterval,
		MaxPollInterval:   t.MaxPollInterval,
		BackoffFactor:     t.BackoffFactor,
		InteractionDelay:  t.InteractionDelay,
		PageLoadDelay:     t.PageLoadDelay,
		SettleDelay:       t.SettleDelay,
		RecheckDelay:      t.RecheckDelay,
	}
}

type Governor struct {
	policy Policy
	logger *zap.Logger
	tracer trace.Tracer
}

type Params struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewGovernor(params Params) *Governor {
	return New(PolicyFromConfig(params.Config), params.Logger)
}

func New(policy Policy, logger *zap.Logger) *Governor {
	if policy.PollInterval <= 0 {
		policy.PollInterval = 100 * time.Millisecond
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = 1
	}

	return &Governor{
		policy: policy,
		logger: logger.With(zap.String(logg.Layer, governorName)),
		tracer: otel.Tracer(governorTracer),
	}
}

func (g *Governor) Policy() Policy {
	return g.policy
}

// Predicate reports whether the awaited condition holds. A non-nil error stops polling.
type Predicate func(ctx context.Context) (bool, error)

// Poll evaluates pred at least once and then on a growing interval until it
// holds, it fails, ctx ends, or timeout elapses (ErrExpired). A zero timeout
// evaluates pred exactly once.
func (g *Governor) Poll(ctx context.Context, timeout time.Duration, pred Predicate) error {
	attempts := 0
	operation := func() error {
		attempts++

		ok, err := pred(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrExpired
		}

		return nil
	}

	if timeout <= 0 {
		return operation()
	}

	err := backoff.Retry(operation, backoff.WithContext(g.backOff(timeout), ctx))
	if errors.Is(err, ErrExpired) {
		g.logger.Debug("Poll bound exceeded",
			zap.Int("attempts", attempts), zap.Duration("timeout", timeout))
	}

	return err
}

// backOff grows the poll interval by BackoffFactor up to MaxPollInterval and
// gives up once timeout has elapsed.
func (g *Governor) backOff(timeout time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.policy.PollInterval
	b.Multiplier = g.policy.BackoffFactor
	b.RandomizationFactor = 0
	if g.policy.MaxPollInterval > 0 {
		b.MaxInterval = max(g.policy.MaxPollInterval, b.InitialInterval)
	}
	b.MaxElapsedTime = timeout
	b.Reset()

	return &boundedBackOff{BackOff: b, deadline: time.Now().Add(timeout)}
}

// boundedBackOff shortens the last interval so pred gets one final reading at
// the bound instead of giving up a full interval early.
type boundedBackOff struct {
	backoff.BackOff
	deadline time.Time
}

func (b *boundedBackOff) NextBackOff() time.Duration {
	remaining := time.Until(b.deadline)
	if remaining <= 0 {
		return backoff.Stop
	}

	next := b.BackOff.NextBackOff()
	if next == backoff.Stop || next > remaining {
		return remaining
	}

	return next
}

// Settle blocks for the fixed delay configured for kind.
func (g *Governor) Settle(ctx context.Context, kind Settle) error {
	var d time.Duration

	switch kind {
	case SettleInteraction:
		d = g.policy.InteractionDelay
	case SettlePageLoad:
		d = g.policy.PageLoadDelay
	case SettleAction:
		d = g.policy.SettleDelay
	case SettleRecheck:
		d = g.policy.RecheckDelay
	default:
		return fmt.Errorf("unknown settle kind %q", kind)
	}

	return Sleep(ctx, d)
}

// Navigate loads url within the navigation bound and waits for the document
// to become interactive. Exceeding the bound yields CodeNavigationTimeout.
func (g *Governor) Navigate(ctx context.Context, drv ports.Driver, url string) (err error) {
	const op = "Navigate"
	logger := g.logger.With(zap.String(logg.Operation, op), zap.String(logg.URL, url))

	ctx, step := tracing.StartSpan(ctx, g.tracer, logger, op, attribute.String("url", url))
	defer func() {
		step.End(err)
	}()

	navCtx, cancel := context.WithTimeout(ctx, g.policy.NavigationTimeout)
	defer cancel()

	if err := drv.Navigate(navCtx, url); err != nil {
		if apperr.HasCode(err, apperr.CodeDriverFault) || apperr.HasCode(err, apperr.CodeNavigationTimeout) {
			return err
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return navigationTimeout(op, url, err)
		}

		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "goto_failed",
			apperr.MetaStage:  apperr.StageNavigation,
			apperr.MetaURL:    url,
		})
	}

	step.AddEvent("waiting for document ready")

	err = g.Poll(navCtx, g.policy.NavigationTimeout, func(ctx context.Context) (bool, error) {
		state, err := drv.Evaluate(ctx, readyStateScript)
		if err != nil {
			if apperr.HasCode(err, apperr.CodeDriverFault) {
				return false, err
			}

			// The execution context is routinely torn down mid-navigation.
			return false, nil
		}

		s, _ := state.(string)

		return s == "interactive" || s == "complete", nil
	})
	if errors.Is(err, ErrExpired) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
		return navigationTimeout(op, url, err)
	}

	return err
}

func navigationTimeout(op, url string, err error) error {
	return apperr.Wrap(op, apperr.CodeNavigationTimeout, err, map[string]any{
		apperr.MetaReason: "navigation_timeout",
		apperr.MetaStage:  apperr.StageNavigation,
		apperr.MetaURL:    url,
	})
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
