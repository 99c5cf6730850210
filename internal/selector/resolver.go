package selector

import (
	"chat-autopilot/internal/governor"
	"chat-autopilot/internal/ports"
	"chat-autopilot/pkg/apperr"
	"chat-autopilot/pkg/logg"
	"chat-autopilot/pkg/tracing"
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	resolverName   = "Resolver"
	resolverTracer = "engine.resolver"
)

// Result is either Found (Element, Elements and Label set) or NotFound (Tried set).
type Result struct {
	Found    bool
	Element  ports.Element
	Elements []ports.Element
	Label    string
	Tried    []string
}

// Err converts a NotFound result into an element_not_found error carrying the tried labels.
func (r Result) Err(op string) error {
	if r.Found {
		return nil
	}

	return apperr.NotFoundError(op, r.Tried)
}

type Resolver struct {
	governor       *governor.Governor
	locatorTimeout time.Duration
	logger         *zap.Logger
	tracer         trace.Tracer
}

type Params struct {
	fx.In

	Governor *governor.Governor
	Logger   *zap.Logger
}

func NewResolver(params Params) *Resolver {
	return New(params.Governor, params.Logger)
}

func New(gov *governor.Governor, logger *zap.Logger) *Resolver {
	return &Resolver{
		governor:       gov,
		locatorTimeout: gov.Policy().LocatorTimeout,
		logger:         logger.With(zap.String(logg.Layer, resolverName)),
		tracer:         otel.Tracer(resolverTracer),
	}
}

// Resolve tries every locator of s in declared order, polling until one yields
// at least one element or timeout elapses. A zero timeout probes once.
// The returned error is non-nil only for driver faults and cancellation.
func (r *Resolver) Resolve(ctx context.Context, scope ports.Scope, s Strategy, timeout time.Duration) (res Result, err error) {
	const op = "Resolve"
	logger := r.logger.With(zap.String(logg.Operation, op), zap.String(logg.Target, string(s.Target)))

	ctx, step := tracing.StartSpan(ctx, r.tracer, logger, op,
		attribute.String("target", string(s.Target)),
		attribute.Int("locators", len(s.Locators)),
		attribute.Int64("timeout_ms", timeout.Milliseconds()),
	)
	defer func() {
		step.SetAttributes(attribute.Bool("found", res.Found), attribute.String("label", res.Label))
		step.End(err)
	}()

	round := func(ctx context.Context) (bool, error) {
		found, err := r.round(ctx, logger, scope, s)
		if err != nil {
			return false, err
		}
		if found.Found {
			res = found
			return true, nil
		}

		return false, nil
	}

	if timeout <= 0 {
		_, err = round(ctx)
	} else {
		err = r.governor.Poll(ctx, timeout, round)
		if errors.Is(err, governor.ErrExpired) {
			err = nil
		}
	}

	if err != nil {
		if !apperr.HasCode(err, apperr.CodeDriverFault) {
			err = apperr.Wrap(op, apperr.CodeCancelled, err, map[string]any{
				apperr.MetaStage: apperr.StageResolution,
			})
		}

		return Result{}, err
	}

	if !res.Found {
		res = Result{Tried: s.Labels()}
		logger.Debug("Target not found", zap.Strings(logg.Tried, res.Tried))
	}

	return res, nil
}

// Probe is Resolve with a zero timeout.
func (r *Resolver) Probe(ctx context.Context, scope ports.Scope, s Strategy) (Result, error) {
	return r.Resolve(ctx, scope, s, 0)
}

func (r *Resolver) round(ctx context.Context, logger *zap.Logger, scope ports.Scope, s Strategy) (Result, error) {
	for _, loc := range s.Locators {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		elems, err := r.match(ctx, scope, loc)
		if err != nil {
			if apperr.HasCode(err, apperr.CodeDriverFault) {
				return Result{}, err
			}
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}

			logger.Debug("Locator query failed",
				zap.String(logg.Locator, loc.Label), zap.Error(err))

			continue
		}
		if len(elems) == 0 {
			continue
		}

		if s.Singular && len(elems) > 1 {
			logger.Debug("Ambiguous match, using first element",
				zap.String(logg.Locator, loc.Label), zap.Int("matches", len(elems)))
		}

		return Result{
			Found:    true,
			Element:  elems[0],
			Elements: elems,
			Label:    loc.Label,
		}, nil
	}

	return Result{}, nil
}

func (r *Resolver) match(ctx context.Context, scope ports.Scope, loc Locator) ([]ports.Element, error) {
	if r.locatorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.locatorTimeout)
		defer cancel()
	}

	elems, err := scope.QueryAll(ctx, loc.CSS())
	if err != nil {
		return nil, err
	}

	switch loc.Kind {
	case KindText:
		matched := make([]ports.Element, 0, len(elems))
		for _, el := range elems {
			text, err := el.Text(ctx)
			if err != nil {
				if apperr.HasCode(err, apperr.CodeDriverFault) {
					return nil, err
				}
				continue
			}
			if loc.matchText(text) {
				matched = append(matched, el)
			}
		}

		return matched, nil
	case KindStructural:
		if len(elems) < loc.MinCount {
			return nil, nil
		}
	}

	return elems, nil
}
