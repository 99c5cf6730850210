// Package action holds the four executors of a run. Each one locates its
// controls through the resolver, acts once, waits a fixed settle delay and
// verifies the effect through the page-state tracker.
package action

import (
	"chat-autopilot/internal/config"
	"chat-autopilot/internal/entity"
	"chat-autopilot/internal/governor"
	"chat-autopilot/internal/ports"
	"chat-autopilot/internal/selector"
	"chat-autopilot/internal/session"
	"chat-autopilot/internal/tracker"
	"chat-autopilot/pkg/apperr"
	"chat-autopilot/pkg/logg"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const actionTracer = "engine.action"

// Executor runs one action. The error is non-nil only for driver faults;
// every other failure is reported through the outcome.
type Executor interface {
	Name() entity.ActionName
	Execute(ctx context.Context, s *session.Session, tr *tracker.Tracker) (entity.ActionOutcome, error)
}

type Params struct {
	fx.In

	Config   *config.Config
	Resolver *selector.Resolver
	Governor *governor.Governor
	Table    *selector.Table
	Logger   *zap.Logger
}

type base struct {
	config   *config.Config
	resolver *selector.Resolver
	governor *governor.Governor
	table    *selector.Table
	logger   *zap.Logger
	tracer   trace.Tracer
}

func newBase(params Params, layer string) base {
	return base{
		config:   params.Config,
		resolver: params.Resolver,
		governor: params.Governor,
		table:    params.Table,
		logger:   params.Logger.With(zap.String(logg.Layer, layer)),
		tracer:   otel.Tracer(actionTracer),
	}
}

// find resolves target against scope within the element timeout.
func (b base) find(ctx context.Context, scope ports.Scope, target selector.Target) (selector.Result, error) {
	return b.resolver.Resolve(ctx, scope, b.table.MustStrategy(target), b.governor.Policy().ElementTimeout)
}

func (b base) probe(ctx context.Context, scope ports.Scope, target selector.Target) (selector.Result, error) {
	return b.resolver.Probe(ctx, scope, b.table.MustStrategy(target))
}

// navigate opens url through the governor. After a navigation timeout the
// phase is re-derived so the tracker reflects wherever the page ended up.
func (b base) navigate(ctx context.Context, logger *zap.Logger, drv ports.Driver, tr *tracker.Tracker, url string) error {
	err := b.governor.Navigate(ctx, drv, url)
	if err == nil || !apperr.HasCode(err, apperr.CodeNavigationTimeout) {
		return err
	}

	if _, serr := tr.Sync(ctx); serr != nil {
		if apperr.HasCode(serr, apperr.CodeDriverFault) {
			return serr
		}
		logger.Debug("Phase re-check after navigation timeout failed", zap.Error(serr))
	}

	return err
}

// result is what an executor body reports when it did not fail.
type result struct {
	status   entity.OutcomeStatus
	evidence string
}

func succeeded(evidence string) result {
	return result{status: entity.OutcomeSucceeded, evidence: evidence}
}

func unconfirmed(evidence string) result {
	return result{status: entity.OutcomeUnconfirmed, evidence: evidence}
}

// conclude turns an executor body's result into an outcome. Only driver
// faults escape as errors.
func conclude(name entity.ActionName, start time.Time, res result, err error) (entity.ActionOutcome, error) {
	out := entity.ActionOutcome{
		Action:    name,
		StartedAt: start,
		Duration:  time.Since(start),
	}

	if err != nil {
		out.Status = entity.OutcomeFailed
		out.Evidence = err.Error()
		out.ErrorKind = apperr.CodeOf(err)
		if out.ErrorKind == "" {
			out.ErrorKind = apperr.CodeInternal
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				out.ErrorKind = apperr.CodeCancelled
			}
		}
		out.Tried = apperr.Tried(err)

		if apperr.HasCode(err, apperr.CodeDriverFault) {
			return out, err
		}

		return out, nil
	}

	out.Status = res.status
	out.Evidence = res.evidence
	out.Succeeded = true
	if res.status == entity.OutcomeUnconfirmed {
		out.ErrorKind = apperr.CodeActionUnconfirmed
	}

	return out, nil
}

// interaction wraps a failed click or fill. Driver faults pass through untouched.
func interaction(op, reason, label string, err error) error {
	if apperr.HasCode(err, apperr.CodeDriverFault) {
		return err
	}

	return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
		apperr.MetaReason:   reason,
		apperr.MetaStage:    apperr.StageInteraction,
		apperr.MetaSelector: label,
	})
}

func settleErr(op string, err error) error {
	return apperr.Wrap(op, apperr.CodeCancelled, err, map[string]any{
		apperr.MetaStage: apperr.StageInteraction,
	})
}

// mergeTried concatenates label lists keeping the first occurrence of each label.
func mergeTried(lists ...[]string) []string {
	var out []string
	for _, list := range lists {
		for _, label := range list {
			if !slices.Contains(out, label) {
				out = append(out, label)
			}
		}
	}

	return out
}

func containsText(haystack, needle string) bool {
	h := strings.ToLower(strings.Join(strings.Fields(haystack), " "))
	n := strings.ToLower(strings.Join(strings.Fields(needle), " "))

	return n != "" && strings.Contains(h, n)
}
