// Package tracker keeps the current phase of the target application and only
// moves it along reachable transitions, deriving phases from URL and element
// evidence together.
package tracker

import (
	"chat-autopilot/internal/config"
	"chat-autopilot/internal/entity"
	"chat-autopilot/internal/governor"
	"chat-autopilot/internal/ports"
	"chat-autopilot/internal/selector"
	"chat-autopilot/pkg/apperr"
	"chat-autopilot/pkg/logg"
	"chat-autopilot/pkg/tracing"
	"context"
	"fmt"
	"regexp"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	trackerName   = "PageStateTracker"
	trackerTracer = "engine.tracker"
)

// rule derives a phase when the URL matches (nil matches any URL) and any evidence target resolves.
type rule struct {
	phase    entity.Phase
	url      *regexp.Regexp
	evidence []selector.Target
}

type Factory struct {
	resolver *selector.Resolver
	governor *governor.Governor
	table    *selector.Table
	rules    []rule
	logger   *zap.Logger
}

type Params struct {
	fx.In

	Config   *config.Config
	Resolver *selector.Resolver
	Governor *governor.Governor
	Table    *selector.Table
	Logger   *zap.Logger
}

func NewFactory(params Params) (*Factory, error) {
	patterns, err := CompilePatterns(params.Config.TargetConfig)
	if err != nil {
		return nil, err
	}

	return NewFactoryWithPatterns(patterns, params.Resolver, params.Governor, params.Table, params.Logger), nil
}

func NewFactoryWithPatterns(
	p Patterns,
	resolver *selector.Resolver,
	gov *governor.Governor,
	table *selector.Table,
	logger *zap.Logger,
) *Factory {
	return &Factory{
		resolver: resolver,
		governor: gov,
		table:    table,
		logger:   logger,
		rules: []rule{
			{entity.PhaseUnauthenticated, p.Auth, []selector.Target{selector.TargetLoginInput}},
			{entity.PhaseOnConversation, p.Conversation, []selector.Target{selector.TargetMessageInput}},
			{entity.PhaseOnContactList, p.ContactList, []selector.Target{selector.TargetDialogEntry}},
			{entity.PhaseOnDiscoveryPage, p.Discovery, []selector.Target{selector.TargetProfileLink, selector.TargetLikeControl}},
			{entity.PhaseAuthenticated, nil, []selector.Target{selector.TargetAuthShell}},
			{entity.PhaseUnauthenticated, nil, []selector.Target{selector.TargetLoginInput}},
		},
	}
}

// New returns a tracker for one browsing context, starting Unauthenticated.
func (f *Factory) New(drv ports.Driver) *Tracker {
	return &Tracker{
		factory: f,
		driver:  drv,
		state:   entity.PageState{Phase: entity.PhaseUnauthenticated, ObservedAt: time.Now()},
		logger:  f.logger.With(zap.String(logg.Layer, trackerName)),
		tracer:  otel.Tracer(trackerTracer),
	}
}

type Tracker struct {
	factory *Factory
	driver  ports.Driver

	mu        sync.Mutex
	state     entity.PageState
	anomalies []entity.Anomaly

	logger *zap.Logger
	tracer trace.Tracer
}

// View returns a copy of the current state.
func (t *Tracker) View() entity.PageState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

func (t *Tracker) Phase() entity.Phase {
	return t.View().Phase
}

func (t *Tracker) Anomalies() []entity.Anomaly {
	t.mu.Lock()
	defer t.mu.Unlock()

	return slices.Clone(t.anomalies)
}

// Derive reads the phase the live document is in without changing the tracker.
// ok is false when no rule matched.
func (t *Tracker) Derive(ctx context.Context) (phase entity.Phase, url string, ok bool, err error) {
	const op = "Derive"

	url, err = t.driver.URL(ctx)
	if err != nil {
		return "", "", false, wrapDriverErr(op, err)
	}

	for _, r := range t.factory.rules {
		if r.url != nil && !r.url.MatchString(url) {
			continue
		}

		for _, target := range r.evidence {
			res, err := t.factory.resolver.Probe(ctx, t.driver, t.factory.table.MustStrategy(target))
			if err != nil {
				return "", url, false, err
			}
			if res.Found {
				return r.phase, url, true, nil
			}
		}
	}

	return "", url, false, nil
}

// Sync re-derives the phase and applies it when reachable. An unreachable
// derivation is recorded as an anomaly and re-derived once after the recheck
// delay; the phase stays unchanged unless that second reading is reachable.
func (t *Tracker) Sync(ctx context.Context) (state entity.PageState, err error) {
	const op = "Sync"
	logger := t.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, t.tracer, logger, op)
	defer func() {
		step.SetAttributes(attribute.String("phase", string(state.Phase)))
		step.End(err)
	}()

	phase, url, ok, err := t.Derive(ctx)
	if err != nil {
		return t.View(), err
	}
	if !ok {
		step.AddEvent("indeterminate evidence, phase kept")
		return t.observe(url), nil
	}

	from := t.Phase()
	if Reachable(from, phase) {
		return t.apply(phase, url), nil
	}

	anomaly, err := t.recheck(ctx, logger, from, phase, url)
	if err != nil {
		return t.View(), err
	}

	if anomaly.Recheck != "" && Reachable(from, anomaly.Recheck) {
		anomaly.Resolved = true
		state = t.apply(anomaly.Recheck, anomaly.URL)
	} else {
		state = t.View()
	}

	t.record(logger, anomaly)

	return state, nil
}

// Assert moves the tracker to phase when reachable. Otherwise the state is left
// untouched, an anomaly (with one re-check reading) is recorded and a
// state_inconsistency error is returned.
func (t *Tracker) Assert(ctx context.Context, phase entity.Phase) (err error) {
	const op = "Assert"
	logger := t.logger.With(zap.String(logg.Operation, op), zap.String(logg.Phase, string(phase)))

	ctx, step := tracing.StartSpan(ctx, t.tracer, logger, op, attribute.String("phase", string(phase)))
	defer func() {
		step.End(err)
	}()

	from := t.Phase()
	if Reachable(from, phase) {
		url, err := t.driver.URL(ctx)
		if err != nil {
			return wrapDriverErr(op, err)
		}
		t.apply(phase, url)

		return nil
	}

	url, _ := t.driver.URL(ctx)

	anomaly, err := t.recheck(ctx, logger, from, phase, url)
	if err != nil {
		return err
	}
	t.record(logger, anomaly)

	return apperr.Wrap(op, apperr.CodeStateInconsistency,
		fmt.Errorf("%s is not reachable from %s", phase, from),
		map[string]any{
			apperr.MetaReason: "unreachable_phase",
			apperr.MetaStage:  apperr.StagePageState,
			apperr.MetaPhase:  string(phase),
			apperr.MetaURL:    url,
		})
}

func (t *Tracker) recheck(ctx context.Context, logger *zap.Logger, from, attempted entity.Phase, url string) (entity.Anomaly, error) {
	anomaly := entity.Anomaly{
		From:       from,
		Attempted:  attempted,
		URL:        url,
		ObservedAt: time.Now(),
	}

	logger.Debug("Unreachable phase, re-checking",
		zap.String("from", string(from)), zap.String("attempted", string(attempted)))

	if err := t.factory.governor.Settle(ctx, governor.SettleRecheck); err != nil {
		return anomaly, apperr.Wrap("Recheck", apperr.CodeCancelled, err, map[string]any{
			apperr.MetaStage: apperr.StagePageState,
		})
	}

	phase, recheckURL, ok, err := t.Derive(ctx)
	if err != nil {
		return anomaly, err
	}
	if ok {
		anomaly.Recheck = phase
		anomaly.URL = recheckURL
	}

	return anomaly, nil
}

func (t *Tracker) record(logger *zap.Logger, a entity.Anomaly) {
	t.mu.Lock()
	t.anomalies = append(t.anomalies, a)
	t.mu.Unlock()

	logger.Warn("Page state inconsistency",
		zap.String("from", string(a.From)),
		zap.String("attempted", string(a.Attempted)),
		zap.String("recheck", string(a.Recheck)),
		zap.Bool("resolved", a.Resolved),
		zap.String(logg.URL, a.URL),
	)
}

func (t *Tracker) apply(phase entity.Phase, url string) entity.PageState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Phase != phase {
		t.logger.Debug("Phase transition",
			zap.String("from", string(t.state.Phase)), zap.String("to", string(phase)), zap.String(logg.URL, url))
	}

	t.state = entity.PageState{URL: url, Phase: phase, ObservedAt: time.Now()}

	return t.state
}

func (t *Tracker) observe(url string) entity.PageState {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.URL = url
	t.state.ObservedAt = time.Now()

	return t.state
}

func wrapDriverErr(op string, err error) error {
	if apperr.HasCode(err, apperr.CodeDriverFault) {
		return err
	}

	return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
		apperr.MetaStage: apperr.StagePageState,
	})
}
