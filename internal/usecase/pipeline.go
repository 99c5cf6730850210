package usecase

import (
	"chat-autopilot/internal/action"
	"chat-autopilot/internal/config"
	"chat-autopilot/internal/entity"
	"chat-autopilot/internal/ports"
	"chat-autopilot/internal/session"
	"chat-autopilot/internal/tracker"
	"chat-autopilot/pkg/apperr"
	"chat-autopilot/pkg/logg"
	"chat-autopilot/pkg/tracing"
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	pipelineName   = "Pipeline"
	pipelineTracer = "engine.pipeline"
)

// Pipeline runs the executors in their fixed order against one session.
type Pipeline struct {
	config    *config.Config
	opener    *session.Opener
	trackers  *tracker.Factory
	store     ports.SessionStore
	executors []action.Executor
	logger    *zap.Logger
	tracer    trace.Tracer
}

type PipelineParams struct {
	Config    *config.Config
	Opener    *session.Opener
	Trackers  *tracker.Factory
	Store     ports.SessionStore
	Executors []action.Executor
	Logger    *zap.Logger
}

func NewPipeline(params PipelineParams) *Pipeline {
	return &Pipeline{
		config:    params.Config,
		opener:    params.Opener,
		trackers:  params.Trackers,
		store:     params.Store,
		executors: params.Executors,
		logger:    params.Logger.With(zap.String(logg.Layer, pipelineName)),
		tracer:    otel.Tracer(pipelineTracer),
	}
}

// Run executes one full run and always returns a summary. The error is the
// driver fault that aborted the run, if any.
func (p *Pipeline) Run(ctx context.Context) (summary *entity.RunSummary, err error) {
	const op = "Run"

	summary = &entity.RunSummary{
		RunID:     uuid.New(),
		Identity:  session.Identity(p.config),
		UserAgent: p.config.BrowserConfig.UserAgent,
		StartedAt: time.Now(),
	}

	logger := p.logger.With(zap.String(logg.Operation, op), zap.String(logg.RunID, summary.RunID.String()))

	ctx, step := tracing.StartSpan(ctx, p.tracer, logger, op, attribute.String("run_id", summary.RunID.String()))
	defer func() {
		step.SetAttributes(
			attribute.Bool("succeeded", summary.Succeeded),
			attribute.String("abort_kind", summary.AbortKind),
		)
		step.End(err)
	}()

	if timeout := p.config.AppConfig.RunTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer p.finish(ctx, logger, summary)

	if ctx.Err() != nil {
		p.abort(summary, apperr.CodeCancelled, 0)
		return summary, nil
	}

	cookies := p.restoreCookies(ctx, logger, summary.Identity)

	s, err := p.opener.Open(ctx, cookies)
	if err != nil {
		logger.Error("Failed to open session", zap.Error(err))
		p.abort(summary, apperr.CodeDriverFault, 0)

		return summary, err
	}
	defer func() {
		if cerr := s.Close(ctx); cerr != nil {
			logger.Warn("Session close failed", zap.Error(cerr))
		}
	}()

	tr := p.trackers.New(s.Driver())

	for i, ex := range p.executors {
		if ctx.Err() != nil {
			logger.Warn("Run cancelled", zap.Error(ctx.Err()))
			p.abort(summary, apperr.CodeCancelled, i)

			break
		}

		step.AddEvent("executing action", attribute.String("action", string(ex.Name())))

		out, execErr := p.execute(ctx, ex, s, tr)
		summary.Outcomes = append(summary.Outcomes, out)

		logger.Info("Action finished",
			zap.String(logg.Action, string(out.Action)),
			zap.String("status", string(out.Status)),
			zap.String(logg.Code, out.ErrorKind),
			zap.Duration("duration", out.Duration),
		)

		if execErr != nil {
			err = execErr
			logger.Error("Driver fault, aborting run", zap.Error(execErr))
			p.abort(summary, apperr.CodeDriverFault, i+1)

			break
		}

		if ex.Name() == entity.ActionAuthenticate && !out.Succeeded {
			logger.Warn("Authentication failed, aborting run", zap.String(logg.Code, out.ErrorKind))
			p.abort(summary, out.ErrorKind, i+1)

			break
		}
	}

	summary.Anomalies = tr.Anomalies()
	summary.FinalState = tr.View()

	if s.Authenticated() && err == nil {
		p.persistCookies(ctx, logger, s)
	}

	summary.Succeeded = s.Authenticated() && !summary.Aborted

	return summary, err
}

// execute runs one executor, turning a panic into a driver fault.
func (p *Pipeline) execute(ctx context.Context, ex action.Executor, s *session.Session, tr *tracker.Tracker) (out entity.ActionOutcome, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Executor panicked",
				zap.String(logg.Action, string(ex.Name())),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)

			err = apperr.DriverFault(string(ex.Name()), fmt.Errorf("panic: %v", r))
			out = entity.ActionOutcome{
				Action:    ex.Name(),
				Status:    entity.OutcomeFailed,
				ErrorKind: apperr.CodeDriverFault,
				Evidence:  err.Error(),
				StartedAt: start,
				Duration:  time.Since(start),
			}
		}
	}()

	return ex.Execute(ctx, s, tr)
}

// abort marks the run aborted and lists executors from index next on as skipped.
func (p *Pipeline) abort(summary *entity.RunSummary, kind string, next int) {
	summary.Aborted = true
	summary.AbortKind = kind

	for _, ex := range p.executors[next:] {
		summary.Skipped = append(summary.Skipped, ex.Name())
	}
}

func (p *Pipeline) restoreCookies(ctx context.Context, logger *zap.Logger, identity string) []entity.Cookie {
	if !p.config.SessionConfig.PersistCookies {
		return nil
	}

	cookies, err := p.store.LoadCookies(ctx, identity)
	if err != nil {
		logger.Warn("Failed to load stored cookies", zap.Error(err))
		return nil
	}

	return cookies
}

func (p *Pipeline) persistCookies(ctx context.Context, logger *zap.Logger, s *session.Session) {
	if !p.config.SessionConfig.PersistCookies {
		return
	}

	ctx = context.WithoutCancel(ctx)

	cookies, err := s.Driver().Cookies(ctx)
	if err != nil {
		logger.Warn("Failed to read cookies", zap.Error(err))
		return
	}

	if err := p.store.SaveCookies(ctx, s.Identity, cookies); err != nil {
		logger.Warn("Failed to store cookies", zap.Error(err))
	}
}

func (p *Pipeline) finish(ctx context.Context, logger *zap.Logger, summary *entity.RunSummary) {
	summary.FinishedAt = time.Now()

	if err := p.store.SaveRun(context.WithoutCancel(ctx), summary); err != nil {
		logger.Warn("Failed to store run summary", zap.Error(err))
	}

	logger.Info("Run finished",
		zap.Bool("succeeded", summary.Succeeded),
		zap.Bool("aborted", summary.Aborted),
		zap.String("abort_kind", summary.AbortKind),
		zap.Int("outcomes", len(summary.Outcomes)),
		zap.Int("anomalies", len(summary.Anomalies)),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
	)
}
