package session

import (
	"chat-autopilot/internal/config"
	"chat-autopilot/internal/entity"
	"chat-autopilot/internal/ports"
	"chat-autopilot/pkg/apperr"
	"chat-autopilot/pkg/logg"
	"chat-autopilot/pkg/tracing"
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	sessionName   = "Session"
	sessionTracer = "engine.session"
)

// Session is one isolated browsing context. It is owned by a single run and
// its driver is closed exactly once.
type Session struct {
	ID       uuid.UUID
	Identity string

	driver ports.Driver
	logger *zap.Logger

	mu            sync.Mutex
	authenticated bool

	closeOnce sync.Once
	closed    bool
	closeErr  error
}

// New wraps an already opened driver.
func New(drv ports.Driver, identity string, logger *zap.Logger) *Session {
	id := uuid.New()

	return &Session{
		ID:       id,
		Identity: identity,
		driver:   drv,
		logger:   logger.With(zap.String(logg.Layer, sessionName), zap.String(logg.SessionID, id.String())),
	}
}

func (s *Session) Driver() ports.Driver {
	return s.driver
}

func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.authenticated
}

func (s *Session) SetAuthenticated(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authenticated = v
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// Close releases the browsing context. Later calls return the first result.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		err := s.driver.Close(context.WithoutCancel(ctx))

		s.mu.Lock()
		s.closed = true
		s.closeErr = err
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("Failed to close browsing context", zap.Error(err))
			return
		}
		s.logger.Debug("Browsing context closed")
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closeErr
}

type Opener struct {
	factory ports.DriverFactory
	config  *config.Config
	logger  *zap.Logger
	tracer  trace.Tracer
}

type Params struct {
	fx.In

	Factory ports.DriverFactory
	Config  *config.Config
	Logger  *zap.Logger
}

func NewOpener(params Params) *Opener {
	return &Opener{
		factory: params.Factory,
		config:  params.Config,
		logger:  params.Logger,
		tracer:  otel.Tracer(sessionTracer),
	}
}

// Identity names the account a session acts for. Cookie jars and run
// history are kept per identity.
func Identity(cfg *config.Config) string {
	return cfg.TargetConfig.Login
}

// Options maps the browser configuration onto driver session options.
func Options(cfg *config.Config, cookies []entity.Cookie) entity.SessionOptions {
	b := cfg.BrowserConfig

	return entity.SessionOptions{
		Identity:       Identity(cfg),
		UserAgent:      b.UserAgent,
		ViewportWidth:  b.ViewportWidth,
		ViewportHeight: b.ViewportHeight,
		Locale:         b.Locale,
		Timezone:       b.Timezone,
		Cookies:        cookies,
	}
}

// Open starts a browsing context seeded with cookies.
func (o *Opener) Open(ctx context.Context, cookies []entity.Cookie) (_ *Session, err error) {
	const op = "OpenSession"
	logger := o.logger.With(zap.String(logg.Layer, sessionName), zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, o.tracer, logger, op, attribute.Int("cookies", len(cookies)))
	defer func() {
		step.End(err)
	}()

	opts := Options(o.config, cookies)

	drv, err := o.factory.Open(ctx, opts)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeDriverFault) {
			return nil, err
		}

		return nil, apperr.DriverFault(op, err)
	}

	s := New(drv, opts.Identity, o.logger)

	logger.Info("Browsing context opened",
		zap.String(logg.SessionID, s.ID.String()), zap.Int("cookies", len(cookies)))

	return s, nil
}
