package action

import (
	"chat-autopilot/internal/entity"
	"chat-autopilot/internal/governor"
	"chat-autopilot/internal/ports"
	"chat-autopilot/internal/selector"
	"chat-autopilot/internal/session"
	"chat-autopilot/internal/tracker"
	"chat-autopilot/pkg/apperr"
	"chat-autopilot/pkg/logg"
	"chat-autopilot/pkg/tracing"
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type Authenticate struct {
	base
}

func NewAuthenticate(params Params) *Authenticate {
	return &Authenticate{base: newBase(params, "Authenticate")}
}

func (a *Authenticate) Name() entity.ActionName {
	return entity.ActionAuthenticate
}

func (a *Authenticate) Execute(ctx context.Context, s *session.Session, tr *tracker.Tracker) (out entity.ActionOutcome, err error) {
	const op = "Authenticate"
	logger := a.logger.With(zap.String(logg.Operation, op), zap.String(logg.SessionID, s.ID.String()))

	ctx, step := tracing.StartSpan(ctx, a.tracer, logger, op,
		attribute.String("identity", s.Identity))
	defer func() {
		step.SetAttributes(attribute.String("status", string(out.Status)))
		step.End(err)
	}()

	start := time.Now()
	res, runErr := a.run(ctx, step, logger, s, tr)

	return conclude(a.Name(), start, res, runErr)
}

func (a *Authenticate) run(ctx context.Context, step *tracing.Span, logger *zap.Logger, s *session.Session, tr *tracker.Tracker) (result, error) {
	const op = "Authenticate"
	drv := s.Driver()
	target := a.config.TargetConfig
	authURL := target.URL(target.AuthPath)

	if err := tr.Assert(ctx, entity.PhaseAuthenticating); err != nil {
		return result{}, err
	}

	step.AddEvent("opening login page")

	if err := a.navigate(ctx, logger, drv, tr, authURL); err != nil {
		return result{}, err
	}
	if err := a.governor.Settle(ctx, governor.SettleInteraction); err != nil {
		return result{}, settleErr(op, err)
	}

	// Restored cookies may already carry a live session.
	phase, url, ok, err := tr.Derive(ctx)
	if err != nil {
		return result{}, err
	}
	if ok && phase.SignedIn() {
		state, err := tr.Sync(ctx)
		if err != nil {
			return result{}, err
		}
		s.SetAuthenticated(true)
		logger.Info("Session restored from cookies", zap.String(logg.URL, url), zap.String(logg.Phase, string(state.Phase)))

		return succeeded("session restored from cookies at " + url), nil
	}

	step.AddEvent("locating login form")

	var (
		login, password, submit selector.Result
		tried                   []string
	)
	for _, f := range []struct {
		dst    *selector.Result
		target selector.Target
	}{
		{&login, selector.TargetLoginInput},
		{&password, selector.TargetPasswordInput},
		{&submit, selector.TargetSubmitControl},
	} {
		if *f.dst, err = a.find(ctx, drv, f.target); err != nil {
			return result{}, err
		}
		if !f.dst.Found {
			tried = f.dst.Tried
			break
		}
	}
	if tried != nil {
		return result{}, a.failure(ctx, op, drv, apperr.NotFoundError(op, tried), "login_form_missing")
	}

	step.AddEvent("submitting credentials")

	if err := login.Element.Fill(ctx, target.Login); err != nil {
		return result{}, interaction(op, "fill_login_failed", login.Label, err)
	}
	if err := a.governor.Settle(ctx, governor.SettleInteraction); err != nil {
		return result{}, settleErr(op, err)
	}
	if err := password.Element.Fill(ctx, target.Password); err != nil {
		return result{}, interaction(op, "fill_password_failed", password.Label, err)
	}
	if err := a.governor.Settle(ctx, governor.SettleInteraction); err != nil {
		return result{}, settleErr(op, err)
	}
	if err := submit.Element.Click(ctx, ports.ClickOptions{}); err != nil {
		return result{}, interaction(op, "submit_failed", submit.Label, err)
	}
	if err := a.governor.Settle(ctx, governor.SettleAction); err != nil {
		return result{}, settleErr(op, err)
	}

	step.AddEvent("waiting for authenticated evidence")

	err = a.governor.Poll(ctx, a.governor.Policy().NavigationTimeout, func(ctx context.Context) (bool, error) {
		phase, _, ok, err := tr.Derive(ctx)
		if err != nil {
			return false, err
		}

		return ok && phase.SignedIn(), nil
	})

	switch {
	case err == nil:
		state, err := tr.Sync(ctx)
		if err != nil {
			return result{}, err
		}
		s.SetAuthenticated(true)
		logger.Info("Authenticated", zap.String(logg.URL, state.URL), zap.String(logg.Phase, string(state.Phase)))

		return succeeded("authenticated at " + state.URL), nil
	case errors.Is(err, governor.ErrExpired):
		if _, err := tr.Sync(ctx); err != nil {
			return result{}, err
		}

		return result{}, a.failure(ctx, op, drv, errors.New("no authenticated evidence after submit"), "not_authenticated")
	default:
		return result{}, err
	}
}

// failure classifies a failed login: challenge markup wins over a plain login failure.
func (a *Authenticate) failure(ctx context.Context, op string, drv ports.Driver, cause error, reason string) error {
	challenge, err := a.probe(ctx, drv, selector.TargetChallenge)
	if err != nil {
		return err
	}

	if challenge.Found {
		return apperr.Wrap(op, apperr.CodeChallengeDetected,
			fmt.Errorf("anti-bot challenge present (%s): %s", challenge.Label, challenge.Element.Describe()),
			map[string]any{
				apperr.MetaReason:   "challenge_detected",
				apperr.MetaStage:    apperr.StageVerification,
				apperr.MetaSelector: challenge.Label,
			})
	}

	return apperr.Wrap(op, apperr.CodeLoginFailure, cause, map[string]any{
		apperr.MetaReason: reason,
		apperr.MetaStage:  apperr.StageVerification,
	})
}
