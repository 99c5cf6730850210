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

var errLikeControlGone = errors.New("like control no longer rendered")

type LikeProfile struct {
	base
}

func NewLikeProfile(params Params) *LikeProfile {
	return &LikeProfile{base: newBase(params, "LikeProfile")}
}

func (l *LikeProfile) Name() entity.ActionName {
	return entity.ActionLikeProfile
}

func (l *LikeProfile) Execute(ctx context.Context, s *session.Session, tr *tracker.Tracker) (out entity.ActionOutcome, err error) {
	const op = "LikeProfile"
	logger := l.logger.With(zap.String(logg.Operation, op), zap.String(logg.SessionID, s.ID.String()))

	ctx, step := tracing.StartSpan(ctx, l.tracer, logger, op)
	defer func() {
		step.SetAttributes(attribute.String("status", string(out.Status)))
		step.End(err)
	}()

	start := time.Now()
	res, runErr := l.run(ctx, step, logger, s, tr)

	return conclude(l.Name(), start, res, runErr)
}

func (l *LikeProfile) run(ctx context.Context, step *tracing.Span, logger *zap.Logger, s *session.Session, tr *tracker.Tracker) (result, error) {
	const op = "LikeProfile"
	drv := s.Driver()
	target := l.config.TargetConfig

	discoveryURL := target.URL(target.DiscoveryPath)

	step.AddEvent("opening discovery surface")

	if err := l.open(ctx, logger, drv, tr, discoveryURL); err != nil {
		return result{}, err
	}

	var tried [][]string

	// Path (a): open the first listed profile and like it there.
	profiles, err := l.find(ctx, drv, selector.TargetProfileLink)
	if err != nil {
		return result{}, err
	}
	if profiles.Found {
		step.AddEvent("opening profile", attribute.String("locator", profiles.Label))

		if err := profiles.Element.Click(ctx, ports.ClickOptions{}); err != nil {
			return result{}, interaction(op, "open_profile_failed", profiles.Label, err)
		}
		if err := l.governor.Settle(ctx, governor.SettlePageLoad); err != nil {
			return result{}, settleErr(op, err)
		}
		if _, err := tr.Sync(ctx); err != nil {
			return result{}, err
		}

		like, err := l.find(ctx, drv, selector.TargetLikeControl)
		if err != nil {
			return result{}, err
		}
		if like.Found {
			return l.likeAndVerify(ctx, logger, drv, tr, like, "profile page")
		}
		tried = append(tried, like.Tried)

		// The profile page was already searched; path (b) runs on the discovery surface.
		step.AddEvent("returning to discovery surface")

		if err := l.open(ctx, logger, drv, tr, discoveryURL); err != nil {
			return result{}, err
		}
	} else {
		tried = append(tried, profiles.Tried)
	}

	// Path (b): like controls rendered on the discovery surface.
	step.AddEvent("falling back to like controls on discovery surface")

	like, err := l.find(ctx, drv, selector.TargetLikeControl)
	if err != nil {
		return result{}, err
	}
	if like.Found {
		return l.likeAndVerify(ctx, logger, drv, tr, like, "discovery page")
	}
	tried = append(tried, like.Tried)

	return result{}, apperr.NotFoundError(op, mergeTried(tried...))
}

// open navigates to url and waits for the page to settle before re-deriving the phase.
func (l *LikeProfile) open(ctx context.Context, logger *zap.Logger, drv ports.Driver, tr *tracker.Tracker, url string) error {
	const op = "LikeProfile"

	if err := l.navigate(ctx, logger, drv, tr, url); err != nil {
		return err
	}
	if err := l.governor.Settle(ctx, governor.SettlePageLoad); err != nil {
		return settleErr(op, err)
	}
	_, err := tr.Sync(ctx)

	return err
}

func (l *LikeProfile) likeAndVerify(
	ctx context.Context,
	logger *zap.Logger,
	drv ports.Driver,
	tr *tracker.Tracker,
	like selector.Result,
	where string,
) (result, error) {
	const op = "LikeProfile"

	before, err := likeState(ctx, like.Element)
	if err != nil {
		return result{}, err
	}

	if err := like.Element.Click(ctx, ports.ClickOptions{}); err != nil {
		return result{}, interaction(op, "like_click_failed", like.Label, err)
	}
	if err := l.governor.Settle(ctx, governor.SettleInteraction); err != nil {
		return result{}, settleErr(op, err)
	}
	if _, err := tr.Sync(ctx); err != nil {
		return result{}, err
	}

	evidence := fmt.Sprintf("like on %s via %s", where, like.Label)

	after, err := likeState(ctx, like.Element)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeDriverFault) {
			return result{}, err
		}

		// The control was re-rendered; read its replacement.
		after, err = l.reread(ctx, drv)
		if err != nil {
			if apperr.HasCode(err, apperr.CodeDriverFault) {
				return result{}, err
			}
			logger.Warn("Like control state unreadable after click",
				zap.String(logg.Locator, like.Label), zap.Error(err))

			return unconfirmed(evidence + "; control state unreadable"), nil
		}
	}

	if after == before {
		logger.Warn("Like control state unchanged after click", zap.String(logg.Locator, like.Label))

		return unconfirmed(evidence + "; control state unchanged"), nil
	}

	logger.Info("Profile liked", zap.String(logg.Locator, like.Label), zap.String("where", where))

	return succeeded(evidence), nil
}

// reread reads the state of the like control currently rendered.
func (l *LikeProfile) reread(ctx context.Context, drv ports.Driver) (string, error) {
	again, err := l.probe(ctx, drv, selector.TargetLikeControl)
	if err != nil {
		return "", err
	}
	if !again.Found {
		return "", errLikeControlGone
	}

	return likeState(ctx, again.Element)
}

// likeState is the part of a like control that changes when it is toggled.
func likeState(ctx context.Context, el ports.Element) (string, error) {
	class, err := el.Attribute(ctx, "class")
	if err != nil {
		return "", err
	}
	pressed, err := el.Attribute(ctx, "aria-pressed")
	if err != nil {
		return "", err
	}

	return class + "|" + pressed, nil
}
