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
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Dialog is one entry of the conversation list. It is only valid while the
// list it was read from is still rendered.
type Dialog struct {
	Index              int
	HasUnreadIndicator bool
	PreviewText        string
	Activation         ports.Element
}

// ChooseDialog returns the first dialog with an unread indicator, else the first dialog.
func ChooseDialog(dialogs []Dialog) (Dialog, bool) {
	if len(dialogs) == 0 {
		return Dialog{}, false
	}

	for _, d := range dialogs {
		if d.HasUnreadIndicator {
			return d, true
		}
	}

	return dialogs[0], true
}

type LocateDialog struct {
	base
}

func NewLocateDialog(params Params) *LocateDialog {
	return &LocateDialog{base: newBase(params, "LocateDialog")}
}

func (l *LocateDialog) Name() entity.ActionName {
	return entity.ActionLocateDialog
}

func (l *LocateDialog) Execute(ctx context.Context, s *session.Session, tr *tracker.Tracker) (out entity.ActionOutcome, err error) {
	const op = "LocateDialog"
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

func (l *LocateDialog) run(ctx context.Context, step *tracing.Span, logger *zap.Logger, s *session.Session, tr *tracker.Tracker) (result, error) {
	const op = "LocateDialog"
	drv := s.Driver()
	target := l.config.TargetConfig

	step.AddEvent("opening conversation list")

	if err := l.navigate(ctx, logger, drv, tr, target.URL(target.ContactListPath)); err != nil {
		return result{}, err
	}
	if err := l.governor.Settle(ctx, governor.SettlePageLoad); err != nil {
		return result{}, settleErr(op, err)
	}
	if _, err := tr.Sync(ctx); err != nil {
		return result{}, err
	}

	dialogs, err := l.Enumerate(ctx, drv)
	if err != nil {
		return result{}, err
	}

	chosen, _ := ChooseDialog(dialogs)

	logger.Info("Dialog chosen",
		zap.Int("index", chosen.Index),
		zap.Bool("unread", chosen.HasUnreadIndicator),
		zap.Int("scanned", len(dialogs)),
	)
	step.SetAttributes(attribute.Int("dialog_index", chosen.Index), attribute.Bool("unread", chosen.HasUnreadIndicator))

	// Without an unread marker the first entry is a guess; force past overlays.
	opts := ports.ClickOptions{Force: !chosen.HasUnreadIndicator}
	if err := chosen.Activation.Click(ctx, opts); err != nil {
		return result{}, interaction(op, "activate_dialog_failed", chosen.Activation.Describe(), err)
	}
	if err := l.governor.Settle(ctx, governor.SettleAction); err != nil {
		return result{}, settleErr(op, err)
	}

	evidence := fmt.Sprintf("dialog #%d (unread=%t)", chosen.Index, chosen.HasUnreadIndicator)
	if chosen.PreviewText != "" {
		evidence += ": " + chosen.PreviewText
	}

	err = l.governor.Poll(ctx, l.governor.Policy().VerifyTimeout, func(ctx context.Context) (bool, error) {
		state, err := tr.Sync(ctx)
		if err != nil {
			return false, err
		}

		return state.Phase == entity.PhaseOnConversation, nil
	})
	if errors.Is(err, governor.ErrExpired) {
		logger.Warn("Conversation view not confirmed", zap.String(logg.Phase, string(tr.Phase())))

		return unconfirmed(evidence + "; conversation view not observed"), nil
	}
	if err != nil {
		return result{}, err
	}

	return succeeded(evidence), nil
}

// Enumerate reads at most the configured number of dialog entries, in document order.
func (l *LocateDialog) Enumerate(ctx context.Context, scope ports.Scope) ([]Dialog, error) {
	const op = "EnumerateDialogs"

	entries, err := l.find(ctx, scope, selector.TargetDialogEntry)
	if err != nil {
		return nil, err
	}
	if !entries.Found {
		return nil, entries.Err(op)
	}

	limit := min(len(entries.Elements), l.config.TimingConfig.DialogScanLimit)
	dialogs := make([]Dialog, 0, limit)

	for i, entry := range entries.Elements[:limit] {
		unread, err := l.probe(ctx, entry, selector.TargetUnreadIndicator)
		if err != nil {
			return nil, err
		}

		activation := entry
		inner, err := l.probe(ctx, entry, selector.TargetDialogActivation)
		if err != nil {
			return nil, err
		}
		if inner.Found {
			activation = inner.Element
		}

		preview, err := entry.Text(ctx)
		if err != nil {
			if apperr.HasCode(err, apperr.CodeDriverFault) {
				return nil, err
			}
			preview = ""
		}

		dialogs = append(dialogs, Dialog{
			Index:              i,
			HasUnreadIndicator: unread.Found,
			PreviewText:        strings.Join(strings.Fields(preview), " "),
			Activation:         activation,
		})
	}

	return dialogs, nil
}
