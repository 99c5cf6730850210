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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type SendReply struct {
	base
}

func NewSendReply(params Params) *SendReply {
	return &SendReply{base: newBase(params, "SendReply")}
}

func (r *SendReply) Name() entity.ActionName {
	return entity.ActionSendReply
}

func (r *SendReply) Execute(ctx context.Context, s *session.Session, tr *tracker.Tracker) (out entity.ActionOutcome, err error) {
	const op = "SendReply"
	logger := r.logger.With(zap.String(logg.Operation, op), zap.String(logg.SessionID, s.ID.String()))

	ctx, step := tracing.StartSpan(ctx, r.tracer, logger, op,
		attribute.Int("reply_length", len(r.config.TargetConfig.ReplyText)))
	defer func() {
		step.SetAttributes(attribute.String("status", string(out.Status)))
		step.End(err)
	}()

	start := time.Now()
	res, runErr := r.run(ctx, step, logger, s, tr)

	return conclude(r.Name(), start, res, runErr)
}

func (r *SendReply) run(ctx context.Context, step *tracing.Span, logger *zap.Logger, s *session.Session, tr *tracker.Tracker) (result, error) {
	const op = "SendReply"
	drv := s.Driver()
	reply := r.config.TargetConfig.ReplyText

	if _, err := tr.Sync(ctx); err != nil {
		return result{}, err
	}

	step.AddEvent("locating composer")

	input, err := r.find(ctx, drv, selector.TargetMessageInput)
	if err != nil {
		return result{}, err
	}
	if !input.Found {
		return result{}, input.Err(op)
	}

	send, err := r.find(ctx, drv, selector.TargetSendControl)
	if err != nil {
		return result{}, err
	}
	if !send.Found {
		return result{}, send.Err(op)
	}

	step.AddEvent("sending reply")

	if err := input.Element.Fill(ctx, reply); err != nil {
		return result{}, interaction(op, "fill_reply_failed", input.Label, err)
	}
	if err := r.governor.Settle(ctx, governor.SettleInteraction); err != nil {
		return result{}, settleErr(op, err)
	}
	if err := send.Element.Click(ctx, ports.ClickOptions{}); err != nil {
		return result{}, interaction(op, "send_click_failed", send.Label, err)
	}
	if err := r.governor.Settle(ctx, governor.SettleAction); err != nil {
		return result{}, settleErr(op, err)
	}
	if _, err := tr.Sync(ctx); err != nil {
		return result{}, err
	}

	step.AddEvent("verifying reply is rendered")

	err = r.governor.Poll(ctx, r.governor.Policy().VerifyTimeout, func(ctx context.Context) (bool, error) {
		return r.rendered(ctx, drv, reply)
	})
	if errors.Is(err, governor.ErrExpired) {
		logger.Warn("Reply not observed among rendered messages")

		return unconfirmed("reply sent via " + send.Label + " but not observed in the conversation"), nil
	}
	if err != nil {
		return result{}, err
	}

	return succeeded("reply rendered in conversation"), nil
}

// rendered reports whether any message item carries reply.
func (r *SendReply) rendered(ctx context.Context, scope ports.Scope, reply string) (bool, error) {
	items, err := r.probe(ctx, scope, selector.TargetMessageItem)
	if err != nil || !items.Found {
		return false, err
	}

	for _, item := range items.Elements {
		text, err := item.Text(ctx)
		if err != nil {
			if apperr.HasCode(err, apperr.CodeDriverFault) {
				return false, err
			}
			continue
		}
		if containsText(text, reply) {
			return true, nil
		}
	}

	return false, nil
}
