package tracing

import (
	"chat-autopilot/pkg/apperr"
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Span struct {
	span   trace.Span
	logger *zap.Logger
	ctx    context.Context
	name   string
}

func StartSpan(ctx context.Context, tracer trace.Tracer, logger *zap.Logger, name string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))

	return ctx, &Span{
		span:   span,
		logger: logger,
		ctx:    ctx,
		name:   name,
	}
}

// End closes the span. Errors carrying an apperr code are tagged with it so
// soft failures can be told apart from driver faults in the exported trace.
func (s *Span) End(err error) {
	if err != nil {
		if code := apperr.CodeOf(err); code != "" {
			s.span.SetAttributes(attribute.String("error.code", code))
		}
		s.span.SetStatus(codes.Error, err.Error())
		s.span.RecordError(err)
	} else {
		s.span.SetStatus(codes.Ok, "")
	}

	s.span.End()
}

func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))

	if s.logger != nil && s.logger.Core().Enabled(zap.DebugLevel) {
		s.logger.Debug(name, zap.String("span", s.name))
	}
}

func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

func (s *Span) Context() context.Context {
	return s.ctx
}
