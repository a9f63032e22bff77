package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/aristath/pipelined"

// Tracer returns the engine's tracer from tp, or from the global provider
// when tp is nil.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName)
}

// Span attribute keys.
const (
	AttrRunID    = attribute.Key("pipelined.run_id")
	AttrPipeline = attribute.Key("pipelined.pipeline")
	AttrPhase    = attribute.Key("pipelined.phase")
	AttrModule   = attribute.Key("pipelined.module")
	AttrState    = attribute.Key("pipelined.state")
	AttrAttempts = attribute.Key("pipelined.attempts")
	AttrFallback = attribute.Key("pipelined.fallback")
)

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StartModuleSpan starts the span wrapping one module's settlement.
func StartModuleSpan(ctx context.Context, tracer trace.Tracer, runID, phase, module string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "module "+module, trace.WithAttributes(
		AttrRunID.String(runID),
		AttrPhase.String(phase),
		AttrModule.String(module),
	))
}
