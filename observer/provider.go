package observer

import (
	"context"
	"time"

	"github.com/stewardhq/steward"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps a steward.Provider with OTEL instrumentation.
// Each StreamTurn call becomes an llm.stream span carrying token usage
// and fragment counts, and feeds the token and duration instruments.
type ObservedProvider struct {
	inner steward.Provider
	inst  *Instruments
}

// WrapProvider returns an instrumented provider that emits traces,
// metrics, and logs.
func WrapProvider(inner steward.Provider, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) StreamTurn(ctx context.Context, req steward.ChatRequest, ch chan<- steward.Fragment) (steward.Usage, error) {
	spanAttrs := []trace.SpanStartOption{
		trace.WithAttributes(AttrLLMProvider.String(o.inner.Name())),
	}
	if len(req.Tools) > 0 {
		toolNames := make([]string, len(req.Tools))
		for i, t := range req.Tools {
			toolNames[i] = t.Name
		}
		spanAttrs = append(spanAttrs, trace.WithAttributes(
			AttrToolCount.Int(len(req.Tools)),
			AttrToolNames.StringSlice(toolNames),
		))
	}

	ctx, span := o.inst.Tracer.Start(ctx, "llm.stream", spanAttrs...)
	defer span.End()
	start := time.Now()

	// Count fragments in flight without buffering them.
	var fragments int
	counted := make(chan steward.Fragment)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(ch)
		for f := range counted {
			fragments++
			ch <- f
		}
	}()

	usage, err := o.inner.StreamTurn(ctx, req, counted)
	<-done

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
		AttrStreamFragments.Int(fragments),
	)

	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("token.type", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("token.type", "output"),
	))
	o.inst.ModelDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrLLMProvider.String(o.inner.Name()),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("model turn streamed"))
	rec.AddAttributes(
		otellog.String("llm.provider", o.inner.Name()),
		otellog.String("llm.status", status),
		otellog.Int("llm.tokens.input", usage.InputTokens),
		otellog.Int("llm.tokens.output", usage.OutputTokens),
		otellog.Int("llm.stream_fragments", fragments),
		otellog.Float64("llm.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return usage, err
}

var _ steward.Provider = (*ObservedProvider)(nil)
