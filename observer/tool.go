package observer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stewardhq/steward"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// WrapSpecs returns instrumented copies of the given tool specs. Each
// Execute is wrapped with a tool.execute span, execution counters, and a
// structured log record.
func WrapSpecs(specs []steward.ToolSpec, inst *Instruments) []steward.ToolSpec {
	out := make([]steward.ToolSpec, len(specs))
	for i, spec := range specs {
		out[i] = spec
		out[i].Execute = wrapExecute(spec, inst)
	}
	return out
}

func wrapExecute(spec steward.ToolSpec, inst *Instruments) steward.ToolFunc {
	name := spec.Definition.Name
	risk := spec.Risk.String()
	inner := spec.Execute
	return func(ctx context.Context, args json.RawMessage) (steward.ToolResult, error) {
		ctx, span := inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
			AttrToolName.String(name),
			AttrToolRisk.String(risk),
		))
		defer span.End()
		start := time.Now()

		result, err := inner(ctx, args)

		durationMs := float64(time.Since(start).Milliseconds())
		status := "ok"
		if result.Error != "" {
			status = "tool_error"
		}
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.SetAttributes(
			AttrToolStatus.String(status),
			AttrToolResultLength.Int(len(result.Content)),
		)

		inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
			AttrToolName.String(name),
			attribute.String("status", status),
		))
		inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
			AttrToolName.String(name),
		))

		var rec otellog.Record
		rec.SetSeverity(otellog.SeverityInfo)
		rec.SetBody(otellog.StringValue("tool executed"))
		rec.AddAttributes(
			otellog.String("tool.name", name),
			otellog.String("tool.status", status),
			otellog.Int("tool.result_length", len(result.Content)),
			otellog.Float64("tool.duration_ms", durationMs),
		)
		inst.Logger.Emit(ctx, rec)

		return result, err
	}
}
