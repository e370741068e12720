package observer

import (
	"context"
	"time"

	cortex "github.com/nevindra/cortex"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps a cortex.ChatProvider with OTEL instrumentation.
type ObservedProvider struct {
	inner cortex.ChatProvider
	inst  *Instruments
	model string
	name  string
}

// WrapProvider returns an instrumented provider that emits traces, metrics,
// and logs for every Complete and Stream call.
func WrapProvider(inner cortex.ChatProvider, providerName, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, model: model, name: providerName}
}

var _ cortex.ChatProvider = (*ObservedProvider)(nil)

// Complete instruments a full-response call.
func (o *ObservedProvider) Complete(ctx context.Context, req cortex.ChatRequest) (cortex.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.name),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Complete(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.record(ctx, span, "complete", status, durationMs, resp.Usage)
	return resp, err
}

// Stream instruments a streamed call, counting chunks as they pass.
func (o *ObservedProvider) Stream(ctx context.Context, req cortex.ChatRequest) (<-chan cortex.ChatChunk, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.stream", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.name),
	))
	start := time.Now()

	inner, err := o.inner.Stream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		o.record(ctx, span, "stream", "error", float64(time.Since(start).Milliseconds()), cortex.Usage{})
		return nil, err
	}

	out := make(chan cortex.ChatChunk)
	go func() {
		defer close(out)
		defer span.End()
		chunks := 0
		for chunk := range inner {
			chunks++
			out <- chunk
		}
		span.SetAttributes(AttrStreamChunks.Int(chunks))
		o.record(ctx, span, "stream", "ok", float64(time.Since(start).Milliseconds()), cortex.Usage{})
	}()
	return out, nil
}

func (o *ObservedProvider) record(ctx context.Context, span trace.Span, method, status string, durationMs float64, usage cortex.Usage) {
	cost := o.inst.Cost.Calculate(o.model, usage.InputTokens, usage.OutputTokens)

	attrs := metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.name),
		AttrLLMMethod.String(method),
	)

	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.name),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.name),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.name),
		AttrLLMMethod.String(method),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, attrs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("llm.provider", o.name),
		otellog.String("llm.method", method),
		otellog.Int("llm.tokens.input", usage.InputTokens),
		otellog.Int("llm.tokens.output", usage.OutputTokens),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}

// BusRecorder turns periodic EventBus stats snapshots into counter deltas;
// hosts call Record on a fixed cadence (the scheduler tick is a natural
// one).
type BusRecorder struct {
	inst *Instruments
	last cortex.Stats
}

// NewBusRecorder creates a recorder over inst.
func NewBusRecorder(inst *Instruments) *BusRecorder {
	return &BusRecorder{inst: inst}
}

// Record emits the delta since the previous snapshot.
func (r *BusRecorder) Record(ctx context.Context, stats cortex.Stats) {
	r.inst.EventsPublished.Add(ctx, stats.TotalPublished-r.last.TotalPublished)
	r.inst.EventsProcessed.Add(ctx, stats.TotalProcessed-r.last.TotalProcessed)
	r.inst.HandlerErrors.Add(ctx, stats.ProcessingErrors-r.last.ProcessingErrors)
	r.last = stats
}

// ObserveStep records one workflow step execution.
func ObserveStep(ctx context.Context, inst *Instruments, workflowType, stepID, status string, duration time.Duration) {
	inst.StepExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrWorkflowType.String(workflowType),
		AttrStepID.String(stepID),
		AttrStepStatus.String(status),
	))
	inst.StepDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		AttrWorkflowType.String(workflowType),
		AttrStepID.String(stepID),
	))
}
