// Package observer provides OTEL-based observability for the orchestration
// core: LLM calls, workflow step execution, event bus throughput, and pool
// occupancy. Users export to any OTEL-compatible backend by setting
// standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nevindra/cortex/observer"

// Instruments holds all OTEL instruments used by the observer wrappers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	// LLM
	TokenUsage  metric.Int64Counter
	CostTotal   metric.Float64Counter
	LLMRequests metric.Int64Counter
	LLMDuration metric.Float64Histogram

	// Orchestration
	EventsPublished metric.Int64Counter
	EventsProcessed metric.Int64Counter
	HandlerErrors   metric.Int64Counter
	StepExecutions  metric.Int64Counter
	StepDuration    metric.Float64Histogram
	ActiveMonitors  metric.Int64Gauge
	ActiveTasks     metric.Int64Gauge

	Cost *CostCalculator
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP exporters.
// Configuration comes from standard OTEL env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.).
// Returns a shutdown function that must be called on application exit.
func Init(ctx context.Context, pricing map[string]ModelPricing) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("cortex")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Trace provider
	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metric provider
	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	// Log provider
	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments(pricing)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

// NewInstruments builds instruments against the globally configured
// providers without installing exporters; used by tests and by hosts that
// configure OTEL themselves.
func NewInstruments(pricing map[string]ModelPricing) (*Instruments, error) {
	return newInstruments(pricing)
}

func newInstruments(pricing map[string]ModelPricing) (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	tokenUsage, err := meter.Int64Counter("llm.token.usage",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	costTotal, err := meter.Float64Counter("llm.cost.total",
		metric.WithDescription("Cumulative LLM cost in USD"),
		metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}

	llmRequests, err := meter.Int64Counter("llm.requests",
		metric.WithDescription("LLM request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	llmDuration, err := meter.Float64Histogram("llm.duration",
		metric.WithDescription("LLM call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	eventsPublished, err := meter.Int64Counter("bus.events.published",
		metric.WithDescription("Events published to the bus"),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, err
	}

	eventsProcessed, err := meter.Int64Counter("bus.events.processed",
		metric.WithDescription("Events drained by the delivery worker"),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, err
	}

	handlerErrors, err := meter.Int64Counter("bus.handler.errors",
		metric.WithDescription("Handler errors caught by the bus"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	stepExecutions, err := meter.Int64Counter("workflow.step.executions",
		metric.WithDescription("Workflow step execution count"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	stepDuration, err := meter.Float64Histogram("workflow.step.duration",
		metric.WithDescription("Workflow step execution duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	activeMonitors, err := meter.Int64Gauge("monitor.active",
		metric.WithDescription("Monitors currently running"),
		metric.WithUnit("{monitor}"))
	if err != nil {
		return nil, err
	}

	activeTasks, err := meter.Int64Gauge("background.active",
		metric.WithDescription("Background workflows currently tracked"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:          tracer,
		Meter:           meter,
		Logger:          logger,
		TokenUsage:      tokenUsage,
		CostTotal:       costTotal,
		LLMRequests:     llmRequests,
		LLMDuration:     llmDuration,
		EventsPublished: eventsPublished,
		EventsProcessed: eventsProcessed,
		HandlerErrors:   handlerErrors,
		StepExecutions:  stepExecutions,
		StepDuration:    stepDuration,
		ActiveMonitors:  activeMonitors,
		ActiveTasks:     activeTasks,
		Cost:            NewCostCalculator(pricing),
	}, nil
}

// ModelPricing is per-million-token pricing for one model.
type ModelPricing struct {
	Input  float64
	Output float64
}

// CostCalculator converts token usage into USD with the configured pricing
// table. Unknown models cost zero.
type CostCalculator struct {
	pricing map[string]ModelPricing
}

// NewCostCalculator creates a calculator over pricing.
func NewCostCalculator(pricing map[string]ModelPricing) *CostCalculator {
	return &CostCalculator{pricing: pricing}
}

// Calculate returns the USD cost of a call.
func (c *CostCalculator) Calculate(model string, inputTokens, outputTokens int) float64 {
	p, ok := c.pricing[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*p.Input + float64(outputTokens)/1e6*p.Output
}
