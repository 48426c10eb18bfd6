// Package observer provides OTEL-based observability for the gateway's LLM
// calls, model selection, step execution, and work queue dispatch. It wraps
// provider.Provider with an instrumented decorator and exposes counters and
// histograms the Step Executor (C8), Model Selector (C5), and Work Queue
// (C10) record against directly. Export target is configured entirely via
// standard OTEL env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.).
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

	gatewaylog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nevindra/taskgate/observer"

// Instruments holds every OTEL instrument the gateway's wrappers record
// against.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger gatewaylog.Logger

	TokenUsage  metric.Int64Counter
	CostTotal   metric.Float64Counter
	LLMRequests metric.Int64Counter
	LLMDuration metric.Float64Histogram

	SelectorDuration  metric.Float64Histogram
	SelectorRejects   metric.Int64Counter
	StepDuration      metric.Float64Histogram
	QueueItemsHandled metric.Int64Counter
	QueueItemDuration metric.Float64Histogram

	Cost *CostCalculator
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP
// exporters. Returns a shutdown function that must be called on application
// exit. costLookup resolves a model ID to its cached pricing for the
// CostCalculator (C4's actual-cost formula, reused here for metrics).
func Init(ctx context.Context, costLookup CostLookup) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("taskgate")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

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

	inst, err := newInstruments(costLookup)
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

func newInstruments(costLookup CostLookup) (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	tokenUsage, err := meter.Int64Counter("llm.token.usage",
		metric.WithDescription("Total tokens consumed"), metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}
	costTotal, err := meter.Float64Counter("llm.cost.total",
		metric.WithDescription("Cumulative LLM cost in USD"), metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}
	llmRequests, err := meter.Int64Counter("llm.requests",
		metric.WithDescription("LLM request count"), metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	llmDuration, err := meter.Float64Histogram("llm.duration",
		metric.WithDescription("LLM call duration"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	selectorDuration, err := meter.Float64Histogram("selector.duration",
		metric.WithDescription("Model Selector scoring+pick duration"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	selectorRejects, err := meter.Int64Counter("selector.no_suitable_model",
		metric.WithDescription("Selector calls that found zero candidates"), metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}
	stepDuration, err := meter.Float64Histogram("step.duration",
		metric.WithDescription("Step Executor/Reevaluator wall-clock duration"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	queueItemsHandled, err := meter.Int64Counter("queue.items_handled",
		metric.WithDescription("Work queue items dispatched"), metric.WithUnit("{item}"))
	if err != nil {
		return nil, err
	}
	queueItemDuration, err := meter.Float64Histogram("queue.item_duration",
		metric.WithDescription("Work queue item dispatch duration"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:            tracer,
		Meter:             meter,
		Logger:            logger,
		TokenUsage:        tokenUsage,
		CostTotal:         costTotal,
		LLMRequests:       llmRequests,
		LLMDuration:       llmDuration,
		SelectorDuration:  selectorDuration,
		SelectorRejects:   selectorRejects,
		StepDuration:      stepDuration,
		QueueItemsHandled: queueItemsHandled,
		QueueItemDuration: queueItemDuration,
		Cost:              NewCostCalculator(costLookup),
	}, nil
}
