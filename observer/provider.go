package observer

import (
	"context"
	"time"

	"github.com/nevindra/taskgate/provider"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	gatewaylog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps a provider.Provider (C2) with OTEL instrumentation:
// every Complete/Stream call gets a span, token/cost counters, and a
// structured log record.
type ObservedProvider struct {
	inner provider.Provider
	inst  *Instruments
}

// WrapProvider returns an instrumented provider.Provider.
func WrapProvider(inner provider.Provider, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Complete(ctx context.Context, apiKey, model string, messages []provider.Message, additionalRequestedData map[string]string, temperature float64, cfg *provider.Config) (provider.AssistantMessage, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	msg, err := o.inner.Complete(ctx, apiKey, model, messages, additionalRequestedData, temperature, cfg)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.record(ctx, span, model, "complete", status, durationMs, msg.PromptTokens, msg.CompletionTokens)
	return msg, err
}

func (o *ObservedProvider) Stream(ctx context.Context, apiKey, model string, messages []provider.Message, additionalRequestedData map[string]string, temperature float64, cfg *provider.Config, ch chan<- provider.Chunk) (provider.AssistantMessage, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.stream", trace.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	wrapped := make(chan provider.Chunk, cap(ch))
	chunks := 0
	done := make(chan struct{})
	go func() {
		defer close(ch)
		defer close(done)
		for c := range wrapped {
			chunks++
			ch <- c
		}
	}()

	msg, err := o.inner.Stream(ctx, apiKey, model, messages, additionalRequestedData, temperature, cfg, wrapped)
	<-done

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(AttrStreamChunks.Int(chunks))
	o.record(ctx, span, model, "stream", status, durationMs, msg.PromptTokens, msg.CompletionTokens)
	return msg, err
}

func (o *ObservedProvider) record(ctx context.Context, span trace.Span, model, method, status string, durationMs float64, promptTokens, completionTokens int) {
	cost := o.inst.Cost.Calculate(model, promptTokens, completionTokens)

	attrs := metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrLLMMethod.String(method),
	)

	span.SetAttributes(
		AttrTokensInput.Int(promptTokens),
		AttrTokensOutput.Int(completionTokens),
		AttrCostUSD.Float64(cost),
	)

	o.inst.TokenUsage.Add(ctx, int64(promptTokens), metric.WithAttributes(
		AttrLLMModel.String(model), AttrLLMProvider.String(o.inner.Name()), attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(completionTokens), metric.WithAttributes(
		AttrLLMModel.String(model), AttrLLMProvider.String(o.inner.Name()), attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(model), AttrLLMProvider.String(o.inner.Name()), AttrLLMMethod.String(method), attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, attrs)

	var rec gatewaylog.Record
	rec.SetSeverity(gatewaylog.SeverityInfo)
	rec.SetBody(gatewaylog.StringValue("llm call completed"))
	rec.AddAttributes(
		gatewaylog.String("llm.model", model),
		gatewaylog.String("llm.provider", o.inner.Name()),
		gatewaylog.String("llm.method", method),
		gatewaylog.Int("llm.tokens.input", promptTokens),
		gatewaylog.Int("llm.tokens.output", completionTokens),
		gatewaylog.Float64("llm.cost_usd", cost),
		gatewaylog.Float64("llm.duration_ms", durationMs),
		gatewaylog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}

var _ provider.Provider = (*ObservedProvider)(nil)
