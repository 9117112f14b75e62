package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/grcpilot/internal/llm"
)

// ModelNamer is implemented by providers that expose their model id.
type ModelNamer interface {
	Model() string
}

// InstrumentedProvider wraps an llm.StreamingProvider with metrics and tracing.
type InstrumentedProvider struct {
	inner   llm.StreamingProvider
	model   string
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedProvider wraps an LLM provider with observability.
func NewInstrumentedProvider(inner llm.StreamingProvider, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedProvider {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	var model string
	if mn, ok := inner.(ModelNamer); ok {
		model = mn.Model()
	}
	return &InstrumentedProvider{
		inner:   inner,
		model:   model,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return p.observe(ctx, "llm.send_message", func(ctx context.Context) (*llm.Response, error) {
		return p.inner.SendMessage(ctx, req)
	})
}

func (p *InstrumentedProvider) StreamMessage(ctx context.Context, req *llm.Request, onText llm.TextHandler) (*llm.Response, error) {
	return p.observe(ctx, "llm.stream_message", func(ctx context.Context) (*llm.Response, error) {
		return p.inner.StreamMessage(ctx, req, onText)
	})
}

func (p *InstrumentedProvider) observe(ctx context.Context, spanName string, call func(context.Context) (*llm.Response, error)) (*llm.Response, error) {
	provider := p.inner.Name()

	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, spanName,
			trace.WithAttributes(
				attribute.String("llm.provider", provider),
				attribute.String("llm.model", p.model),
			))
		defer span.End()
	}

	start := time.Now()
	resp, err := call(ctx)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, p.model, status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider, p.model).Observe(duration)

		if resp != nil {
			p.metrics.LLMTokensUsed.WithLabelValues(provider, p.model, "input").Add(float64(resp.Usage.InputTokens))
			p.metrics.LLMTokensUsed.WithLabelValues(provider, p.model, "output").Add(float64(resp.Usage.OutputTokens))
		}
	}

	return resp, err
}

var _ llm.StreamingProvider = (*InstrumentedProvider)(nil)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
