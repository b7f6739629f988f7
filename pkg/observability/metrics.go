package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures the Prometheus metrics pipeline.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Metrics records the counters and histograms the core emits while
// executing handler calls, LLM calls, plan attempts, and orchestrator steps.
type Metrics interface {
	RecordHandlerCall(ctx context.Context, kind string, duration time.Duration, err error)
	RecordStepExecution(ctx context.Context, stepKind string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, purpose string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordPlanAttempt(ctx context.Context, accepted bool)
}

var (
	globalMetrics Metrics = NoopMetrics{}
	metricsMu     sync.RWMutex
)

// SetGlobalMetrics installs the process-wide metrics sink.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics sink, defaulting to a
// no-op implementation when none has been installed.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

// PrometheusMetrics is the otel/prometheus-backed Metrics implementation.
type PrometheusMetrics struct {
	handlerDuration metric.Float64Histogram
	handlerCalls    metric.Int64Counter
	handlerErrors   metric.Int64Counter

	stepDuration metric.Float64Histogram
	stepErrors   metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	planAttempts metric.Int64Counter
}

func InitMetrics(ctx context.Context, cfg MetricsConfig) (Metrics, error) {
	if !cfg.Enabled {
		return NoopMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter))
	meter := meterProvider.Meter("queryagent")

	handlerDuration, err := meter.Float64Histogram(
		"queryagent_handler_call_duration_seconds",
		metric.WithDescription("Handler execute()/schema()/test() duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create handler duration histogram: %w", err)
	}
	handlerCalls, err := meter.Int64Counter(
		"queryagent_handler_calls_total",
		metric.WithDescription("Total handler calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create handler calls counter: %w", err)
	}
	handlerErrors, err := meter.Int64Counter(
		"queryagent_handler_errors_total",
		metric.WithDescription("Total handler call errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create handler errors counter: %w", err)
	}

	stepDuration, err := meter.Float64Histogram(
		"queryagent_step_execution_duration_seconds",
		metric.WithDescription("Plan step execution duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create step duration histogram: %w", err)
	}
	stepErrors, err := meter.Int64Counter(
		"queryagent_step_errors_total",
		metric.WithDescription("Total plan step failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create step errors counter: %w", err)
	}

	llmDuration, err := meter.Float64Histogram(
		"queryagent_llm_call_duration_seconds",
		metric.WithDescription("LLM call duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}
	llmInputTokens, err := meter.Int64Counter(
		"queryagent_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to the LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}
	llmOutputTokens, err := meter.Int64Counter(
		"queryagent_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from the LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}
	llmErrors, err := meter.Int64Counter(
		"queryagent_llm_errors_total",
		metric.WithDescription("Total LLM call errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	planAttempts, err := meter.Int64Counter(
		"queryagent_plan_attempts_total",
		metric.WithDescription("Total plans produced by the orchestrator, by acceptance"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan attempts counter: %w", err)
	}

	return &PrometheusMetrics{
		handlerDuration: handlerDuration,
		handlerCalls:    handlerCalls,
		handlerErrors:   handlerErrors,
		stepDuration:    stepDuration,
		stepErrors:      stepErrors,
		llmDuration:     llmDuration,
		llmInputTokens:  llmInputTokens,
		llmOutputTokens: llmOutputTokens,
		llmErrors:       llmErrors,
		planAttempts:    planAttempts,
	}, nil
}

func (m *PrometheusMetrics) RecordHandlerCall(ctx context.Context, kind string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.handlerDuration.Record(ctx, duration.Seconds(), attrs)
	m.handlerCalls.Add(ctx, 1, attrs)
	if err != nil {
		m.handlerErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordStepExecution(ctx context.Context, stepKind string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("step_kind", stepKind))
	m.stepDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.stepErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, purpose string, duration time.Duration, inputTokens, outputTokens int, err error) {
	attrs := metric.WithAttributes(attribute.String("purpose", purpose))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordPlanAttempt(ctx context.Context, accepted bool) {
	m.planAttempts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("accepted", accepted)))
}
