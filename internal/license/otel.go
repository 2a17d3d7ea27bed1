package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"actikey/internal/errors"
)

// MeterName identifies the activation core's meter.
const MeterName = "activation-manager"

// Metrics holds the activation-specific OpenTelemetry instruments.
type Metrics struct {
	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter
	ActivationDuration metric.Float64Histogram

	ValidationAttempts metric.Int64Counter
	ValidationFailures metric.Int64Counter

	TamperEvents      metric.Int64Counter
	RateLimitHits     metric.Int64Counter
	FallbackDeviceIDs metric.Int64Counter
}

// NewMetrics creates the activation instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ActivationAttempts, err = meter.Int64Counter(
		"activation_attempts_total",
		metric.WithDescription("Total number of activation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}

	m.ActivationSuccess, err = meter.Int64Counter(
		"activation_success_total",
		metric.WithDescription("Total number of successful activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation success counter: %w", err)
	}

	m.ActivationFailures, err = meter.Int64Counter(
		"activation_failures_total",
		metric.WithDescription("Total number of failed activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}

	m.ActivationDuration, err = meter.Float64Histogram(
		"activation_duration_seconds",
		metric.WithDescription("Activation operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	m.ValidationAttempts, err = meter.Int64Counter(
		"validation_attempts_total",
		metric.WithDescription("Total number of validation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation attempts counter: %w", err)
	}

	m.ValidationFailures, err = meter.Int64Counter(
		"validation_failures_total",
		metric.WithDescription("Total number of failed validations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation failures counter: %w", err)
	}

	m.TamperEvents, err = meter.Int64Counter(
		"time_tamper_events_total",
		metric.WithDescription("Total number of detected time manipulations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tamper events counter: %w", err)
	}

	m.RateLimitHits, err = meter.Int64Counter(
		"activation_rate_limit_hits_total",
		metric.WithDescription("Activation attempts rejected by the rate limiter"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
	}

	m.FallbackDeviceIDs, err = meter.Int64Counter(
		"fingerprint_fallbacks_total",
		metric.WithDescription("Device identifications that fell back to a random id"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fingerprint fallback counter: %w", err)
	}

	return m, nil
}

// recordActivation records one activation outcome with its duration.
func (m *Metrics) recordActivation(ctx context.Context, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ActivationAttempts.Add(ctx, 1)
	m.ActivationDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		m.ActivationFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("error_code", errorCode(err))))
		return
	}
	m.ActivationSuccess.Add(ctx, 1)
}

// recordValidation records one validation outcome.
func (m *Metrics) recordValidation(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.ValidationAttempts.Add(ctx, 1)
	if err != nil {
		m.ValidationFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("error_code", errorCode(err))))
	}
}

func (m *Metrics) recordTamper(ctx context.Context) {
	if m == nil {
		return
	}
	m.TamperEvents.Add(ctx, 1)
}

func (m *Metrics) recordRateLimit(ctx context.Context) {
	if m == nil {
		return
	}
	m.RateLimitHits.Add(ctx, 1)
}

// errorCode labels a metric data point with the taxonomy code.
func errorCode(err error) string {
	if code := errors.CodeOf(err); code != "" {
		return string(code)
	}
	return "unknown"
}
