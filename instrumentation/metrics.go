// Package instrumentation exposes OpenTelemetry metrics for token
// issuance and rotation. A nil *Metrics is a safe no-op, so the core
// packages work without a metrics SDK installed.
package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the session server
type Metrics struct {
	// Issuance and rotation
	TokensIssued     metric.Int64Counter
	RotationOutcomes metric.Int64Counter
	TokensRevoked    metric.Int64Counter

	// Security
	ReuseDetected metric.Int64Counter

	// Storage
	StorageRetries metric.Int64Counter
}

// NewMetrics creates and registers all metric instruments
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error
	m.TokensIssued, err = meter.Int64Counter(
		"session.tokens.issued",
		metric.WithDescription("Number of access/refresh token pairs issued"),
		metric.WithUnit("{pair}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.issued counter: %w", err)
	}

	m.RotationOutcomes, err = meter.Int64Counter(
		"session.rotation.outcomes",
		metric.WithDescription("Number of refresh rotation attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rotation.outcomes counter: %w", err)
	}

	m.TokensRevoked, err = meter.Int64Counter(
		"session.tokens.revoked",
		metric.WithDescription("Number of refresh tokens revoked"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.revoked counter: %w", err)
	}

	m.ReuseDetected, err = meter.Int64Counter(
		"session.security.reuse_detected",
		metric.WithDescription("Number of refresh token reuse events (presumptive compromise)"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create security.reuse_detected counter: %w", err)
	}

	m.StorageRetries, err = meter.Int64Counter(
		"session.storage.cas_retries",
		metric.WithDescription("Number of family compare-and-swap conflicts retried"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.cas_retries counter: %w", err)
	}

	return m, nil
}

// RecordIssued increments the issued-pair counter.
func (m *Metrics) RecordIssued(ctx context.Context) {
	if m == nil || m.TokensIssued == nil {
		return
	}
	m.TokensIssued.Add(ctx, 1)
}

// RecordRotation increments the rotation counter with the outcome label.
func (m *Metrics) RecordRotation(ctx context.Context, outcome string) {
	if m == nil || m.RotationOutcomes == nil {
		return
	}
	m.RotationOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRevoked increments the revocation counter.
func (m *Metrics) RecordRevoked(ctx context.Context) {
	if m == nil || m.TokensRevoked == nil {
		return
	}
	m.TokensRevoked.Add(ctx, 1)
}

// RecordReuseDetected increments the reuse-detection security counter.
func (m *Metrics) RecordReuseDetected(ctx context.Context) {
	if m == nil || m.ReuseDetected == nil {
		return
	}
	m.ReuseDetected.Add(ctx, 1)
}

// RecordStorageRetry increments the CAS-retry counter.
func (m *Metrics) RecordStorageRetry(ctx context.Context) {
	if m == nil || m.StorageRetries == nil {
		return
	}
	m.StorageRetries.Add(ctx, 1)
}
