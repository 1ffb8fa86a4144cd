// Package observe provides application-wide observability primitives for
// voicecard: OpenTelemetry metrics and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the standard /metrics endpoint (see [InitProvider]). A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicecard metrics.
const meterName = "github.com/voicecard-io/voicecard"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks full conversation-turn latency (user input to
	// assistant reply).
	TurnDuration metric.Float64Histogram

	// CollaboratorDuration tracks individual collaborator HTTP call latency.
	CollaboratorDuration metric.Float64Histogram

	// SynthDuration tracks speech synthesis latency.
	SynthDuration metric.Float64Histogram

	// --- Counters ---

	// CollaboratorRequests counts collaborator calls. Attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	CollaboratorRequests metric.Int64Counter

	// SynthRequests counts synthesis attempts. Attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	SynthRequests metric.Int64Counter

	// TranscriptDeltas counts transcript snapshots applied during recording.
	TranscriptDeltas metric.Int64Counter

	// WarmClaims counts warm-slot claims. Attribute:
	//   attribute.String("outcome", "hit"|"stale"|"miss")
	WarmClaims metric.Int64Counter

	// --- Gauges ---

	// ActiveRecordings tracks live recording sessions (0 or 1 per engine).
	ActiveRecordings metric.Int64UpDownCounter

	// PlaybackQueueDepth tracks items waiting in or being played by the
	// playback queue.
	PlaybackQueueDepth metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// the voice loop: sub-100 ms synthesis starts up to multi-second LLM calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("voicecard.turn.duration",
		metric.WithDescription("Latency of one full conversation turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CollaboratorDuration, err = m.Float64Histogram("voicecard.collaborator.duration",
		metric.WithDescription("Latency of collaborator HTTP calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthDuration, err = m.Float64Histogram("voicecard.synth.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.CollaboratorRequests, err = m.Int64Counter("voicecard.collaborator.requests",
		metric.WithDescription("Total collaborator calls by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.SynthRequests, err = m.Int64Counter("voicecard.synth.requests",
		metric.WithDescription("Total synthesis attempts by backend and status."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptDeltas, err = m.Int64Counter("voicecard.transcript.deltas",
		metric.WithDescription("Total transcript snapshots applied."),
	); err != nil {
		return nil, err
	}
	if met.WarmClaims, err = m.Int64Counter("voicecard.warm.claims",
		metric.WithDescription("Warm-slot claims by outcome."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRecordings, err = m.Int64UpDownCounter("voicecard.active_recordings",
		metric.WithDescription("Number of live recording sessions."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueueDepth, err = m.Int64UpDownCounter("voicecard.playback.queue_depth",
		metric.WithDescription("Items pending or playing in the playback queue."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTurn records one conversation turn's latency with its resulting stage.
func (m *Metrics) RecordTurn(ctx context.Context, stage string, d time.Duration) {
	m.TurnDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordCollaboratorCall records the latency and status of one collaborator
// HTTP call.
func (m *Metrics) RecordCollaboratorCall(ctx context.Context, op, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	)
	m.CollaboratorRequests.Add(ctx, 1, attrs)
	m.CollaboratorDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("op", op)),
	)
}

// RecordSynthesis records one synthesis attempt.
func (m *Metrics) RecordSynthesis(ctx context.Context, backend, status string, d time.Duration) {
	m.SynthRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("status", status),
	))
	m.SynthDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("backend", backend)),
	)
}

// RecordingStarted increments the active recording gauge.
func (m *Metrics) RecordingStarted(ctx context.Context) {
	m.ActiveRecordings.Add(ctx, 1)
}

// RecordingStopped decrements the active recording gauge.
func (m *Metrics) RecordingStopped(ctx context.Context) {
	m.ActiveRecordings.Add(ctx, -1)
}

// WarmClaim records a warm-slot claim outcome ("hit", "stale", or "miss").
func (m *Metrics) WarmClaim(ctx context.Context, outcome string) {
	m.WarmClaims.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// PlaybackEnqueued increments the playback queue depth gauge.
func (m *Metrics) PlaybackEnqueued(ctx context.Context) {
	m.PlaybackQueueDepth.Add(ctx, 1)
}

// PlaybackDone decrements the playback queue depth gauge.
func (m *Metrics) PlaybackDone(ctx context.Context) {
	m.PlaybackQueueDepth.Add(ctx, -1)
}
