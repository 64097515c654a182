// Package observe carries the observability plumbing for ghostWriter:
// OpenTelemetry metric instruments, tracing helpers, structured logging,
// and the HTTP middleware that ties the three together.
//
// Instruments hang off a [Metrics] struct rather than package-level vars,
// so tests can build private instances against their own
// [metric.MeterProvider] and never see each other's counts. The
// process-wide instance lives behind [DefaultMetrics], and [InitProvider]
// bridges it to Prometheus for scraping on /metrics.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all ghostWriter
// metrics.
const meterName = "github.com/ReaperCord/ghostWriter"

// Metrics bundles every instrument the daemon records. The OTel instrument
// types synchronise internally, so one instance serves all goroutines.
type Metrics struct {
	// --- Capture pipeline counters ---

	// CapturePackets counts packets drained from the capture session. Use
	// with attribute:
	//   attribute.String("status", "ok"|"silent"|"unsupported")
	CapturePackets metric.Int64Counter

	// CaptureSamples counts normalized samples appended to the
	// accumulation buffer.
	CaptureSamples metric.Int64Counter

	// StreamFaults counts collaborator errors that terminated a capture
	// run. Use with attribute: attribute.String("op", ...)
	StreamFaults metric.Int64Counter

	// --- Export ---

	// Exports counts export attempts. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"empty")
	Exports metric.Int64Counter

	// ExportDuration tracks the snapshot-to-written latency of exports.
	ExportDuration metric.Float64Histogram

	// --- Live tap ---

	// TapDroppedBatches counts sample batches dropped because a live
	// subscriber could not keep up.
	TapDroppedBatches metric.Int64Counter

	// LiveClients tracks the number of connected live PCM subscribers.
	LiveClients metric.Int64UpDownCounter

	// --- HTTP surface ---

	// HTTPRequestDuration observes wall time per request. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// export encodes, which are file writes rather than network round trips.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics registers every instrument on a meter from mp. Any instrument
// that fails to build fails the whole constructor.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture counters.
	if met.CapturePackets, err = m.Int64Counter("ghostwriter.capture.packets",
		metric.WithDescription("Total packets drained from the capture session by status."),
	); err != nil {
		return nil, err
	}
	if met.CaptureSamples, err = m.Int64Counter("ghostwriter.capture.samples",
		metric.WithDescription("Total normalized samples appended to the accumulation buffer."),
	); err != nil {
		return nil, err
	}
	if met.StreamFaults, err = m.Int64Counter("ghostwriter.capture.stream_faults",
		metric.WithDescription("Total collaborator errors that terminated a capture run, by operation."),
	); err != nil {
		return nil, err
	}

	// Export.
	if met.Exports, err = m.Int64Counter("ghostwriter.export.total",
		metric.WithDescription("Total export attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.ExportDuration, err = m.Float64Histogram("ghostwriter.export.duration",
		metric.WithDescription("Latency of export snapshot, transform, and write."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Live tap.
	if met.TapDroppedBatches, err = m.Int64Counter("ghostwriter.live.dropped_batches",
		metric.WithDescription("Total sample batches dropped by slow live subscribers."),
	); err != nil {
		return nil, err
	}
	if met.LiveClients, err = m.Int64UpDownCounter("ghostwriter.live.clients",
		metric.WithDescription("Number of connected live PCM subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP surface.
	if met.HTTPRequestDuration, err = m.Float64Histogram("ghostwriter.http.request.duration",
		metric.WithDescription("Wall time per HTTP request by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the shared instance, built on first use from the
// global [otel.GetMeterProvider]. It panics only when instrument
// registration fails, which the global provider never does.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics construction: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr shortens [attribute.String] at recording call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordPacket is a convenience method that records one drained packet with
// its processing status.
func (m *Metrics) RecordPacket(ctx context.Context, status string) {
	m.CapturePackets.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// AddSamples is a convenience method that records n samples appended to the
// accumulation buffer.
func (m *Metrics) AddSamples(ctx context.Context, n int) {
	m.CaptureSamples.Add(ctx, int64(n))
}

// RecordStreamFault is a convenience method that records a run-terminating
// collaborator error for the given operation.
func (m *Metrics) RecordStreamFault(ctx context.Context, op string) {
	m.StreamFaults.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}

// RecordExport is a convenience method that records one export attempt with
// its status and duration.
func (m *Metrics) RecordExport(ctx context.Context, status string, seconds float64) {
	m.Exports.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	m.ExportDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordTapDrop is a convenience method that records one dropped live
// batch.
func (m *Metrics) RecordTapDrop(ctx context.Context) {
	m.TapDroppedBatches.Add(ctx, 1)
}
