// Package metrics wires the OpenTelemetry meter provider to a Prometheus
// exporter and exposes the counters used by the capture and upload paths.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holisticode/exec-tracer/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// instruments are created on the global meter, which forwards to the real
// provider once Setup has run and is a no-op before that
var (
	meter = otel.Meter(common.PackageName)

	queueDropped    metric.Int64Counter
	queueDelivered  metric.Int64Counter
	queueFailed     metric.Int64Counter
	blocksCommitted metric.Int64Counter
	readsDropped    metric.Int64Counter
	entriesCaptured metric.Int64Counter
)

func init() {
	queueDropped = mustCounter("upload_queue_dropped_total", "Items dropped by the upload queue, per tier")
	queueDelivered = mustCounter("upload_queue_delivered_total", "Items delivered to the sink, per tier")
	queueFailed = mustCounter("upload_queue_failed_total", "Items whose delivery failed, per tier")
	blocksCommitted = mustCounter("tracer_blocks_committed_total", "Blocks drained by the commit handler")
	readsDropped = mustCounter("state_reads_dropped_total", "Storage reads discarded because the per-block cap was reached")
	entriesCaptured = mustCounter("trace_entries_captured_total", "Trace entries drained, per category")
}

func mustCounter(name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		panic(err)
	}
	return c
}

// Setup installs a meter provider exporting to the default Prometheus registry
// and starts the Go runtime instrumentation.
func Setup() (*sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	err = runtime.Start(
		runtime.WithMeterProvider(provider),
		runtime.WithMinimumReadMemStatsInterval(time.Second),
	)
	if err != nil {
		return nil, err
	}
	return provider, nil
}

// NewServer returns the HTTP server exposing /metrics.
func NewServer(addr string) *http.Server {
	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ObserveQueue registers a gauge reporting the pending items per tier.
func ObserveQueue(pending func() (high, low int64)) error {
	_, err := meter.Int64ObservableGauge(
		"upload_queue_pending",
		metric.WithDescription("Items waiting in the upload queue, per tier"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			high, low := pending()
			o.Observe(high, tierAttr("high"))
			o.Observe(low, tierAttr("low"))
			return nil
		}),
	)
	return err
}

func tierAttr(tier string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("tier", tier))
}

func QueueDropped(ctx context.Context, tier string) {
	queueDropped.Add(ctx, 1, tierAttr(tier))
}

func QueueDelivered(ctx context.Context, tier string) {
	queueDelivered.Add(ctx, 1, tierAttr(tier))
}

func QueueFailed(ctx context.Context, tier string) {
	queueFailed.Add(ctx, 1, tierAttr(tier))
}

func BlockCommitted(ctx context.Context) {
	blocksCommitted.Add(ctx, 1)
}

func ReadsDropped(ctx context.Context, n uint64) {
	if n == 0 {
		return
	}
	readsDropped.Add(ctx, int64(n))
}

func EntriesCaptured(ctx context.Context, category string, n int) {
	if n == 0 {
		return
	}
	entriesCaptured.Add(ctx, int64(n), metric.WithAttributes(attribute.String("category", category)))
}
