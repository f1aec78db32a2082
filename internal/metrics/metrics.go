package metrics

import (
	"context"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	HTTPRequests      metric.Int64Counter
	HTTPDuration      metric.Float64Histogram
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	ActiveConnections metric.Int64UpDownCounter

	TradingsListed    metric.Int64Counter
	TradingsSold      metric.Int64Counter
	TradingsCancelled metric.Int64Counter
	SalesVolume       metric.Float64Counter
	FeesAccrued       metric.Float64Counter
	FeesClaimed       metric.Float64Counter
	OperationFailures metric.Int64Counter
	SnapshotFailures  metric.Int64Counter
	EventFailures     metric.Int64Counter
}

// Setup creates the meters on a private Prometheus registry and returns the
// handler that serves it.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	m := &Metrics{}
	b := builder{meter: meter}

	m.HTTPRequests = b.counter("mp_http_requests_total", "Total number of HTTP requests")
	m.HTTPDuration = b.histogram("mp_http_duration_seconds", "HTTP request duration in seconds")
	m.CacheHits = b.counter("mp_cache_hits_total", "Total number of cache hits")
	m.CacheMisses = b.counter("mp_cache_misses_total", "Total number of cache misses")
	m.ActiveConnections = b.upDown("mp_websocket_connections", "Number of active WebSocket connections")

	m.TradingsListed = b.counter("mp_tradings_listed_total", "Tradings created")
	m.TradingsSold = b.counter("mp_tradings_sold_total", "Tradings sold")
	m.TradingsCancelled = b.counter("mp_tradings_cancelled_total", "Tradings cancelled by their seller")
	m.SalesVolume = b.floatCounter("mp_sales_volume_total", "Sale prices in smallest currency units")
	m.FeesAccrued = b.floatCounter("mp_fees_accrued_total", "Fees accrued in smallest currency units")
	m.FeesClaimed = b.floatCounter("mp_fees_claimed_total", "Fees claimed by administrators in smallest currency units")
	m.OperationFailures = b.counter("mp_operation_failures_total", "Rejected marketplace operations by error kind")
	m.SnapshotFailures = b.counter("mp_snapshot_failures_total", "Failed state snapshot writes")
	m.EventFailures = b.counter("mp_event_delivery_failures_total", "Failed event deliveries by sink")

	if b.err != nil {
		return nil, nil, b.err
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m, handler, nil
}

// builder keeps the first instrument creation error.
type builder struct {
	meter metric.Meter
	err   error
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return c
}

func (b *builder) floatCounter(name, desc string) metric.Float64Counter {
	c, err := b.meter.Float64Counter(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return c
}

func (b *builder) histogram(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return h
}

func (b *builder) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return c
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordCacheHit(ctx context.Context, key string) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, key string) {
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, -1)
}

// The methods below satisfy marketplace.Recorder.

func (m *Metrics) RecordListed(currency string) {
	m.TradingsListed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("currency", currency)))
}

func (m *Metrics) RecordSold(currency string, price, fee uint64) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("currency", currency))
	m.TradingsSold.Add(ctx, 1, attrs)
	m.SalesVolume.Add(ctx, float64(price), attrs)
	m.FeesAccrued.Add(ctx, float64(fee), attrs)
}

func (m *Metrics) RecordCancelled() {
	m.TradingsCancelled.Add(context.Background(), 1)
}

func (m *Metrics) RecordFeesClaimed(currency string, amount uint64) {
	m.FeesClaimed.Add(context.Background(), float64(amount), metric.WithAttributes(attribute.String("currency", currency)))
}

func (m *Metrics) RecordFailure(op, kind string) {
	m.OperationFailures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("kind", kind),
	))
}

func (m *Metrics) RecordSnapshotFailure() {
	m.SnapshotFailures.Add(context.Background(), 1)
}

func (m *Metrics) RecordEventFailure(sink string) {
	m.EventFailures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("sink", sink)))
}
