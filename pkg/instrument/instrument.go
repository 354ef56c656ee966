// Package instrument adds Prometheus metrics and OpenTelemetry spans to
// storage backends and cell warning sinks.
//
// Metrics collected (namespace "prefsync" by default):
//   - prefsync_backend_operations_total: backend calls by op and status
//   - prefsync_backend_operation_duration_seconds: backend call latency by op
//   - prefsync_external_events_total: change events delivered by the backend
//   - prefsync_cell_warnings_total: contained cell failures by code
//
// Example:
//
//	inst := instrument.New(instrument.WithRegistry(reg))
//	backend := inst.Wrap(filestoreStore)
//	theme := pref.New(backend, "theme", "light",
//	    pref.WithSink(inst.Sink(pref.LogSink(logger))))
package instrument

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/prefsync/pkg/pref"
	"github.com/vango-dev/prefsync/pkg/storage"
)

const defaultTracerName = "prefsync"

// Config configures an Instrumenter.
type Config struct {
	// Namespace is the metrics namespace (default: "prefsync").
	Namespace string

	// Buckets are the histogram buckets for operation duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer

	// Tracer creates spans. Default: the global provider's "prefsync" tracer.
	Tracer trace.Tracer
}

// Option configures an Instrumenter.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Config) {
		c.Tracer = tracer
	}
}

// Instrumenter owns a set of registered collectors.
type Instrumenter struct {
	tracer trace.Tracer

	opsTotal    *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
	eventsTotal prometheus.Counter
	warnings    *prometheus.CounterVec
}

// New registers the collectors and returns an Instrumenter. It panics if
// the collectors are already registered in the registry.
func New(opts ...Option) *Instrumenter {
	cfg := Config{
		Namespace: "prefsync",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(defaultTracerName)
	}

	factory := promauto.With(cfg.Registry)
	return &Instrumenter{
		tracer: cfg.Tracer,

		opsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "backend_operations_total",
			Help:      "Total number of backend operations",
		}, []string{"op", "status"}),

		opDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "backend_operation_duration_seconds",
			Help:      "Backend operation duration in seconds",
			Buckets:   cfg.Buckets,
		}, []string{"op"}),

		eventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "external_events_total",
			Help:      "Total number of change events delivered by backends",
		}),

		warnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "cell_warnings_total",
			Help:      "Total number of failures contained by cells, by error code",
		}, []string{"code"}),
	}
}

// Wrap returns a Backend that records metrics and spans for every call
// to b.
func (in *Instrumenter) Wrap(b storage.Backend) storage.Backend {
	return &backend{in: in, next: b}
}

// Sink returns a Sink that counts warnings by code and forwards them to
// next. A nil next drops them after counting.
func (in *Instrumenter) Sink(next pref.Sink) pref.Sink {
	return pref.SinkFunc(func(key string, err error) {
		code := pref.Code(err)
		if code == "" {
			code = "unknown"
		}
		in.warnings.WithLabelValues(code).Inc()
		if next != nil {
			next.Warn(key, err)
		}
	})
}

// observe runs fn inside a span and records its outcome.
func (in *Instrumenter) observe(ctx context.Context, op, key string, fn func(context.Context) error) error {
	spanCtx, span := in.tracer.Start(ctx, "prefsync."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("prefsync.key", key)),
	)
	defer span.End()

	start := time.Now()
	err := fn(spanCtx)
	in.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	in.opsTotal.WithLabelValues(op, status).Inc()
	return err
}

type backend struct {
	in   *Instrumenter
	next storage.Backend
}

func (b *backend) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	err = b.in.observe(ctx, "get", key, func(ctx context.Context) error {
		var gerr error
		value, ok, gerr = b.next.Get(ctx, key)
		return gerr
	})
	return value, ok, err
}

func (b *backend) Set(ctx context.Context, key, value string) error {
	return b.in.observe(ctx, "set", key, func(ctx context.Context) error {
		return b.next.Set(ctx, key, value)
	})
}

func (b *backend) Remove(ctx context.Context, key string) error {
	return b.in.observe(ctx, "remove", key, func(ctx context.Context) error {
		return b.next.Remove(ctx, key)
	})
}

func (b *backend) Subscribe(fn func(storage.Event)) func() {
	return b.next.Subscribe(func(ev storage.Event) {
		b.in.eventsTotal.Inc()
		fn(ev)
	})
}

func (b *backend) Available() bool {
	return storage.Available(b.next)
}
