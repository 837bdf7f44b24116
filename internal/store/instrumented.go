package store

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	storeOperations metric.Int64Counter
	storeDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/cachebridge/cachebridge/internal/store")

		var err error
		storeOperations, err = meter.Int64Counter(
			"token_cache.store.operations",
			metric.WithDescription("Total token cache store operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		storeDuration, err = meter.Float64Histogram(
			"token_cache.store.operation.duration",
			metric.WithDescription("Token cache store operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a BlobStore with metrics instrumentation.
type Instrumented struct {
	wrapped   BlobStore
	storeType string
}

// NewInstrumented creates an instrumented store wrapper.
func NewInstrumented(store BlobStore, storeType string) *Instrumented {
	initMetrics()
	return &Instrumented{
		wrapped:   store,
		storeType: storeType,
	}
}

// Get retrieves a blob from the store.
func (i *Instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()

	blob, found, err := i.wrapped.Get(ctx, key)

	duration := time.Since(start)
	i.recordDuration(ctx, "get", duration)

	status := "miss"
	if err != nil {
		status = "error"
	} else if found {
		status = "hit"
	}
	i.recordOperation(ctx, "get", status)
	i.setSpanAttributes(ctx, "get", status, duration)

	return blob, found, err
}

// Set stores a blob in the store.
func (i *Instrumented) Set(ctx context.Context, key string, blob []byte) error {
	start := time.Now()

	err := i.wrapped.Set(ctx, key, blob)

	duration := time.Since(start)
	i.recordDuration(ctx, "set", duration)

	status := "success"
	if err != nil {
		status = "error"
	}
	i.recordOperation(ctx, "set", status)
	i.setSpanAttributes(ctx, "set", status, duration)

	return err
}

// Invalidate removes a blob from the store.
func (i *Instrumented) Invalidate(ctx context.Context, key string) error {
	start := time.Now()

	err := i.wrapped.Invalidate(ctx, key)

	duration := time.Since(start)
	i.recordDuration(ctx, "invalidate", duration)

	status := "success"
	if err != nil {
		status = "error"
	}
	i.recordOperation(ctx, "invalidate", status)
	i.setSpanAttributes(ctx, "invalidate", status, duration)

	return err
}

// Atomic reports the wrapped store's concurrency discipline.
func (i *Instrumented) Atomic() bool {
	return i.wrapped.Atomic()
}

// Close releases any resources held by the store.
func (i *Instrumented) Close() error {
	return i.wrapped.Close()
}

func (i *Instrumented) recordOperation(ctx context.Context, operation, status string) {
	if storeOperations == nil {
		return
	}
	storeOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("store.type", i.storeType),
			attribute.String("store.operation", operation),
			attribute.String("store.status", status),
		),
	)
}

func (i *Instrumented) recordDuration(ctx context.Context, operation string, duration time.Duration) {
	if storeDuration == nil {
		return
	}
	storeDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("store.type", i.storeType),
			attribute.String("store.operation", operation),
		),
	)
}

func (i *Instrumented) setSpanAttributes(ctx context.Context, operation, status string, duration time.Duration) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("store.type", i.storeType),
		attribute.String("store."+operation+".status", status),
		attribute.Float64("store."+operation+".duration", duration.Seconds()),
	)
}
