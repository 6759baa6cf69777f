package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Options configures the process-wide tracer provider.
type Options struct {
	ServiceName    string
	ServiceVersion string
	// TraceFile receives finished spans as JSON lines. Empty disables export.
	TraceFile string
	// Writer overrides TraceFile, mainly for tests.
	Writer io.Writer
}

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
	traceFile  *os.File
)

// Init installs an OpenTelemetry tracer provider. Spans are always created so
// that trace IDs reach the logs; they are only exported when a trace file or
// writer is configured. Calling Init again replaces the previous provider.
func Init(ctx context.Context, opts Options) error {
	providerMu.Lock()
	defer providerMu.Unlock()

	if opts.ServiceName == "" {
		opts.ServiceName = "ragent"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to build trace resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1))),
		sdktrace.WithResource(res),
	}

	w := opts.Writer
	var f *os.File
	if w == nil && opts.TraceFile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.TraceFile), 0o755); err != nil {
			return fmt.Errorf("failed to create trace directory: %w", err)
		}
		f, err = os.OpenFile(opts.TraceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open trace file: %w", err)
		}
		w = f
	}
	if w != nil {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			if f != nil {
				_ = f.Close()
			}
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		// Syncer keeps every span of a short-lived process without relying on batch timers.
		tpOpts = append(tpOpts, sdktrace.WithSyncer(exp))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	if provider != nil {
		_ = provider.Shutdown(ctx)
	}
	if traceFile != nil {
		_ = traceFile.Close()
	}
	provider = tp
	traceFile = f
	otel.SetTracerProvider(tp)
	return nil
}

// Shutdown flushes and shuts down the tracer provider installed by Init.
func Shutdown(ctx context.Context) error {
	providerMu.Lock()
	defer providerMu.Unlock()

	if provider == nil {
		return nil
	}
	err := provider.Shutdown(ctx)
	provider = nil
	if traceFile != nil {
		if cerr := traceFile.Close(); err == nil {
			err = cerr
		}
		traceFile = nil
	}
	return err
}

// StartSpan starts a span and ensures trace_id is propagated in the tracing context package.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		sc := span.SpanContext()
		if sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
