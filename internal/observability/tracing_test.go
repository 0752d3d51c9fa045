package observability

import (
	"context"
	"testing"

	"github.com/leslieo2/devreload/internal/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestNewTracer(t *testing.T) {
	tracer, err := NewTracer(config.DefaultTracingConfig())
	if err != nil {
		t.Fatalf("NewTracer() returned error: %v", err)
	}

	if tracer == nil {
		t.Fatal("NewTracer() returned nil")
	}
}

func TestNewTracer_Enabled(t *testing.T) {
	cfg := config.DefaultTracingConfig()
	cfg.Enabled = true

	tracer, err := NewTracer(cfg)
	if err != nil {
		t.Fatalf("NewTracer() returned error: %v", err)
	}
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })

	ctx, span := tracer.StartSpan(context.Background(), "restart.reload", attribute.Int64("generation", 1))
	if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		t.Error("expected a recording span with a valid span context")
	}
	span.End()
}

func TestTracer_StartSpan(t *testing.T) {
	tracer, err := NewTracer(config.DefaultTracingConfig())
	if err != nil {
		t.Fatalf("NewTracer() returned error: %v", err)
	}

	attrs := []attribute.KeyValue{
		attribute.String("livereload.path", "*"),
		attribute.Bool("livereload.css", false),
	}

	_, span := tracer.StartSpan(context.Background(), "livereload.broadcast", attrs...)
	if span == nil {
		t.Fatal("StartSpan() returned nil span")
	}
	span.End()
}

func TestTracer_NilReceiver(t *testing.T) {
	var tracer *Tracer

	_, span := tracer.StartSpan(context.Background(), "hotreload.dispatch")
	if span == nil {
		t.Fatal("StartSpan() returned nil span")
	}
	span.End()

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() on nil tracer returned %v", err)
	}
}

func TestTracer_ShutdownDisabled(t *testing.T) {
	tracer, err := NewTracer(config.DefaultTracingConfig())
	if err != nil {
		t.Fatalf("NewTracer() returned error: %v", err)
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() returned %v", err)
	}
}

func TestTracer_ConcurrentSpans(t *testing.T) {
	tracer, err := NewTracer(config.DefaultTracingConfig())
	if err != nil {
		t.Fatalf("NewTracer() returned error: %v", err)
	}

	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func(id int) {
			_, span := tracer.StartSpan(context.Background(), "concurrent-span", attribute.Int("id", id))
			span.End()
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
