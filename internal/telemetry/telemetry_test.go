package telemetry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ashishshetty777/auction-app/internal/config"
	"github.com/ashishshetty777/auction-app/internal/telemetry"
)

func TestNewNopProvider(t *testing.T) {
	p := telemetry.NewNopProvider()

	if p.TracerProvider == nil {
		t.Fatal("TracerProvider is nil")
	}
	if p.MeterProvider == nil {
		t.Fatal("MeterProvider is nil")
	}
	if p.LoggerProvider == nil {
		t.Fatal("LoggerProvider is nil")
	}
	if p.Logger == nil {
		t.Fatal("Logger is nil")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestSetup_WithoutEndpoint(t *testing.T) {
	p, err := telemetry.Setup(context.Background(), config.TelemetryConfig{ServiceName: "auctiond", LogLevel: "debug"})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !p.Logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level not enabled")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestNewResource(t *testing.T) {
	cfg := config.TelemetryConfig{ServiceName: "auctiond", ServiceVersion: "1.2.0", Environment: "club-2025"}
	res, err := telemetry.NewResource(context.Background(), cfg, attribute.String("auction.store", "sqlite"))
	if err != nil {
		t.Fatalf("NewResource() error = %v", err)
	}

	want := map[attribute.Key]string{
		"service.name":           "auctiond",
		"service.version":        "1.2.0",
		"deployment.environment": "club-2025",
		"auction.store":          "sqlite",
	}
	for key, val := range want {
		got, ok := res.Set().Value(key)
		if !ok {
			t.Errorf("resource lacks %s", key)
			continue
		}
		if got.AsString() != val {
			t.Errorf("%s = %q, want %q", key, got.AsString(), val)
		}
	}
	if got, ok := res.Set().Value("service.instance.id"); !ok || got.AsString() == "" {
		t.Error("service.instance.id not set")
	}
}

func TestNewResource_NoEnvironment(t *testing.T) {
	res, err := telemetry.NewResource(context.Background(), config.TelemetryConfig{ServiceName: "auctiond"})
	if err != nil {
		t.Fatalf("NewResource() error = %v", err)
	}
	if _, ok := res.Set().Value("deployment.environment"); ok {
		t.Error("deployment.environment set without an environment")
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{ratio: 1, want: "root:AlwaysOnSampler"},
		{ratio: 2, want: "root:AlwaysOnSampler"},
		{ratio: 0, want: "root:AlwaysOffSampler"},
		{ratio: -1, want: "root:AlwaysOffSampler"},
		{ratio: 0.25, want: "root:TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := telemetry.Sampler(tt.ratio).Description()
		if !strings.HasPrefix(desc, "ParentBased{") || !strings.Contains(desc, tt.want) {
			t.Errorf("Sampler(%v) = %s, want parent based with %s", tt.ratio, desc, tt.want)
		}
	}
}

func TestShutdown_PartialProvider(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	p := &telemetry.Provider{TracerProvider: tp}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		if got := telemetry.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogWithTrace_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := telemetry.NewLogger(&buf, "info")

	telemetry.LogWithTrace(context.Background(), logger).Info("sale settled")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if _, ok := rec["trace_id"]; ok {
		t.Error("trace_id set without a span")
	}
}

func TestLogWithTrace_WithSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(tracetest.NewInMemoryExporter()))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "Manager.Settle")
	defer span.End()

	var buf bytes.Buffer
	telemetry.LogWithTrace(ctx, telemetry.NewLogger(&buf, "info")).Info("sale settled")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v, want %s", rec["trace_id"], span.SpanContext().TraceID())
	}
	if rec["span_id"] != span.SpanContext().SpanID().String() {
		t.Errorf("span_id = %v, want %s", rec["span_id"], span.SpanContext().SpanID())
	}
}
