package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestDetectEnv(t *testing.T) {
	t.Setenv("APP_ENV", "")
	if got := DetectEnv(); got != EnvDev {
		t.Fatalf("default should be dev, got %q", got)
	}

	t.Setenv("APP_ENV", "staging")
	if got := DetectEnv(); got != EnvStage {
		t.Fatalf("expected stage, got %q", got)
	}

	t.Setenv("APP_ENV", "Production")
	if got := DetectEnv(); got != EnvProd {
		t.Fatalf("expected prod, got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestInit_DevStd_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{
		Service: "demo",
		Version: "v0.0.1",
		Env:     EnvDev,
		Backend: BackendStd,
		Level:   slog.LevelDebug,
		Output:  &buf,
	})
	slog.Info("Hello world")

	out := buf.String()
	if strings.HasPrefix(out, "{") {
		t.Fatalf("expected text output in dev/std, got JSON: %s", out)
	}
	for _, want := range []string{"Hello world", "service=demo", "env=dev"} {
		if !strings.Contains(out, want) {
			t.Fatalf("%q missing: %s", want, out)
		}
	}
}

func TestInit_ProdZap_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{
		Service:          "demo",
		Version:          "1.2.3",
		Env:              EnvProd,
		Backend:          BackendZap,
		Level:            slog.LevelInfo,
		SampleInitial:    100000,
		SampleThereafter: 100000,
		SampleTick:       1,
		Output:           &buf,
	})
	slog.Debug("hidden")
	slog.Info("booted", slog.String("k", "v"))

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("expected one JSON line, got %s, err=%v", buf.String(), err)
	}
	if m["msg"] != "booted" {
		t.Fatalf("msg mismatch: %v", m["msg"])
	}
	if m["service"] != "demo" || m["env"] != "prod" || m["version"] != "1.2.3" {
		t.Fatalf("attrs missing: service=%v env=%v version=%v", m["service"], m["env"], m["version"])
	}
	if m["level"] != "INFO" {
		t.Fatalf("level mismatch: %v", m["level"])
	}
	if m["k"] != "v" {
		t.Fatalf("custom field missing: %v", m["k"])
	}
}

func TestCtx_PropagatesTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{
		Service:          "demo",
		Env:              EnvProd,
		Backend:          BackendZap,
		SampleInitial:    100000,
		SampleThereafter: 100000,
		Output:           &buf,
	})

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	Ctx(ctx).Info("with trace")
	span.End()

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("expected JSON, got: %s, err=%v", buf.String(), err)
	}
	if m["trace_id"] != span.SpanContext().TraceID().String() || m["span_id"] == nil {
		t.Fatalf("trace_id/span_id missing in log: %v", m)
	}

	if attrs := AttrsFromCtx(context.Background()); attrs != nil {
		t.Fatalf("no span should give no attrs, got %v", attrs)
	}
}

func TestInitTracing_GlobalSpansAreValid(t *testing.T) {
	shutdown := InitTracing()
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := otel.Tracer("test").Start(context.Background(), "dispatch")
	defer span.End()

	attrs := AttrsFromCtx(ctx)
	if len(attrs) != 2 || attrs[0].Key != "trace_id" || attrs[0].Value.String() != span.SpanContext().TraceID().String() {
		t.Fatalf("attrs = %v", attrs)
	}
}
