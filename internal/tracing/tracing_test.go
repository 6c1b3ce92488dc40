package tracing_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/loadgate/internal/config"
	"github.com/torosent/loadgate/internal/tracing"
)

func recorder(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp.Tracer("test")
}

func attr(spans tracetest.SpanStubs, i int, key string) (attribute.Value, bool) {
	for _, kv := range spans[i].Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestInit(t *testing.T) {
	off := false
	tests := []struct {
		name          string
		cfg           config.TracingConfig
		env           string
		wantErr       bool
		wantPropagate bool
		wantRecording bool
	}{
		{name: "disabled without endpoint", cfg: config.TracingConfig{}},
		{
			name:          "grpc exporter",
			cfg:           config.TracingConfig{Endpoint: "localhost:4317", Protocol: "grpc", SampleRate: 1, Insecure: true},
			wantPropagate: true,
			wantRecording: true,
		},
		{
			name:          "http exporter",
			cfg:           config.TracingConfig{Endpoint: "localhost:4318", Protocol: "http", SampleRate: 1, Insecure: true},
			wantPropagate: true,
			wantRecording: true,
		},
		{
			name:          "endpoint from environment",
			cfg:           config.TracingConfig{Protocol: "grpc", SampleRate: 1, Insecure: true},
			env:           "localhost:4317",
			wantPropagate: true,
			wantRecording: true,
		},
		{
			name:          "propagation switched off",
			cfg:           config.TracingConfig{Endpoint: "localhost:4317", SampleRate: 1, Insecure: true, Propagate: &off},
			wantRecording: true,
		},
		{name: "unsupported protocol", cfg: config.TracingConfig{Endpoint: "localhost:4317", Protocol: "thrift"}, wantErr: true},
		{name: "negative sample rate", cfg: config.TracingConfig{Endpoint: "localhost:4317", SampleRate: -0.5}, wantErr: true},
		{name: "sample rate above one", cfg: config.TracingConfig{Endpoint: "localhost:4317", SampleRate: 1.5}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", tt.env)

			p, err := tracing.Init(context.Background(), tt.cfg, attribute.String("loadgate.run_id", "01TEST"))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			t.Cleanup(func() {
				// Nothing listens on the endpoint; do not wait for the export.
				ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
				defer cancel()
				_ = p.Shutdown(ctx)
			})

			if got := p.ShouldPropagate(); got != tt.wantPropagate {
				t.Errorf("ShouldPropagate() = %v, want %v", got, tt.wantPropagate)
			}
			_, span := p.Tracer().Start(context.Background(), "probe")
			defer span.End()
			if got := span.IsRecording(); got != tt.wantRecording {
				t.Errorf("IsRecording() = %v, want %v", got, tt.wantRecording)
			}
		})
	}
}

func TestNilProviderIsNoop(t *testing.T) {
	var p *tracing.Provider
	if p.ShouldPropagate() {
		t.Error("nil provider propagates")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	_, span := p.Tracer().Start(context.Background(), "probe")
	span.End()
	if span.SpanContext().IsValid() {
		t.Error("nil provider produced a real span")
	}
}

func TestStartPhaseNamesAndTagsSpans(t *testing.T) {
	exporter, tracer := recorder(t)

	tests := []struct {
		kind, name string
		want       string
	}{
		{tracing.KindReadiness, "cluster-nodes-ready", "readiness cluster-nodes-ready"},
		{tracing.KindWarmup, "foo.localhost", "warmup foo.localhost"},
		{tracing.KindPipeline, "", "pipeline"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			exporter.Reset()
			_, span := tracing.StartPhase(context.Background(), tracer, tt.kind, tt.name, attribute.Int("loadgate.attempts", 2))
			span.End()

			spans := exporter.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			if spans[0].Name != tt.want {
				t.Errorf("name = %q, want %q", spans[0].Name, tt.want)
			}
			if v, ok := attr(spans, 0, "loadgate.kind"); !ok || v.AsString() != tt.kind {
				t.Errorf("loadgate.kind = %v", v.AsString())
			}
			if _, ok := attr(spans, 0, "loadgate.name"); ok != (tt.name != "") {
				t.Errorf("loadgate.name present = %v", ok)
			}
			if v, ok := attr(spans, 0, "loadgate.attempts"); !ok || v.AsInt64() != 2 {
				t.Error("extra attribute missing")
			}
		})
	}
}

func TestPhaseSpansNestUnderPipeline(t *testing.T) {
	exporter, tracer := recorder(t)

	ctx, run := tracing.StartPhase(context.Background(), tracer, tracing.KindPipeline, "run")
	_, check := tracing.StartPhase(ctx, tracer, tracing.KindReadiness, "cluster-nodes-ready")
	check.End()
	run.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("readiness span is not a child of the pipeline span")
	}
}

func TestStartPhaseNilTracerUsesGlobal(t *testing.T) {
	exporter, _ := recorder(t)

	_, span := tracing.StartPhase(context.Background(), nil, tracing.KindPipeline, "load")
	span.End()

	if len(exporter.GetSpans()) != 1 {
		t.Fatal("expected span on the global provider")
	}
}

func TestEndSpan(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"ok", nil, codes.Ok},
		{"failed phase", errors.New("deployment echo-foo not rolled out"), codes.Error},
		{"deadline", context.DeadlineExceeded, codes.Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter, tracer := recorder(t)
			_, span := tracer.Start(context.Background(), "phase")
			tracing.EndSpan(span, tt.err, attribute.String("loadgate.outcome", tt.name))

			spans := exporter.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			if spans[0].Status.Code != tt.want {
				t.Errorf("status = %v, want %v", spans[0].Status.Code, tt.want)
			}
			if v, ok := attr(spans, 0, "loadgate.outcome"); !ok || v.AsString() != tt.name {
				t.Error("end attributes not recorded")
			}
			if tt.err != nil && len(spans[0].Events) == 0 {
				t.Error("error event not recorded")
			}
		})
	}
}

func TestInjectHTTPHeaders(t *testing.T) {
	_, tracer := recorder(t)

	headers := make(http.Header)
	tracing.InjectHTTPHeaders(context.Background(), headers)
	if got := headers.Get("Traceparent"); got != "" {
		t.Errorf("traceparent without a span = %q", got)
	}

	ctx, span := tracer.Start(context.Background(), "warmup foo.localhost")
	defer span.End()
	tracing.InjectHTTPHeaders(ctx, headers)

	// version-traceid-spanid-flags
	got := headers.Get("Traceparent")
	if len(got) != 55 {
		t.Fatalf("traceparent = %q", got)
	}
	if want := span.SpanContext().TraceID().String(); got[3:35] != want {
		t.Errorf("trace id = %s, want %s", got[3:35], want)
	}
}
