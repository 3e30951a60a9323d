package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestLogServiceCollapsesRepeats(t *testing.T) {
	s := NewLogService(10, nil)

	s.Append(LevelInfo, "box:x", "hello")
	s.Append(LevelInfo, "box:x", "hello")
	s.Append(LevelInfo, "box:y", "hello")
	s.Append(LevelInfo, "box:x", "hello")

	entries := s.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Source != "box:x" {
		t.Errorf("expected first source box:x, got %s", entries[0].Source)
	}
	if entries[0].Count != 3 {
		t.Errorf("expected count 3, got %d", entries[0].Count)
	}
	if entries[1].Count != 1 {
		t.Errorf("expected count 1, got %d", entries[1].Count)
	}
}

func TestLogServiceLevelBreaksRepeat(t *testing.T) {
	s := NewLogService(10, nil)
	s.Append(LevelInfo, "a", "m")
	s.Append(LevelError, "a", "m")
	if s.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", s.Len())
	}
}

func TestLogServiceBounded(t *testing.T) {
	s := NewLogService(3, nil)
	for _, msg := range []string{"1", "2", "3", "4", "5"} {
		s.Append(LevelInfo, "src", msg)
	}

	entries := s.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Message != "3" || entries[2].Message != "5" {
		t.Errorf("expected entries 3..5, got %q..%q", entries[0].Message, entries[2].Message)
	}

	// The index survives trimming.
	s.Append(LevelInfo, "src", "5")
	if got := s.Entries()[2].Count; got != 2 {
		t.Errorf("expected count 2 after trimming, got %d", got)
	}
}

func TestLogServiceMirrorsToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)
	s := NewLogService(10, logger)

	s.Append(LevelWarn, "node:key", "careful")

	out := buf.String()
	for _, want := range []string{`"level":"warn"`, `"source":"node:key"`, "careful"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestLogServiceUnknownLevel(t *testing.T) {
	s := NewLogService(10, nil)
	s.Append(Level("shout"), "a", "m")
	if got := s.Entries()[0].Level; got != LevelInfo {
		t.Errorf("expected unknown levels to become info, got %s", got)
	}
}

func TestLogServiceClearAndSink(t *testing.T) {
	s := NewLogService(10, nil)
	sink := s.Sink("script")
	sink(LevelDebug, "one")
	if got := s.Entries()[0].Source; got != "script" {
		t.Errorf("expected source script, got %s", got)
	}

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("expected empty console after Clear, got %d entries", s.Len())
	}
}

func TestMetricsDisabledIsSafe(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordFrame(time.Millisecond)
	m.RecordCommit("Set")
	m.RecordLogEntry(LevelInfo)
	if m.Registry() != nil {
		t.Error("disabled metrics should have no registry")
	}

	var nilMetrics *Metrics
	nilMetrics.RecordHistoryOp("undo")
}

func TestMetricsCounters(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordCommit("AddNode")
	m.RecordCommit("AddNode")
	m.RecordHistoryOp("undo")
	m.RecordExpressionError("runtime")
	m.SetHistoryDepth(4, 1)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"commands committed", testutil.ToFloat64(m.commandsCommitted.WithLabelValues("AddNode")), 2},
		{"history ops", testutil.ToFloat64(m.historyOps.WithLabelValues("undo")), 1},
		{"expression errors", testutil.ToFloat64(m.expressionErrors.WithLabelValues("runtime")), 1},
		{"history depth", testutil.ToFloat64(m.historyDepth.WithLabelValues("past")), 4},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLogServiceCountsMetrics(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	s := NewLogService(10, nil)
	s.SetMetrics(m)

	s.Append(LevelError, "a", "x")
	s.Append(LevelError, "a", "x")

	// Collapsed repeats are not new entries.
	if got := testutil.ToFloat64(m.logEntries.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 error entry counted, got %v", got)
	}
}

func TestEventsSynchronous(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher failed: %v", err)
	}

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByType(EventTypeHistoryCommitted))

	if err := ep.PublishCommitted("id-1", "AddNode", 1); err != nil {
		t.Fatalf("PublishCommitted failed: %v", err)
	}
	if err := ep.PublishUndone("id-1", "AddNode"); err != nil {
		t.Fatalf("PublishUndone failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(got))
	}
	if got[0].Command != "AddNode" {
		t.Errorf("expected command AddNode, got %s", got[0].Command)
	}
	if got[0].ID == "" {
		t.Error("expected an event id")
	}
	if got[0].Level != EventLevelInfo {
		t.Errorf("expected info level, got %s", got[0].Level)
	}
}

func TestEventsGlobalFilter(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher failed: %v", err)
	}
	ep.AddFilter(FilterByLevel(EventLevelError))

	var count int
	ep.Subscribe(func(Event) { count++ }, nil)

	if err := ep.PublishRedone("id", "Set"); err != nil {
		t.Fatalf("PublishRedone failed: %v", err)
	}
	if err := ep.PublishScriptFailed("s", "boom"); err != nil {
		t.Fatalf("PublishScriptFailed failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 event past the filter, got %d", count)
	}
}

func TestEventsAsyncDeliversOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 16, MaxBatchSize: 4})
	if err != nil {
		t.Fatalf("NewEventPublisher failed: %v", err)
	}

	var mu sync.Mutex
	var types []string
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type)
	}, nil)

	for i := 0; i < 5; i++ {
		if err := ep.PublishJumped("id", i); err != nil {
			t.Fatalf("PublishJumped failed: %v", err)
		}
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(types) != 5 {
		t.Errorf("expected 5 delivered events, got %d", len(types))
	}
	if err := ep.Publish(Event{Type: "late"}); err == nil {
		t.Error("expected publishing after shutdown to fail")
	}
}

func TestEventsDisabled(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewEventPublisher failed: %v", err)
	}
	if err := ep.Publish(Event{Type: "x"}); err != nil {
		t.Errorf("Publish on a disabled publisher failed: %v", err)
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestTracerSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := NewTracerWithProvider(provider, "framegraph", TracingConfig{Enabled: true})

	_, span := tracer.StartFrameSpan(context.Background(), 1.5, 12)
	span.End()
	_, span = tracer.StartScriptSpan(context.Background(), "script-1")
	RecordError(span, errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 ended spans, got %d", len(ended))
	}
	if ended[0].Name() != "frame.evaluate" {
		t.Errorf("expected frame.evaluate, got %s", ended[0].Name())
	}
	if ended[1].Name() != "script.execute" {
		t.Errorf("expected script.execute, got %s", ended[1].Name())
	}
	if got := ended[1].Status().Code.String(); got != "Error" {
		t.Errorf("expected Error status, got %s", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{name: "console size", mutate: func(c *Config) { c.Console.MaxEntries = 0 }, wantErr: "console max entries"},
		{name: "exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "zipkin"
		}, wantErr: "invalid trace exporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestStartOperationWithoutTelemetry(t *testing.T) {
	ic := StartOperation(context.Background(), "noop")
	if ic.Span != nil {
		t.Error("expected no span without telemetry")
	}
	ic.End(nil)
}

func TestNopTelemetry(t *testing.T) {
	tel := NewNop()
	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Error("expected the telemetry bundle back from the context")
	}

	ic := StartOperation(ctx, "frame")
	ic.Logger.Info("quiet")
	ic.End(nil)

	tel.Console.Append(LevelInfo, "x", strings.Repeat("a", 3))
	if tel.Console.Len() != 1 {
		t.Errorf("expected 1 console entry, got %d", tel.Console.Len())
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
