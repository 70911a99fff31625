package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestTraceHandler_NoSpanContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{})))

	logger.InfoContext(context.Background(), "test message", "key", "value")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON log output: %v", err)
	}

	if _, exists := logEntry["trace_id"]; exists {
		t.Errorf("trace_id should not be present without span context, got: %v", logEntry["trace_id"])
	}

	if _, exists := logEntry["span_id"]; exists {
		t.Errorf("span_id should not be present without span context, got: %v", logEntry["span_id"])
	}

	if logEntry["msg"] != "test message" {
		t.Errorf("expected msg='test message', got: %v", logEntry["msg"])
	}
}

type staticSpan struct {
	trace.Span
	spanContext trace.SpanContext
}

func (s *staticSpan) SpanContext() trace.SpanContext { return s.spanContext }

func (s *staticSpan) End(...trace.SpanEndOption) {}

func contextWithStaticSpan(ctx context.Context) context.Context {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})

	return trace.ContextWithSpan(ctx, &staticSpan{spanContext: spanCtx})
}

func TestTraceHandler_WithValidSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{})))

	logger.InfoContext(contextWithStaticSpan(context.Background()), "test message", "key", "value")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON log output: %v", err)
	}

	if logEntry["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("unexpected trace_id: %v", logEntry["trace_id"])
	}

	if logEntry["span_id"] != "00f067aa0ba902b7" {
		t.Errorf("unexpected span_id: %v", logEntry["span_id"])
	}

	if logEntry["key"] != "value" {
		t.Errorf("expected key='value', got: %v", logEntry["key"])
	}
}

func TestTraceHandler_Enabled(t *testing.T) {
	traceHandler := NewTraceHandler(slog.NewJSONHandler(nil, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	ctx := context.Background()

	if traceHandler.Enabled(ctx, slog.LevelInfo) {
		t.Errorf("expected Info level to be disabled when handler level is Warn")
	}

	if !traceHandler.Enabled(ctx, slog.LevelWarn) {
		t.Errorf("expected Warn level to be enabled")
	}
}

func TestTraceHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	traceHandler := NewTraceHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{}))

	newHandler := traceHandler.WithAttrs([]slog.Attr{slog.String("component", "test")})
	if _, ok := newHandler.(*TraceHandler); !ok {
		t.Errorf("WithAttrs should return *TraceHandler, got: %T", newHandler)
	}

	slog.New(newHandler).InfoContext(context.Background(), "test")

	if output := buf.String(); !strings.Contains(output, "component") {
		t.Errorf("expected attributes to be present in output, got: %s", output)
	}
}

func TestTraceHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	traceHandler := NewTraceHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{}))

	newHandler := traceHandler.WithGroup("mygroup")
	if _, ok := newHandler.(*TraceHandler); !ok {
		t.Errorf("WithGroup should return *TraceHandler, got: %T", newHandler)
	}

	slog.New(newHandler).InfoContext(context.Background(), "test", "key", "value")

	if output := buf.String(); !strings.Contains(output, "mygroup") {
		t.Errorf("expected group to be present in output, got: %s", output)
	}
}

func TestTraceHandler_NilHandler(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("NewTraceHandler with nil handler should panic")
		}
	}()

	NewTraceHandler(nil)
}
