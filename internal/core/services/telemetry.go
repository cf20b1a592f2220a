package services

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("realtime-core")
	meter  = otel.Meter("realtime-core")
)

// counters are no-ops until a MeterProvider is installed.
type counters struct {
	messagesSent    metric.Int64Counter
	readReceipts    metric.Int64Counter
	callTransitions metric.Int64Counter
	signalsRelayed  metric.Int64Counter
}

func newCounters() *counters {
	c := &counters{}
	var err error
	if c.messagesSent, err = meter.Int64Counter("realtime.messages.sent"); err != nil {
		slog.Warn("telemetry - counter - create failed", "name", "realtime.messages.sent", "err", err)
	}
	if c.readReceipts, err = meter.Int64Counter("realtime.messages.read_receipts"); err != nil {
		slog.Warn("telemetry - counter - create failed", "name", "realtime.messages.read_receipts", "err", err)
	}
	if c.callTransitions, err = meter.Int64Counter("realtime.calls.transitions"); err != nil {
		slog.Warn("telemetry - counter - create failed", "name", "realtime.calls.transitions", "err", err)
	}
	if c.signalsRelayed, err = meter.Int64Counter("realtime.calls.signals"); err != nil {
		slog.Warn("telemetry - counter - create failed", "name", "realtime.calls.signals", "err", err)
	}
	return c
}

func add(ctx context.Context, c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attrs...))
}

func fail(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}
