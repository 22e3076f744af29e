package room

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"board-room/domain"
)

const (
	actionSpanName    = "room.action"
	actionEventName   = "room.action.metrics"
	actionEventDomain = "board-room"
	tracerName        = "board-room/room"
)

// actionMetrics times one executed action and reports it as a span plus a
// structured log entry.
type actionMetrics struct {
	logger  *log.Logger
	span    trace.Span
	start   time.Time
	boardID string
	action  string
	query   bool
}

func newActionMetrics(ctx context.Context, logger *log.Logger, boardID, action string) (*actionMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, actionSpanName, trace.WithAttributes(
		attribute.String("board.id", boardID),
		attribute.String("room.action", action),
	))
	return &actionMetrics{
		logger:  logger,
		span:    span,
		start:   time.Now(),
		boardID: boardID,
		action:  action,
	}, ctx
}

func (m *actionMetrics) SetQuery(query bool) {
	m.query = query
}

// Log ends the span and writes the metrics entry.
func (m *actionMetrics) Log(recipients int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	kind := ""
	if err != nil {
		outcome = "error"
		kind = string(domain.KindOf(err))
	}
	severity, number := severityFor(err)
	total := durationToMillis(time.Since(m.start))

	attrs := []attribute.KeyValue{
		attribute.String("event.name", actionEventName),
		attribute.String("event.domain", actionEventDomain),
		attribute.String("severity_text", severity),
		attribute.Int("severity_number", number),
		attribute.String("room.outcome", outcome),
		attribute.Bool("room.query", m.query),
		attribute.Int("room.recipients", recipients),
		attribute.Float64("room.duration_ms", total),
	}
	if err != nil {
		attrs = append(attrs,
			attribute.String("room.error_kind", kind),
			attribute.String("error.message", err.Error()),
		)
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, domain.PublicMessage(err))
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.SetAttributes(attribute.String("room.outcome", outcome), attribute.Int("room.recipients", recipients))
	m.span.AddEvent("observability.event", trace.WithAttributes(attrs...))

	if m.logger != nil {
		fields := log.Fields{
			"action":          m.action,
			"board":           m.boardID,
			"duration_ms":     total,
			"outcome":         outcome,
			"recipients":      recipients,
			"query":           m.query,
			"severity_text":   severity,
			"severity_number": number,
		}
		if kind != "" {
			fields["error_kind"] = kind
		}
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
		m.logger.WithFields(fields).Info(actionEventName)
	}
	m.span.End()
}

// severityFor maps an action outcome to OpenTelemetry log severities.
func severityFor(err error) (string, int) {
	if err == nil {
		return "INFO", 9
	}
	if domain.KindOf(err) == domain.KindStorage {
		return "ERROR", 17
	}
	return "WARN", 13
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
