package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName      = "taskboard/api"
	dataSpanName    = "taskboard.api.data"
	dataEventName   = "taskboard.api.data.request"
	dataEventDomain = "taskboard.api"
	observabilityEv = "observability.event"
)

type dataRequestMetrics struct {
	logger          *log.Logger
	span            trace.Span
	method          string
	route           string
	start           time.Time
	configDuration  time.Duration
	backendDuration time.Duration
	encodeDuration  time.Duration
	appID           string
	backend         string
	records         int
	duplicate       bool
	errorStage      string
}

func newDataRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*dataRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, dataSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &dataRequestMetrics{
		logger: logger,
		span:   span,
		method: method,
		route:  route,
		start:  time.Now(),
	}, spanCtx
}

func (m *dataRequestMetrics) ObserveConfig(d time.Duration) {
	if d > 0 {
		m.configDuration = d
	}
}

func (m *dataRequestMetrics) ObserveBackend(d time.Duration) {
	if d > 0 {
		m.backendDuration = d
	}
}

func (m *dataRequestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *dataRequestMetrics) SetApp(appID, backend string) {
	m.appID = appID
	m.backend = backend
}

func (m *dataRequestMetrics) SetRecords(n int) {
	if n < 0 {
		n = 0
	}
	m.records = n
}

func (m *dataRequestMetrics) SetDuplicate() {
	m.duplicate = true
}

func (m *dataRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log ends the span and writes one structured entry for the request.
func (m *dataRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.method", m.method),
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.Float64("taskboard.data.total_ms", durationToMillis(time.Since(m.start))),
		attribute.Int("taskboard.data.records", m.records),
		attribute.Bool("taskboard.data.duplicate", m.duplicate),
	}
	if m.appID != "" {
		attrs = append(attrs, attribute.String("taskboard.data.app_id", m.appID))
	}
	if m.backend != "" {
		attrs = append(attrs, attribute.String("taskboard.data.backend", m.backend))
	}
	if m.configDuration > 0 {
		attrs = append(attrs, attribute.Float64("taskboard.data.config_ms", durationToMillis(m.configDuration)))
	}
	if m.backendDuration > 0 {
		attrs = append(attrs, attribute.Float64("taskboard.data.backend_ms", durationToMillis(m.backendDuration)))
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64("taskboard.data.encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("taskboard.data.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	sevText, sevNumber := severityForStatus(status, err)

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", dataEventName),
			attribute.String("event.domain", dataEventDomain),
			attribute.String("severity_text", sevText),
			attribute.Int("severity_number", sevNumber),
		}, attrs...)
		m.span.AddEvent(observabilityEv, trace.WithAttributes(eventAttrs...))
		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	attrMap := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attrMap[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      dataEventName,
		"event.domain":    dataEventDomain,
		"severity_text":   sevText,
		"severity_number": sevNumber,
		"attributes":      attrMap,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	switch sevText {
	case "ERROR":
		entry.Error(observabilityEv)
	case "WARN":
		entry.Warn(observabilityEv)
	default:
		entry.Info(observabilityEv)
	}
}

// severityForStatus follows the OpenTelemetry severity numbers.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
