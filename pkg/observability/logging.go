package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// sensitiveLogKeys are masked wherever they appear as a log attribute key.
var sensitiveLogKeys = map[string]struct{}{
	"authorization": {}, "token": {}, "secret": {},
	"mobile": {}, "national_id": {}, "mentor_id": {},
}

// MaskValue masks a sensitive value as "AB***YZ" when it is longer than 4
// characters, "***" otherwise.
func MaskValue(v string) string {
	if len(v) <= 4 {
		return "***"
	}
	return v[:2] + "***" + v[len(v)-2:]
}

// maskingHandler wraps an slog.Handler, masking sensitive attribute values
// and stringifying non-primitive extras before they reach the underlying
// JSON encoder.
type maskingHandler struct {
	next slog.Handler
}

// NewJSONLogger builds the service's structured JSON logger:
// {ts, level, service, message, logger, correlation_id, ...context}, with
// PII masking on sensitive keys before anything reaches the encoder.
func NewJSONLogger(service string) *slog.Logger {
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				a.Key = "ts"
			case slog.MessageKey:
				a.Key = "message"
			case slog.LevelKey:
				a.Key = "level"
			}
			return a
		},
	})
	handler := &maskingHandler{next: base}
	return slog.New(handler).With("service", service, "logger", service)
}

func (h *maskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *maskingHandler) Handle(ctx context.Context, record slog.Record) error {
	masked := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(maskAttr(a))
		return true
	})
	return h.next.Handle(ctx, masked)
}

func (h *maskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = maskAttr(a)
	}
	return &maskingHandler{next: h.next.WithAttrs(masked)}
}

func (h *maskingHandler) WithGroup(name string) slog.Handler {
	return &maskingHandler{next: h.next.WithGroup(name)}
}

func maskAttr(a slog.Attr) slog.Attr {
	lower := strings.ToLower(a.Key)
	if _, sensitive := sensitiveLogKeys[lower]; sensitive {
		return slog.String(a.Key, MaskValue(stringify(a.Value)))
	}
	switch a.Value.Kind() {
	case slog.KindString, slog.KindInt64, slog.KindUint64, slog.KindFloat64, slog.KindBool, slog.KindTime, slog.KindDuration:
		return a
	default:
		return slog.String(a.Key, stringify(a.Value))
	}
}

func stringify(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	default:
		return fmt.Sprintf("%v", v.Any())
	}
}

// WithCorrelationID returns a logger with correlation_id attached, so every
// line emitted through it carries the request's correlation id.
func WithCorrelationID(logger *slog.Logger, correlationID string) *slog.Logger {
	return logger.With("correlation_id", correlationID)
}
