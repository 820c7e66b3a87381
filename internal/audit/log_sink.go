package audit

import (
	"context"
	"log/slog"
)

// LogSink writes records to a structured logger (the console sink).
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a console sink. If logger is nil, it defaults to slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With(slog.String("component", "audit"))}
}

func (s *LogSink) Name() string { return "console" }

func (s *LogSink) Write(ctx context.Context, rec Record) error {
	attrs := []slog.Attr{
		slog.Time("timestamp", rec.Timestamp),
		slog.String("phase", rec.Phase),
		slog.String("path", rec.Path),
		slog.String("method", rec.Method),
		slog.String("handler", rec.HandlerName),
		slog.String("endpoint", rec.Endpoint),
	}
	if rec.UserID != "" {
		attrs = append(attrs, slog.String("user_id", rec.UserID))
	}
	if rec.Status != 0 {
		attrs = append(attrs, slog.Int("status", rec.Status))
	}
	if rec.ErrorCode != "" {
		attrs = append(attrs, slog.String("error_code", rec.ErrorCode))
	}
	if rec.Body != nil {
		attrs = append(attrs, slog.Any("body", rec.Body))
	}
	if len(rec.Query) > 0 {
		attrs = append(attrs, slog.Any("query", rec.Query))
	}
	if len(rec.Headers) > 0 {
		attrs = append(attrs, slog.Any("headers", rec.Headers))
	}
	if len(rec.Extra) > 0 {
		attrs = append(attrs, slog.Any("extra", rec.Extra))
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit record", attrs...)
	return nil
}
