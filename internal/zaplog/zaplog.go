// Package zaplog adapts gateway and claim callbacks onto a zap logger.
package zaplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/claim"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
	"go.uber.org/zap"
)

// CallTracer logs every traced gateway call at debug level.
type CallTracer struct {
	logger *zap.Logger
}

// NewCallTracer returns a gateway.Tracer writing to logger.
func NewCallTracer(logger *zap.Logger) *CallTracer {
	return &CallTracer{logger: logger.Named("gateway")}
}

// TraceCall implements gateway.Tracer.
func (tracer *CallTracer) TraceCall(_ context.Context, trace gateway.Trace) {
	fields := []zap.Field{
		zap.String("request_id", trace.RequestID),
		zap.String("method", string(trace.Method)),
		zap.String("path", trace.Path),
		zap.Bool("authenticated", trace.Authenticated),
		zap.Stringer("kind", trace.Envelope.Kind),
		zap.Int("http_status", trace.Envelope.HTTPStatus),
		zap.Duration("duration", trace.Duration),
	}
	switch trace.Envelope.Kind {
	case gateway.KindBusinessError:
		fields = append(fields, zap.Int("code", trace.Envelope.Code), zap.String("message", trace.Envelope.Message))
	case gateway.KindTransportError:
		fields = append(fields, zap.String("transport", string(trace.Envelope.Transport)), zap.String("message", trace.Envelope.Message))
	}
	if trace.SessionError != nil {
		fields = append(fields, zap.NamedError("session_error", trace.SessionError))
	}
	tracer.logger.Debug("call", fields...)
}

// Notifier reports user-facing gateway messages through a callback and
// records them on the logger.
type Notifier struct {
	logger *zap.Logger
	show   func(message string)
}

// NewNotifier returns a gateway.Notifier. show receives the text to display
// and may be nil.
func NewNotifier(logger *zap.Logger, show func(message string)) *Notifier {
	return &Notifier{logger: logger.Named("notify"), show: show}
}

// BusinessError implements gateway.Notifier.
func (notifier *Notifier) BusinessError(_ context.Context, code int, message string) {
	notifier.logger.Info("business error", zap.Int("code", code), zap.String("message", message))
	notifier.display(message)
}

// SessionExpired implements gateway.Notifier.
func (notifier *Notifier) SessionExpired(_ context.Context) {
	notifier.logger.Warn("session expired")
	notifier.display(gateway.MessageSessionExpired)
}

func (notifier *Notifier) display(message string) {
	if notifier.show != nil {
		notifier.show(message)
	}
}

// OperationLogger records claim workflow operations.
type OperationLogger struct {
	logger *zap.Logger
}

// NewOperationLogger returns a claim.OperationLogger writing to logger.
func NewOperationLogger(logger *zap.Logger) *OperationLogger {
	return &OperationLogger{logger: logger.Named("claim")}
}

// LogOperation implements claim.OperationLogger.
func (operationLogger *OperationLogger) LogOperation(_ context.Context, entry claim.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.Stringer("state", entry.State),
	}
	if entry.OrderID != "" {
		fields = append(fields, zap.String("order_id", entry.OrderID))
	}
	if entry.VoucherID != "" {
		fields = append(fields, zap.String("voucher_id", entry.VoucherID))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Stringer("amount", entry.Amount))
	}
	if entry.Channel != "" {
		fields = append(fields, zap.String("channel", string(entry.Channel)))
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("operation", fields...)
}
