package zaplog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/claim"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestCallTracerOmitsCredentials(test *testing.T) {
	test.Parallel()
	logger, logs := newObservedLogger()
	tracer := NewCallTracer(logger)
	tracer.TraceCall(context.Background(), gateway.Trace{
		RequestID:     "req-1",
		Method:        gateway.MethodPost,
		Path:          "/order/scan",
		Authenticated: true,
		Envelope:      gateway.BusinessError(gateway.CodeAlreadyClaimed, "voucher already claimed"),
		Duration:      15 * time.Millisecond,
	})
	entries := logs.All()
	if len(entries) != 1 {
		test.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["path"] != "/order/scan" || fields["code"] != int64(gateway.CodeAlreadyClaimed) {
		test.Fatalf("unexpected fields %v", fields)
	}
	for _, forbidden := range []string{"token", "payload", "authorization"} {
		if _, ok := fields[forbidden]; ok {
			test.Fatalf("expected %s to be omitted", forbidden)
		}
	}
}

func TestNotifierShowsMessages(test *testing.T) {
	test.Parallel()
	logger, logs := newObservedLogger()
	var shown []string
	notifier := NewNotifier(logger, func(message string) { shown = append(shown, message) })
	notifier.BusinessError(context.Background(), gateway.CodeInsufficientBalance, "insufficient balance")
	notifier.SessionExpired(context.Background())

	if len(shown) != 2 || shown[0] != "insufficient balance" || shown[1] != gateway.MessageSessionExpired {
		test.Fatalf("unexpected shown messages %v", shown)
	}
	if logs.FilterMessage("session expired").Len() != 1 {
		test.Fatalf("expected session expiry to be logged")
	}
}

func TestOperationLoggerLevels(test *testing.T) {
	test.Parallel()
	logger, logs := newObservedLogger()
	operationLogger := NewOperationLogger(logger)
	operationLogger.LogOperation(context.Background(), claim.OperationLog{
		Operation: "claim",
		OrderID:   "ORD1",
		Amount:    claim.Cents(250),
		State:     claim.StateSettled,
		Status:    "ok",
	})
	operationLogger.LogOperation(context.Background(), claim.OperationLog{
		Operation: "withdraw",
		Channel:   claim.ChannelWeChat,
		Status:    "error",
		Error:     errors.New("boom"),
	})
	entries := logs.All()
	if len(entries) != 2 {
		test.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].ContextMap()["amount"] != "2.50" {
		test.Fatalf("unexpected success entry %+v", entries[0].ContextMap())
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["error"] != "boom" {
		test.Fatalf("unexpected failure entry %+v", entries[1].ContextMap())
	}
}
