package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"
)

func TestDecodeResponsePrecedence(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name        string
		status      int
		body        string
		wantKind    Kind
		wantCode    int
		wantMessage string
		wantData    string
	}{
		{name: "ok with data", status: http.StatusOK, body: `{"code":0,"message":"success","data":{"order_id":"o1"}}`, wantKind: KindOK, wantData: `{"order_id":"o1"}`},
		{name: "ok without data", status: http.StatusOK, body: `{"code":0,"message":"success"}`, wantKind: KindOK, wantData: "null"},
		{name: "business code in ok envelope", status: http.StatusOK, body: `{"code":10003,"message":"already"}`, wantKind: KindBusinessError, wantCode: CodeAlreadyClaimed, wantMessage: "voucher already claimed"},
		{name: "unknown business code keeps server message", status: http.StatusOK, body: `{"code":777,"message":"custom"}`, wantKind: KindBusinessError, wantCode: 777, wantMessage: "custom"},
		{name: "unknown business code without message", status: http.StatusOK, body: `{"code":777}`, wantKind: KindBusinessError, wantCode: 777, wantMessage: messageOperationFailed},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"detail":{"code":401,"message":"bad token"}}`, wantKind: KindBusinessError, wantCode: CodeSessionExpired, wantMessage: MessageSessionExpired},
		{name: "forbidden", status: http.StatusForbidden, body: `{}`, wantKind: KindBusinessError, wantCode: CodeForbidden, wantMessage: messageForbidden},
		{name: "not found", status: http.StatusNotFound, body: `{"detail":"order not found"}`, wantKind: KindBusinessError, wantCode: CodeNotFound, wantMessage: messageNotFound},
		{name: "server error", status: http.StatusBadGateway, body: `<html>`, wantKind: KindBusinessError, wantCode: http.StatusBadGateway, wantMessage: messageServerError},
		{name: "detail object", status: http.StatusBadRequest, body: `{"detail":{"code":20001,"message":"Insufficient balance"}}`, wantKind: KindBusinessError, wantCode: CodeInsufficientBalance, wantMessage: "insufficient balance"},
		{name: "detail object without code", status: http.StatusBadRequest, body: `{"detail":{"message":"nope"}}`, wantKind: KindBusinessError, wantCode: http.StatusBadRequest, wantMessage: "nope"},
		{name: "detail string", status: http.StatusConflict, body: `{"detail":"conflict"}`, wantKind: KindBusinessError, wantCode: http.StatusConflict, wantMessage: "conflict"},
		{name: "detail array", status: http.StatusUnprocessableEntity, body: `{"detail":[{"msg":"field required"}]}`, wantKind: KindBusinessError, wantCode: http.StatusUnprocessableEntity, wantMessage: `[{"msg":"field required"}]`},
		{name: "top level message", status: http.StatusBadRequest, body: `{"message":"bad input"}`, wantKind: KindBusinessError, wantCode: http.StatusBadRequest, wantMessage: "bad input"},
		{name: "fallback", status: http.StatusTeapot, body: `not json`, wantKind: KindBusinessError, wantCode: http.StatusTeapot, wantMessage: messageRequestFailed},
		{name: "malformed ok body", status: http.StatusOK, body: `not json`, wantKind: KindTransportError, wantMessage: messageMalformedResponse},
		{name: "ok body without code", status: http.StatusOK, body: `{"data":{}}`, wantKind: KindTransportError, wantMessage: messageMalformedResponse},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			envelope := decodeResponse(tc.status, []byte(tc.body))
			if envelope.Kind != tc.wantKind {
				test.Fatalf("expected kind %s, got %s", tc.wantKind, envelope.Kind)
			}
			if envelope.HTTPStatus != tc.status {
				test.Fatalf("expected http status %d, got %d", tc.status, envelope.HTTPStatus)
			}
			switch tc.wantKind {
			case KindOK:
				if string(envelope.Data) != tc.wantData {
					test.Fatalf("expected data %s, got %s", tc.wantData, envelope.Data)
				}
			case KindBusinessError:
				if envelope.Code != tc.wantCode {
					test.Fatalf("expected code %d, got %d", tc.wantCode, envelope.Code)
				}
				if envelope.Message != tc.wantMessage {
					test.Fatalf("expected message %q, got %q", tc.wantMessage, envelope.Message)
				}
			case KindTransportError:
				if envelope.Transport != TransportUnknown || envelope.Message != tc.wantMessage {
					test.Fatalf("unexpected transport envelope %+v", envelope)
				}
			}
		})
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyTransportError(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name string
		err  error
		want TransportKind
	}{
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: TransportTimeout},
		{name: "net timeout", err: timeoutError{}, want: TransportTimeout},
		{name: "canceled", err: context.Canceled, want: TransportUnknown},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "api.invalid"}, want: TransportNetworkUnavailable},
		{name: "refused", err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, want: TransportNetworkUnavailable},
		{name: "other", err: errors.New("boom"), want: TransportUnknown},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			if got := classifyTransportError(tc.err); got != tc.want {
				test.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestCallErrorMatching(test *testing.T) {
	test.Parallel()
	businessErr := BusinessError(CodeInsufficientBalance, "insufficient balance").Err()
	if !errors.Is(businessErr, ErrBusiness) || errors.Is(businessErr, ErrTransport) {
		test.Fatalf("business error matched wrong sentinel: %v", businessErr)
	}
	code, ok := BusinessCode(fmt.Errorf("withdraw: %w", businessErr))
	if !ok || code != CodeInsufficientBalance {
		test.Fatalf("expected business code %d, got %d (%v)", CodeInsufficientBalance, code, ok)
	}
	transportErr := TransportError(TransportTimeout, "slow").Err()
	kind, ok := TransportFailure(transportErr)
	if !ok || kind != TransportTimeout {
		test.Fatalf("expected timeout, got %s (%v)", kind, ok)
	}
	if _, ok := BusinessCode(transportErr); ok {
		test.Fatalf("transport error must not expose a business code")
	}
	expired := decodeResponse(http.StatusUnauthorized, nil).Err()
	if !errors.Is(expired, ErrSessionExpired) {
		test.Fatalf("expected session expired match, got %v", expired)
	}
	if OK(nil).Err() != nil {
		test.Fatalf("ok envelope must not produce an error")
	}
}
