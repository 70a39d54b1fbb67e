package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"

	"github.com/tidwall/gjson"
)

// decodeResponse classifies a received HTTP response into an Envelope.
// The rules are applied in order and the first match wins.
func decodeResponse(status int, body []byte) Envelope {
	envelope := classifyStatus(status, body)
	envelope.HTTPStatus = status
	return envelope
}

func classifyStatus(status int, body []byte) Envelope {
	switch {
	case status == http.StatusOK:
		return classifyEnvelope(body)
	case status == http.StatusUnauthorized:
		return BusinessError(CodeSessionExpired, MessageSessionExpired)
	case status == http.StatusForbidden:
		return BusinessError(CodeForbidden, messageForbidden)
	case status == http.StatusNotFound:
		return BusinessError(CodeNotFound, messageNotFound)
	case status >= http.StatusInternalServerError:
		return BusinessError(status, messageServerError)
	default:
		return classifyDetail(status, body)
	}
}

func classifyEnvelope(body []byte) Envelope {
	if !gjson.ValidBytes(body) {
		return TransportError(TransportUnknown, messageMalformedResponse)
	}
	parsed := gjson.ParseBytes(body)
	code := parsed.Get("code")
	if !code.Exists() {
		return TransportError(TransportUnknown, messageMalformedResponse)
	}
	if code.Int() == 0 {
		data := parsed.Get("data")
		if !data.Exists() {
			return OK(nil)
		}
		return OK([]byte(data.Raw))
	}
	businessCode := int(code.Int())
	return BusinessError(businessCode, LocalizedMessage(businessCode, parsed.Get("message").String()))
}

// classifyDetail reads the error detail produced by the backend framework.
func classifyDetail(status int, body []byte) Envelope {
	parsed := gjson.ParseBytes(body)
	detail := parsed.Get("detail")
	switch {
	case detail.IsObject():
		code := status
		if detailCode := detail.Get("code"); detailCode.Exists() && detailCode.Int() != 0 {
			code = int(detailCode.Int())
		}
		message := detail.Get("message").String()
		if message == "" {
			message = detail.Raw
		}
		return BusinessError(code, LocalizedMessage(code, message))
	case detail.IsArray():
		return BusinessError(status, detail.Raw)
	case detail.Exists() && detail.Type != gjson.Null:
		return BusinessError(status, detail.String())
	}
	if message := parsed.Get("message").String(); message != "" {
		return BusinessError(status, message)
	}
	return BusinessError(status, messageRequestFailed)
}

// classifyTransportError maps a failed round trip onto a TransportKind.
func classifyTransportError(err error) TransportKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return TransportTimeout
	}
	var netError net.Error
	if errors.As(err, &netError) && netError.Timeout() {
		return TransportTimeout
	}
	if errors.Is(err, context.Canceled) {
		return TransportUnknown
	}
	var dnsError *net.DNSError
	if errors.As(err, &dnsError) {
		return TransportNetworkUnavailable
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return TransportNetworkUnavailable
	}
	var opError *net.OpError
	if errors.As(err, &opError) && opError.Op == "dial" {
		return TransportNetworkUnavailable
	}
	return TransportUnknown
}
