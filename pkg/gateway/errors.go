package gateway

import (
	"errors"
	"fmt"
)

// Error values returned by the gateway.
var (
	ErrInvalidConfig        = errors.New("invalid gateway config")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrBusiness             = errors.New("business error")
	ErrTransport            = errors.New("transport error")
	ErrSessionExpired       = errors.New("session expired")
	ErrNotOK                = errors.New("envelope is not ok")
	ErrDecodePayload        = errors.New("decode payload")
	ErrMissingToken         = errors.New("login response carried no token")
	ErrLoginCodeUnavailable = errors.New("login code unavailable")
)

// CallError exposes a failed Envelope as an error value.
type CallError struct {
	Envelope Envelope
}

// Error returns the formatted error message.
func (callError *CallError) Error() string {
	envelope := callError.Envelope
	switch envelope.Kind {
	case KindTransportError:
		return fmt.Sprintf("transport %s: %s", envelope.Transport, envelope.Message)
	default:
		return fmt.Sprintf("business error %d: %s", envelope.Code, envelope.Message)
	}
}

// Is matches ErrBusiness, ErrTransport and ErrSessionExpired.
func (callError *CallError) Is(target error) bool {
	switch target {
	case ErrBusiness:
		return callError.Envelope.Kind == KindBusinessError
	case ErrTransport:
		return callError.Envelope.Kind == KindTransportError
	case ErrSessionExpired:
		return callError.Envelope.Kind == KindBusinessError && callError.Envelope.HTTPStatus == CodeSessionExpired
	default:
		return false
	}
}

// BusinessCode reports the business code carried by err, if any.
func BusinessCode(err error) (int, bool) {
	var callError *CallError
	if !errors.As(err, &callError) || callError.Envelope.Kind != KindBusinessError {
		return 0, false
	}
	return callError.Envelope.Code, true
}

// TransportFailure reports the transport classification carried by err, if any.
func TransportFailure(err error) (TransportKind, bool) {
	var callError *CallError
	if !errors.As(err, &callError) || callError.Envelope.Kind != KindTransportError {
		return "", false
	}
	return callError.Envelope.Transport, true
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
