package gateway

import (
	"encoding/json"
	"fmt"
)

// Kind tags the variant carried by an Envelope.
type Kind int

const (
	// KindOK marks a successful call carrying a data payload.
	KindOK Kind = iota + 1
	// KindBusinessError marks a response the server or gateway rejected.
	KindBusinessError
	// KindTransportError marks a call that never produced a response.
	KindTransportError
)

// String returns the stable name of the kind.
func (kind Kind) String() string {
	switch kind {
	case KindOK:
		return "ok"
	case KindBusinessError:
		return "business_error"
	case KindTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// TransportKind classifies calls that failed before a response arrived.
type TransportKind string

const (
	TransportTimeout            TransportKind = "timeout"
	TransportNetworkUnavailable TransportKind = "network_unavailable"
	TransportUnknown            TransportKind = "unknown"
)

// Envelope is the normalized outcome of one remote call.
// Exactly one of the variants is populated, selected by Kind.
type Envelope struct {
	Kind       Kind
	Data       json.RawMessage
	Code       int
	Message    string
	Transport  TransportKind
	HTTPStatus int
}

// OK builds a successful envelope.
func OK(data json.RawMessage) Envelope {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return Envelope{Kind: KindOK, Data: data}
}

// BusinessError builds a business error envelope.
func BusinessError(code int, message string) Envelope {
	return Envelope{Kind: KindBusinessError, Code: code, Message: message}
}

// TransportError builds a transport error envelope.
func TransportError(kind TransportKind, message string) Envelope {
	return Envelope{Kind: KindTransportError, Transport: kind, Message: message}
}

// IsOK reports whether the envelope carries data.
func (envelope Envelope) IsOK() bool {
	return envelope.Kind == KindOK
}

// Err returns nil for ok envelopes and a *CallError otherwise.
func (envelope Envelope) Err() error {
	if envelope.IsOK() {
		return nil
	}
	return &CallError{Envelope: envelope}
}

// Decode unmarshals the data payload into target.
func (envelope Envelope) Decode(target any) error {
	if !envelope.IsOK() {
		return fmt.Errorf("%w: %w", ErrNotOK, envelope.Err())
	}
	if err := json.Unmarshal(envelope.Data, target); err != nil {
		return fmt.Errorf("%w: %w", ErrDecodePayload, err)
	}
	return nil
}
