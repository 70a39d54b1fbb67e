package gateway

import (
	"context"
	"time"
)

// Notifier is the host surface that shows gateway messages to the user.
type Notifier interface {
	BusinessError(ctx context.Context, code int, message string)
	SessionExpired(ctx context.Context)
}

// Tracer receives debug traces for calls made by a Client.
type Tracer interface {
	TraceCall(ctx context.Context, trace Trace)
}

// Trace describes one completed call. Tokens and payloads are never traced.
type Trace struct {
	RequestID     string
	Method        Method
	Path          string
	Authenticated bool
	Envelope      Envelope
	SessionError  error
	Duration      time.Duration
}

func (client *Client) trace(ctx context.Context, trace Trace) {
	if !client.debug || client.tracer == nil {
		return
	}
	client.tracer.TraceCall(ctx, trace)
}
