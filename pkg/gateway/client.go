package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxResponseBytes      = 4 << 20

	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	headerRequestID     = "X-Request-ID"
	contentTypeJSON     = "application/json"
	bearerPrefix        = "Bearer "
)

// Method is the HTTP verb of a Request.
type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodDelete Method = http.MethodDelete
)

// Request describes one remote call. The zero value of Anonymous requires
// authentication; the token is attached whenever the session holds one.
type Request struct {
	Path      string
	Method    Method
	Payload   map[string]any
	Anonymous bool
}

func (request Request) validate() error {
	if !strings.HasPrefix(request.Path, "/") {
		return fmt.Errorf("%w: path %q must start with /", ErrInvalidRequest, request.Path)
	}
	switch request.Method {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
		return nil
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidRequest, request.Method)
	}
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option configures a Client instance.
type Option func(*Client)

// WithNotifier wires the host surface that displays gateway messages.
func WithNotifier(notifier Notifier) Option {
	return func(client *Client) {
		client.notifier = notifier
	}
}

// WithTracer wires a hook receiving every call when debug tracing is enabled.
func WithTracer(tracer Tracer, debug bool) Option {
	return func(client *Client) {
		client.tracer = tracer
		client.debug = debug
	}
}

// Client performs calls against the remote API on behalf of a Session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *Session
	notifier   Notifier
	tracer     Tracer
	debug      bool
	nowFn      func() time.Time
	requestID  func() string
}

// NewClient wires a Client.
func NewClient(config Config, session *Session, options ...Option) (*Client, error) {
	if session == nil {
		return nil, fmt.Errorf("%w: session dependency is nil", ErrInvalidConfig)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || baseURL == "" {
		return nil, fmt.Errorf("%w: base url %q is invalid", ErrInvalidConfig, config.BaseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: base url %q must use http or https", ErrInvalidConfig, config.BaseURL)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Timeout == 0 {
		clientCopy := *httpClient
		clientCopy.Timeout = timeout
		httpClient = &clientCopy
	}
	client := &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		session:    session,
		nowFn:      time.Now,
		requestID:  uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

// Session returns the session the client acts for.
func (client *Client) Session() *Session {
	return client.session
}

// Call performs request and classifies the outcome. Call never panics and
// never returns a value outside the three Envelope variants.
func (client *Client) Call(ctx context.Context, request Request) Envelope {
	startedAt := client.nowFn()
	requestID := client.requestID()
	authenticated := client.session.Authenticated()
	envelope, sessionErr := client.call(ctx, request, requestID)
	client.trace(ctx, Trace{
		RequestID:     requestID,
		Method:        request.Method,
		Path:          request.Path,
		Authenticated: authenticated,
		Envelope:      envelope,
		SessionError:  sessionErr,
		Duration:      client.nowFn().Sub(startedAt),
	})
	return envelope
}

func (client *Client) call(ctx context.Context, request Request, requestID string) (Envelope, error) {
	if err := request.validate(); err != nil {
		return TransportError(TransportUnknown, err.Error()), nil
	}
	httpRequest, err := client.newHTTPRequest(ctx, request, requestID)
	if err != nil {
		return TransportError(TransportUnknown, err.Error()), nil
	}
	response, err := client.httpClient.Do(httpRequest)
	if err != nil {
		return TransportError(classifyTransportError(err), err.Error()), nil
	}
	defer response.Body.Close()
	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return TransportError(classifyTransportError(err), err.Error()), nil
	}
	envelope := decodeResponse(response.StatusCode, body)
	if envelope.Kind != KindBusinessError {
		return envelope, nil
	}
	return envelope, client.handleBusinessError(ctx, envelope)
}

func (client *Client) newHTTPRequest(ctx context.Context, request Request, requestID string) (*http.Request, error) {
	target := client.baseURL + request.Path
	var body io.Reader
	if request.Method == MethodGet {
		query := encodeQuery(request.Payload)
		if query != "" {
			separator := "?"
			if strings.Contains(target, "?") {
				separator = "&"
			}
			target += separator + query
		}
	} else if request.Payload != nil {
		payloadBytes, err := json.Marshal(request.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: encode payload: %w", ErrInvalidRequest, err)
		}
		body = bytes.NewReader(payloadBytes)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, string(request.Method), target, body)
	if err != nil {
		return nil, err
	}
	httpRequest.Header.Set(headerAccept, contentTypeJSON)
	httpRequest.Header.Set(headerRequestID, requestID)
	if body != nil {
		httpRequest.Header.Set(headerContentType, contentTypeJSON)
	}
	if token, ok := client.session.Token(); ok {
		httpRequest.Header.Set(headerAuthorization, bearerPrefix+token)
	}
	return httpRequest, nil
}

// handleBusinessError clears an expired session and surfaces the message
// to the host. The session-expired notice fires only on the transition.
// Only envelopes delivered with HTTP 200 reach the business notice; other
// statuses are left to the caller.
func (client *Client) handleBusinessError(ctx context.Context, envelope Envelope) error {
	switch {
	case envelope.HTTPStatus == http.StatusUnauthorized:
		wasAuthenticated, err := client.session.invalidate(ctx)
		if wasAuthenticated && client.notifier != nil {
			client.notifier.SessionExpired(ctx)
		}
		return err
	case envelope.HTTPStatus == http.StatusOK && client.notifier != nil:
		client.notifier.BusinessError(ctx, envelope.Code, envelope.Message)
	}
	return nil
}

func encodeQuery(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	values := url.Values{}
	for key, value := range payload {
		if value == nil {
			continue
		}
		values.Set(key, fmt.Sprint(value))
	}
	return values.Encode()
}
