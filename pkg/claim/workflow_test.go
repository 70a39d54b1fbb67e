package claim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/voucher"
)

const (
	pendingOrderJSON = `{"order_id":"ORD1","voucher_id":"V1","device_id":"DEV001","device_name":"Bin 1","weight":3.5,"unit_price":0.3,"amount":1.05,"carbon_reduction":8.75,"points":87,"status":0}`
	walletJSON       = `{"balance":12.5,"frozen_balance":2,"available_balance":10.5,"points":87}`
)

type scriptedCaller struct {
	mutex     sync.Mutex
	responses map[string][]gateway.Envelope
	calls     []gateway.Request
	gates     map[string]chan struct{}
	entered   chan string
}

func newScriptedCaller() *scriptedCaller {
	return &scriptedCaller{responses: map[string][]gateway.Envelope{}}
}

func (caller *scriptedCaller) script(method gateway.Method, path string, envelopes ...gateway.Envelope) {
	caller.mutex.Lock()
	defer caller.mutex.Unlock()
	key := string(method) + " " + path
	caller.responses[key] = append(caller.responses[key], envelopes...)
}

func (caller *scriptedCaller) Call(ctx context.Context, request gateway.Request) gateway.Envelope {
	caller.mutex.Lock()
	caller.calls = append(caller.calls, request)
	key := string(request.Method) + " " + request.Path
	queue := caller.responses[key]
	envelope := gateway.TransportError(gateway.TransportUnknown, "no scripted response for "+key)
	if len(queue) > 0 {
		envelope = queue[0]
		if len(queue) > 1 {
			caller.responses[key] = queue[1:]
		}
	}
	gate := caller.gates[request.Path]
	caller.mutex.Unlock()
	if gate != nil {
		caller.entered <- request.Path
		select {
		case <-gate:
		case <-ctx.Done():
			return gateway.TransportError(gateway.TransportUnknown, ctx.Err().Error())
		}
	}
	return envelope
}

// hold makes calls to path wait until the returned channel is closed.
func (caller *scriptedCaller) hold(path string) chan struct{} {
	caller.mutex.Lock()
	defer caller.mutex.Unlock()
	if caller.gates == nil {
		caller.gates = map[string]chan struct{}{}
		caller.entered = make(chan string, 4)
	}
	gate := make(chan struct{})
	caller.gates[path] = gate
	return gate
}

func (caller *scriptedCaller) callCount(path string) int {
	caller.mutex.Lock()
	defer caller.mutex.Unlock()
	count := 0
	for _, call := range caller.calls {
		if call.Path == path {
			count++
		}
	}
	return count
}

type stubSession struct {
	mutex         sync.Mutex
	authenticated bool
}

func (session *stubSession) Authenticated() bool {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.authenticated
}

type stubAuthenticator struct {
	session *stubSession
	err     error
	calls   int
}

func (authenticator *stubAuthenticator) Authenticate(context.Context) error {
	authenticator.calls++
	if authenticator.err != nil {
		return authenticator.err
	}
	authenticator.session.mutex.Lock()
	authenticator.session.authenticated = true
	authenticator.session.mutex.Unlock()
	return nil
}

type recordingLogger struct {
	mutex   sync.Mutex
	entries []OperationLog
}

func (logger *recordingLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

func okEnvelope(payload string) gateway.Envelope {
	return gateway.OK(json.RawMessage(payload))
}

func claimPath(orderID string) string {
	return fmt.Sprintf(PathClaimFormat, orderID)
}

func mustNewWorkflow(test *testing.T, caller Caller, options ...WorkflowOption) (*Workflow, *stubSession) {
	test.Helper()
	session := &stubSession{authenticated: true}
	workflow, err := NewWorkflow(caller, session, &stubAuthenticator{session: session}, options...)
	if err != nil {
		test.Fatalf("new workflow: %v", err)
	}
	return workflow, session
}

func mustResolve(test *testing.T, workflow *Workflow) ClaimableOrder {
	test.Helper()
	order, err := workflow.Resolve(context.Background(), "code")
	if err != nil {
		test.Fatalf("resolve: %v", err)
	}
	return order
}

func TestNewWorkflowValidates(test *testing.T) {
	test.Parallel()
	if _, err := NewWorkflow(nil, &stubSession{}, nil); !errors.Is(err, ErrInvalidWorkflow) {
		test.Fatalf("expected invalid workflow, got %v", err)
	}
	if _, err := NewWorkflow(newScriptedCaller(), nil, nil); !errors.Is(err, ErrInvalidWorkflow) {
		test.Fatalf("expected invalid workflow, got %v", err)
	}
	if _, err := NewWorkflow(newScriptedCaller(), &stubSession{}, nil, WithMinimumWithdrawal(0)); !errors.Is(err, ErrInvalidWorkflow) {
		test.Fatalf("expected invalid workflow, got %v", err)
	}
}

func TestResolvePendingOrder(test *testing.T) {
	test.Parallel()
	caller := newScriptedCaller()
	caller.script(gateway.MethodPost, PathScan, okEnvelope(pendingOrderJSON))
	logger := &recordingLogger{}
	workflow, _ := mustNewWorkflow(test, caller, WithOperationLogger(logger))

	order := mustResolve(test, workflow)
	if order.OrderID != "ORD1" || order.Amount != 105 || order.UnitPrice != 30 || order.Status != OrderPending {
		test.Fatalf("unexpected order %+v", order)
	}
	if workflow.State() != StateAwaitingConfirmation {
		test.Fatalf("expected awaiting confirmation, got %s", workflow.State())
	}
	if len(logger.entries) != 1 || logger.entries[0].Operation != operationResolve || logger.entries[0].Status != operationStatusOK {
		test.Fatalf("unexpected log entries %+v", logger.entries)
	}
	if logger.entries[0].VoucherID != "V1" {
		test.Fatalf("expected voucher id in log, got %q", logger.entries[0].VoucherID)
	}
}

func TestResolveErrorMapping(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name        string
		envelope    gateway.Envelope
		wantErr     error
		wantCallErr bool
		wantAbsent  []error
	}{
		{name: "invalid code", envelope: gateway.BusinessError(gateway.CodeInvalidCode, "x"), wantErr: ErrInvalidCode, wantCallErr: true},
		{name: "device missing", envelope: gateway.BusinessError(gateway.CodeDeviceMissing, "x"), wantErr: ErrInvalidCode, wantCallErr: true},
		{name: "expired", envelope: gateway.BusinessError(gateway.CodeCodeExpired, "x"), wantErr: ErrInvalidCode, wantCallErr: true},
		{name: "already claimed", envelope: gateway.BusinessError(gateway.CodeAlreadyClaimed, "x"), wantErr: ErrAlreadyClaimed, wantCallErr: true},
		{name: "malformed payload is generic", envelope: gateway.BusinessError(gateway.CodeMalformedPayload, "x"), wantErr: gateway.ErrBusiness, wantCallErr: true, wantAbsent: []error{ErrInvalidCode}},
		{name: "transport passes through", envelope: gateway.TransportError(gateway.TransportTimeout, "slow"), wantErr: gateway.ErrTransport, wantCallErr: true, wantAbsent: []error{ErrInvalidCode}},
		{name: "claimed result", envelope: okEnvelope(`{"order_id":"ORD1","amount":1,"status":1}`), wantErr: ErrOrderNotPending},
		{name: "anomalous result", envelope: okEnvelope(`{"order_id":"ORD1","amount":1,"status":"anomalous"}`), wantErr: ErrOrderNotPending},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			caller := newScriptedCaller()
			caller.script(gateway.MethodPost, PathScan, tc.envelope)
			workflow, _ := mustNewWorkflow(test, caller)
			_, err := workflow.Resolve(context.Background(), "code")
			if !errors.Is(err, tc.wantErr) {
				test.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			var callError *gateway.CallError
			if tc.wantCallErr && !errors.As(err, &callError) {
				test.Fatalf("expected the gateway error to stay reachable, got %v", err)
			}
			for _, unexpected := range tc.wantAbsent {
				if errors.Is(err, unexpected) {
					test.Fatalf("did not expect %v in %v", unexpected, err)
				}
			}
			if workflow.State() != StateIdle {
				test.Fatalf("expected idle after failure, got %s", workflow.State())
			}
			if _, ok := workflow.Order(); ok {
				test.Fatalf("failed resolve must not set an order")
			}
		})
	}
}

func TestResolveRejectsEmptyCodeLocally(test *testing.T) {
	test.Parallel()
	caller := newScriptedCaller()
	workflow, _ := mustNewWorkflow(test, caller)
	if _, err := workflow.Resolve(context.Background(), "   "); !errors.Is(err, ErrInvalidCode) {
		test.Fatalf("expected invalid code, got %v", err)
	}
	if len(caller.calls) != 0 {
		test.Fatalf("empty code must not reach the network")
	}
}

func TestClaimSettlementIsAuthoritative(test *testing.T) {
	test.Parallel()
	caller := newScriptedCaller()
	caller.script(gateway.MethodPost, PathScan, okEnvelope(pendingOrderJSON))
	caller.script(gateway.MethodPost, claimPath("ORD1"), okEnvelope(`{"order_id":"ORD1","amount":1.1,"weight":3.6,"carbon_reduction":9,"points_earned":90,"wallet_balance":13.6}`))
	caller.script(gateway.MethodGet, PathWalletBalance, okEnvelope(`{"balance":13.6,"frozen_balance":0,"available_balance":13.6,"points":90}`))
	workflow, _ := mustNewWorkflow(test, caller)
	mustResolve(test, workflow)

	settlement, err := workflow.Claim(context.Background(), "ORD1")
	if err != nil {
		test.Fatalf("claim: %v", err)
	}
	if settlement.Amount != 110 || settlement.WalletBalance != 1360 {
		test.Fatalf("unexpected settlement %+v", settlement)
	}
	order, _ := workflow.Order()
	if order.Amount != 110 || order.WeightKg != 3.6 || order.Points != 90 || order.Status != OrderClaimed {
		test.Fatalf("order must carry the server figures, got %+v", order)
	}
	if workflow.State() != StateSettled {
		test.Fatalf("expected settled, got %s", workflow.State())
	}
	wallet, known, stale := workflow.Wallet()
	if !known || stale || wallet.Balance != 1360 {
		test.Fatalf("expected refreshed wallet, got %+v known=%v stale=%v", wallet, known, stale)
	}
}

func TestClaimIsSingleFlight(test *testing.T) {
	test.Parallel()
	caller := newScriptedCaller()
	caller.script(gateway.MethodPost, PathScan, okEnvelope(pendingOrderJSON))
	caller.script(gateway.MethodPost, claimPath("ORD1"), okEnvelope(`{"order_id":"ORD1","amount":1.05}`))
	caller.script(gateway.MethodGet, PathWalletBalance, okEnvelope(walletJSON))
	workflow, _ := mustNewWorkflow(test, caller)
	mustResolve(test, workflow)

	claimGate := caller.hold(claimPath("ORD1"))

	firstResult := make(chan error, 1)
	go func() {
		_, err := workflow.Claim(context.Background(), "ORD1")
		firstResult <- err
	}()
	<-caller.entered

	if _, err := workflow.Claim(context.Background(), "ORD1"); !errors.Is(err, ErrClaimConflict) {
		test.Fatalf("expected claim conflict, got %v", err)
	}
	if _, err := workflow.Resolve(context.Background(), "other"); !errors.Is(err, ErrClaimInFlight) {
		test.Fatalf("expected resolve to be rejected while claiming, got %v", err)
	}
	close(claimGate)
	if err := <-firstResult; err != nil {
		test.Fatalf("first claim: %v", err)
	}
	if count := caller.callCount(claimPath("ORD1")); count != 1 {
		test.Fatalf("expected exactly one claim call, got %d", count)
	}
}

func TestResolveKeepsOrderOfInFlightClaim(test *testing.T) {
	test.Parallel()
	caller := newScriptedCaller()
	caller.script(gateway.MethodPost, PathScan,
		okEnvelope(pendingOrderJSON),
		okEnvelope(`{"order_id":"ORD2","amount":0.5,"status":0}`),
	)
	caller.script(gateway.MethodPost, claimPath("ORD1"), okEnvelope(`{"order_id":"ORD1","amount":1.05}`))
	caller.script(gateway.MethodGet, PathWalletBalance, okEnvelope(walletJSON))
	workflow, _ := mustNewWorkflow(test, caller)
	mustResolve(test, workflow)

	scanGate := caller.hold(PathScan)
	claimGate := caller.hold(claimPath("ORD1"))

	resolveResult := make(chan error, 1)
	go func() {
		_, err := workflow.Resolve(context.Background(), "other")
		resolveResult <- err
	}()
	if path := <-caller.entered; path != PathScan {
		test.Fatalf("expected the resolve call first, got %s", path)
	}

	claimResult := make(chan error, 1)
	go func() {
		_, err := workflow.Claim(context.Background(), "ORD1")
		claimResult <- err
	}()
	if path := <-caller.entered; path != claimPath("ORD1") {
		test.Fatalf("expected the claim call, got %s", path)
	}

	close(scanGate)
	if err := <-resolveResult; !errors.Is(err, ErrClaimInFlight) {
		test.Fatalf("expected the late resolve to yield to the claim, got %v", err)
	}
	if order, _ := workflow.Order(); order.OrderID != "ORD1" {
		test.Fatalf("expected the claimed order to stay current, got %s", order.OrderID)
	}
	if state := workflow.State(); state != StateClaiming {
		test.Fatalf("expected the claim to keep its state, got %v", state)
	}

	close(claimGate)
	if err := <-claimResult; err != nil {
		test.Fatalf("claim: %v", err)
	}
	if settlement, ok := workflow.Settlement(); !ok || settlement.OrderID != "ORD1" {
		test.Fatalf("expected ORD1 to settle, got %+v", settlement)
	}
}

func TestClaimAuthenticatesOnce(test *testing.T) {
	test.Parallel()
	test.Run("success", func(test *testing.T) {
		test.Parallel()
		caller := newScriptedCaller()
		caller.script(gateway.MethodPost, claimPath("ORD1"), okEnvelope(`{"order_id":"ORD1","amount":1.05}`))
		caller.script(gateway.MethodGet, PathWalletBalance, okEnvelope(walletJSON))
		session := &stubSession{}
		authenticator := &stubAuthenticator{session: session}
		workflow, err := NewWorkflow(caller, session, authenticator)
		if err != nil {
			test.Fatalf("new workflow: %v", err)
		}
		if _, err := workflow.Claim(context.Background(), "ORD1"); err != nil {
			test.Fatalf("claim: %v", err)
		}
		if authenticator.calls != 1 {
			test.Fatalf("expected one authentication round trip, got %d", authenticator.calls)
		}
	})
	test.Run("failure", func(test *testing.T) {
		test.Parallel()
		caller := newScriptedCaller()
		caller.script(gateway.MethodPost, PathScan, okEnvelope(pendingOrderJSON))
		session := &stubSession{authenticated: true}
		authenticator := &stubAuthenticator{session: session, err: errors.New("login code unavailable")}
		workflow, err := NewWorkflow(caller, session, authenticator)
		if err != nil {
			test.Fatalf("new workflow: %v", err)
		}
		mustResolve(test, workflow)
		session.mutex.Lock()
		session.authenticated = false
		session.mutex.Unlock()

		if _, err := workflow.Claim(context.Background(), "ORD1"); !errors.Is(err, ErrAuthRequired) {
			test.Fatalf("expected auth required, got %v", err)
		}
		if authenticator.calls != 1 {
			test.Fatalf("expected one authentication attempt, got %d", authenticator.calls)
		}
		if caller.callCount(claimPath("ORD1")) != 0 {
			test.Fatalf("claim must not be sent without a session")
		}
		order, _ := workflow.Order()
		if order.Status != OrderPending || workflow.State() != StateIdle {
			test.Fatalf("order must stay pending, got %+v in %s", order, workflow.State())
		}
	})
}

func TestClaimConflictMarksOrderClaimed(test *testing.T) {
	test.Parallel()
	caller := newScriptedCaller()
	caller.script(gateway.MethodPost, PathScan, okEnvelope(pendingOrderJSON))
	caller.script(gateway.MethodPost, claimPath("ORD1"), gateway.BusinessError(gateway.CodeAlreadyClaimed, "claimed"))
	workflow, _ := mustNewWorkflow(test, caller)
	mustResolve(test, workflow)

	if _, err := workflow.Claim(context.Background(), "ORD1"); !errors.Is(err, ErrClaimConflict) {
		test.Fatalf("expected claim conflict, got %v", err)
	}
	order, _ := workflow.Order()
	if order.Status != OrderClaimed {
		test.Fatalf("expected order marked claimed, got %s", order.Status)
	}
	if _, err := workflow.Claim(context.Background(), "ORD1"); !errors.Is(err, ErrClaimConflict) {
		test.Fatalf("expected local claim conflict, got %v", err)
	}
	if count := caller.callCount(claimPath("ORD1")); count != 1 {
		test.Fatalf("claimed orders must not be retried, got %d calls", count)
	}
}

func TestClaimErrorMapping(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name       string
		envelope   gateway.Envelope
		wantErr    error
		wantStatus OrderStatus
	}{
		{name: "expired", envelope: gateway.BusinessError(gateway.CodeCodeExpired, "x"), wantErr: ErrInvalidCode, wantStatus: OrderExpired},
		{name: "session expired", envelope: gateway.Envelope{Kind: gateway.KindBusinessError, Code: gateway.CodeSessionExpired, HTTPStatus: gateway.CodeSessionExpired}, wantErr: ErrAuthRequired, wantStatus: OrderPending},
		{name: "timeout", envelope: gateway.TransportError(gateway.TransportTimeout, "slow"), wantErr: gateway.ErrTransport, wantStatus: OrderPending},
		{name: "not found", envelope: gateway.BusinessError(gateway.CodeNotFound, "missing"), wantErr: gateway.ErrBusiness, wantStatus: OrderPending},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			caller := newScriptedCaller()
			caller.script(gateway.MethodPost, PathScan, okEnvelope(pendingOrderJSON))
			caller.script(gateway.MethodPost, claimPath("ORD1"), tc.envelope)
			workflow, _ := mustNewWorkflow(test, caller)
			mustResolve(test, workflow)
			if _, err := workflow.Claim(context.Background(), "ORD1"); !errors.Is(err, tc.wantErr) {
				test.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			order, _ := workflow.Order()
			if order.Status != tc.wantStatus {
				test.Fatalf("expected status %s, got %s", tc.wantStatus, order.Status)
			}
			if order.Amount != 105 {
				test.Fatalf("failed claims must not touch order figures, got %d", order.Amount)
			}
			if _, known, _ := workflow.Wallet(); known {
				test.Fatalf("failed claims must not touch the wallet")
			}
		})
	}
}

func TestClaimVerificationRequired(test *testing.T) {
	test.Parallel()
	caller := newScriptedCaller()
	caller.script(gateway.MethodPost, claimPath("ORD1"), gateway.BusinessError(gateway.CodeVerificationRequired, "verify"))
	workflow, _ := mustNewWorkflow(test, caller)
	_, err := workflow.Claim(context.Background(), "ORD1")
	var verificationError *VerificationRequiredError
	if !errors.As(err, &verificationError) {
		test.Fatalf("expected verification required, got %v", err)
	}
	if verificationError.NextAction != NextActionVerifyIdentity {
		test.Fatalf("unexpected next action %q", verificationError.NextAction)
	}
	if code, ok := gateway.BusinessCode(err); !ok || code != gateway.CodeVerificationRequired {
		test.Fatalf("expected underlying business code, got %d", code)
	}
}

func TestClaimTimeoutThenRefreshOrder(test *testing.T) {
	test.Parallel()
	caller := newScriptedCaller()
	caller.script(gateway.MethodPost, PathScan, okEnvelope(pendingOrderJSON))
	caller.script(gateway.MethodPost, claimPath("ORD1"), gateway.TransportError(gateway.TransportTimeout, "slow"))
	caller.script(gateway.MethodGet, fmt.Sprintf(PathDetailFormat, "ORD1"), okEnvelope(`{"order_id":"ORD1","amount":1.05,"weight":3.5,"points_earned":87,"status":1}`))
	workflow, _ := mustNewWorkflow(test, caller)
	mustResolve(test, workflow)

	if _, err := workflow.Claim(context.Background(), "ORD1"); !errors.Is(err, gateway.ErrTransport) {
		test.Fatalf("expected transport error, got %v", err)
	}
	order, err := workflow.RefreshOrder(context.Background(), "ORD1")
	if err != nil {
		test.Fatalf("refresh order: %v", err)
	}
	if order.Status != OrderClaimed || order.Points != 87 {
		test.Fatalf("unexpected refreshed order %+v", order)
	}
	if current, _ := workflow.Order(); current.Status != OrderClaimed {
		test.Fatalf("expected local order to follow the server, got %s", current.Status)
	}
}

func TestClaimWalletRefreshFailureMarksStale(test *testing.T) {
	test.Parallel()
	caller := newScriptedCaller()
	caller.script(gateway.MethodPost, claimPath("ORD1"), okEnvelope(`{"order_id":"ORD1","amount":1.05,"wallet_balance":1.05}`))
	caller.script(gateway.MethodGet, PathWalletBalance, gateway.TransportError(gateway.TransportNetworkUnavailable, "offline"))
	logger := &recordingLogger{}
	workflow, _ := mustNewWorkflow(test, caller, WithOperationLogger(logger))
	settlement, err := workflow.Claim(context.Background(), "ORD1")
	if err != nil {
		test.Fatalf("claim must succeed when only the wallet refresh fails: %v", err)
	}
	if settlement.Amount != 105 {
		test.Fatalf("unexpected settlement %+v", settlement)
	}
	if _, _, stale := workflow.Wallet(); !stale {
		test.Fatalf("expected stale wallet")
	}
	var refreshLogged bool
	for _, entry := range logger.entries {
		if entry.Operation == operationRefreshWallet && entry.Status == operationStatusError {
			refreshLogged = true
		}
	}
	if !refreshLogged {
		test.Fatalf("expected the failed wallet refresh to be logged")
	}
}

type stubScanner struct {
	code string
	err  error
}

func (scanner stubScanner) Scan(context.Context) (string, error) {
	return scanner.code, scanner.err
}

func TestScanUsesScannerAndLimiter(test *testing.T) {
	test.Parallel()
	issued, err := voucher.Issue("DEV001", "V-SCAN", 3500, 30, time.Now(), voucher.DefaultLifetime, "secret")
	if err != nil {
		test.Fatalf("issue voucher: %v", err)
	}
	encoded, err := voucher.Encode(issued)
	if err != nil {
		test.Fatalf("encode voucher: %v", err)
	}
	caller := newScriptedCaller()
	caller.script(gateway.MethodPost, PathScan, okEnvelope(`{"order_id":"ORD9","amount":1.05,"status":0}`))
	logger := &recordingLogger{}
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	workflow, _ := mustNewWorkflow(test, caller,
		WithScanner(stubScanner{code: encoded}),
		WithScanLimiter(limiter),
		WithOperationLogger(logger),
	)

	order, err := workflow.Scan(context.Background())
	if err != nil {
		test.Fatalf("scan: %v", err)
	}
	if order.OrderID != "ORD9" {
		test.Fatalf("unexpected order %+v", order)
	}
	if caller.calls[0].Payload["qrcode_data"] != encoded {
		test.Fatalf("expected the raw code to be sent unchanged")
	}
	if logger.entries[0].VoucherID != "V-SCAN" {
		test.Fatalf("expected voucher id from the payload, got %q", logger.entries[0].VoucherID)
	}
	if _, err := workflow.Scan(context.Background()); !errors.Is(err, ErrScanThrottled) {
		test.Fatalf("expected throttled scan, got %v", err)
	}
	if len(caller.calls) != 1 {
		test.Fatalf("throttled scans must not reach the network")
	}
}

func TestScanFailures(test *testing.T) {
	test.Parallel()
	withoutScanner, _ := mustNewWorkflow(test, newScriptedCaller())
	if _, err := withoutScanner.Scan(context.Background()); !errors.Is(err, ErrScannerUnavailable) {
		test.Fatalf("expected scanner unavailable, got %v", err)
	}
	canceled := errors.New("scan canceled")
	workflow, _ := mustNewWorkflow(test, newScriptedCaller(), WithScanner(stubScanner{err: canceled}))
	if _, err := workflow.Scan(context.Background()); !errors.Is(err, canceled) {
		test.Fatalf("expected scanner error, got %v", err)
	}
	if workflow.State() != StateIdle {
		test.Fatalf("expected idle after a failed scan, got %s", workflow.State())
	}
}
