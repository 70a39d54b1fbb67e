// Package claim drives the scan, resolve, claim and settle transaction and the
// withdrawal submission on top of the gateway.
package claim

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/voucher"
)

// Caller performs gateway calls.
type Caller interface {
	Call(ctx context.Context, request gateway.Request) gateway.Envelope
}

// SessionState reports whether a session token is present.
type SessionState interface {
	Authenticated() bool
}

// Authenticator performs one login round trip.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// Scanner captures the raw text of a code.
type Scanner interface {
	Scan(ctx context.Context) (string, error)
}

// WithScanner wires the code scanning capability used by Scan.
func WithScanner(scanner Scanner) WorkflowOption {
	return func(workflow *Workflow) {
		workflow.scanner = scanner
	}
}

// WithMinimumWithdrawal overrides the local withdrawal minimum.
func WithMinimumWithdrawal(minimum Cents) WorkflowOption {
	return func(workflow *Workflow) {
		workflow.minimumWithdrawal = minimum
	}
}

// WithScanLimiter throttles Scan and Resolve before they reach the network.
func WithScanLimiter(limiter *rate.Limiter) WorkflowOption {
	return func(workflow *Workflow) {
		workflow.scanLimiter = limiter
	}
}

// Workflow is the claim transaction for one operator session.
type Workflow struct {
	caller            Caller
	session           SessionState
	authenticator     Authenticator
	scanner           Scanner
	logger            OperationLogger
	minimumWithdrawal Cents
	scanLimiter       *rate.Limiter

	mutex       sync.Mutex
	state       State
	order       *ClaimableOrder
	settlement  *Settlement
	wallet      *WalletState
	walletStale bool

	claiming    atomic.Bool
	withdrawing atomic.Bool
}

// NewWorkflow wires a Workflow.
func NewWorkflow(caller Caller, session SessionState, authenticator Authenticator, options ...WorkflowOption) (*Workflow, error) {
	if caller == nil {
		return nil, fmt.Errorf("%w: caller dependency is nil", ErrInvalidWorkflow)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: session dependency is nil", ErrInvalidWorkflow)
	}
	workflow := &Workflow{
		caller:            caller,
		session:           session,
		authenticator:     authenticator,
		minimumWithdrawal: DefaultMinimumWithdrawal,
	}
	for _, option := range options {
		if option != nil {
			option(workflow)
		}
	}
	if workflow.minimumWithdrawal <= 0 {
		return nil, fmt.Errorf("%w: minimum withdrawal must be positive", ErrInvalidWorkflow)
	}
	return workflow, nil
}

// State returns the current transaction state.
func (workflow *Workflow) State() State {
	workflow.mutex.Lock()
	defer workflow.mutex.Unlock()
	return workflow.state
}

// Order returns the order being claimed, if any.
func (workflow *Workflow) Order() (ClaimableOrder, bool) {
	workflow.mutex.Lock()
	defer workflow.mutex.Unlock()
	if workflow.order == nil {
		return ClaimableOrder{}, false
	}
	return *workflow.order, true
}

// Settlement returns the last confirmed settlement, if any.
func (workflow *Workflow) Settlement() (Settlement, bool) {
	workflow.mutex.Lock()
	defer workflow.mutex.Unlock()
	if workflow.settlement == nil {
		return Settlement{}, false
	}
	return *workflow.settlement, true
}

// Reset returns the workflow to Idle and forgets the current order.
// The wallet mirror is kept.
func (workflow *Workflow) Reset() {
	workflow.mutex.Lock()
	defer workflow.mutex.Unlock()
	workflow.state = StateIdle
	workflow.order = nil
	workflow.settlement = nil
}

// Scan captures a code through the Scanner and resolves it.
func (workflow *Workflow) Scan(ctx context.Context) (ClaimableOrder, error) {
	if workflow.scanner == nil {
		return ClaimableOrder{}, ErrScannerUnavailable
	}
	if workflow.claiming.Load() {
		return ClaimableOrder{}, ErrClaimInFlight
	}
	workflow.setState(StateScanning)
	rawCode, err := workflow.scanner.Scan(ctx)
	if err != nil {
		workflow.setState(StateIdle)
		workflow.logOperation(ctx, OperationLog{Operation: operationScan, Error: err})
		return ClaimableOrder{}, err
	}
	return workflow.Resolve(ctx, rawCode)
}

// Resolve asks the server to resolve a scanned code into a pending order.
func (workflow *Workflow) Resolve(ctx context.Context, rawCode string) (ClaimableOrder, error) {
	order, voucherID, err := workflow.resolve(ctx, rawCode)
	workflow.logOperation(ctx, OperationLog{
		Operation: operationResolve,
		OrderID:   order.OrderID,
		VoucherID: voucherID,
		Amount:    order.Amount,
		Error:     err,
	})
	return order, err
}

func (workflow *Workflow) resolve(ctx context.Context, rawCode string) (ClaimableOrder, string, error) {
	trimmed := strings.TrimSpace(rawCode)
	voucherID := inspectVoucherID(trimmed)
	if trimmed == "" {
		workflow.setResolveState(StateIdle)
		return ClaimableOrder{}, voucherID, fmt.Errorf("%w: empty code", ErrInvalidCode)
	}
	if workflow.claiming.Load() {
		return ClaimableOrder{}, voucherID, ErrClaimInFlight
	}
	if workflow.scanLimiter != nil && !workflow.scanLimiter.Allow() {
		workflow.setResolveState(StateIdle)
		return ClaimableOrder{}, voucherID, ErrScanThrottled
	}
	workflow.setResolveState(StateResolving)
	if err := workflow.ensureAuthenticated(ctx); err != nil {
		workflow.setResolveState(StateIdle)
		return ClaimableOrder{}, voucherID, err
	}
	envelope := workflow.caller.Call(ctx, gateway.Request{
		Path:    PathScan,
		Method:  gateway.MethodPost,
		Payload: map[string]any{"qrcode_data": trimmed},
	})
	var order ClaimableOrder
	if err := envelope.Err(); err != nil {
		workflow.setResolveState(StateIdle)
		return ClaimableOrder{}, voucherID, mapCallError(err)
	}
	if err := envelope.Decode(&order); err != nil {
		workflow.setResolveState(StateIdle)
		return ClaimableOrder{}, voucherID, err
	}
	if order.VoucherID != "" {
		voucherID = order.VoucherID
	}
	if order.Status != OrderPending {
		workflow.setResolveState(StateIdle)
		return order, voucherID, notPendingError(order.Status)
	}

	workflow.mutex.Lock()
	defer workflow.mutex.Unlock()
	// A claim started while the code was resolving owns the current order.
	if workflow.claiming.Load() {
		return order, voucherID, ErrClaimInFlight
	}
	workflow.order = &order
	workflow.settlement = nil
	workflow.state = StateAwaitingConfirmation
	return order, voucherID, nil
}

// setResolveState moves the state on behalf of a resolve unless a claim
// has taken the workflow over.
func (workflow *Workflow) setResolveState(state State) {
	workflow.mutex.Lock()
	defer workflow.mutex.Unlock()
	if workflow.claiming.Load() {
		return
	}
	workflow.state = state
}

// Claim claims the payout of a pending order. At most one claim runs at a
// time; a concurrent call fails locally with ErrClaimConflict.
func (workflow *Workflow) Claim(ctx context.Context, orderID string) (Settlement, error) {
	settlement, err := workflow.claim(ctx, orderID)
	workflow.logOperation(ctx, OperationLog{
		Operation: operationClaim,
		OrderID:   orderID,
		Amount:    settlement.Amount,
		Error:     err,
	})
	return settlement, err
}

func (workflow *Workflow) claim(ctx context.Context, orderID string) (Settlement, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Settlement{}, ErrInvalidOrderID
	}
	if !workflow.claiming.CompareAndSwap(false, true) {
		return Settlement{}, ErrClaimInFlight
	}
	defer workflow.claiming.Store(false)

	workflow.mutex.Lock()
	if workflow.order != nil && workflow.order.OrderID == orderID && workflow.order.Status.Terminal() {
		status := workflow.order.Status
		workflow.mutex.Unlock()
		if status == OrderClaimed {
			return Settlement{}, fmt.Errorf("%w: order %s already claimed", ErrClaimConflict, orderID)
		}
		return Settlement{}, notPendingError(status)
	}
	workflow.state = StateClaiming
	workflow.mutex.Unlock()

	if err := workflow.ensureAuthenticated(ctx); err != nil {
		workflow.setState(StateIdle)
		return Settlement{}, err
	}
	envelope := workflow.caller.Call(ctx, gateway.Request{
		Path:   fmt.Sprintf(PathClaimFormat, url.PathEscape(orderID)),
		Method: gateway.MethodPost,
	})
	if err := envelope.Err(); err != nil {
		return Settlement{}, workflow.failClaim(orderID, err)
	}
	var settlement Settlement
	if err := envelope.Decode(&settlement); err != nil {
		workflow.setState(StateIdle)
		return Settlement{}, err
	}
	if settlement.OrderID == "" {
		settlement.OrderID = orderID
	}
	workflow.settle(settlement)
	if _, err := workflow.RefreshWallet(ctx); err != nil {
		workflow.mutex.Lock()
		workflow.walletStale = true
		workflow.mutex.Unlock()
	}
	return settlement, nil
}

// failClaim maps a failed claim call and applies the server-confirmed
// order transitions it implies.
func (workflow *Workflow) failClaim(orderID string, callErr error) error {
	mapped := mapCallError(callErr)
	code, _ := gateway.BusinessCode(callErr)
	workflow.mutex.Lock()
	defer workflow.mutex.Unlock()
	workflow.state = StateIdle
	switch {
	case code == gateway.CodeAlreadyClaimed:
		workflow.markOrderLocked(orderID, OrderClaimed)
		return fmt.Errorf("%w: %w", ErrClaimConflict, callErr)
	case code == gateway.CodeCodeExpired:
		workflow.markOrderLocked(orderID, OrderExpired)
	}
	return mapped
}

func (workflow *Workflow) markOrderLocked(orderID string, status OrderStatus) {
	if workflow.order != nil && workflow.order.OrderID == orderID {
		workflow.order.Status = status
	}
}

func (workflow *Workflow) settle(settlement Settlement) {
	workflow.mutex.Lock()
	defer workflow.mutex.Unlock()
	if workflow.order == nil || workflow.order.OrderID != settlement.OrderID {
		workflow.order = &ClaimableOrder{OrderID: settlement.OrderID}
	}
	workflow.order.Amount = settlement.Amount
	workflow.order.WeightKg = settlement.WeightKg
	workflow.order.CarbonReductionKg = settlement.CarbonReductionKg
	workflow.order.Points = settlement.PointsEarned
	workflow.order.Status = OrderClaimed
	workflow.settlement = &settlement
	workflow.state = StateSettled
}

type orderDetailWire struct {
	ClaimableOrder
	PointsEarned *int64 `json:"points_earned"`
}

// RefreshOrder re-reads an order from the server. After a timed-out claim it
// tells whether the claim landed.
func (workflow *Workflow) RefreshOrder(ctx context.Context, orderID string) (ClaimableOrder, error) {
	order, err := workflow.refreshOrder(ctx, orderID)
	workflow.logOperation(ctx, OperationLog{Operation: operationRefreshOrder, OrderID: orderID, Amount: order.Amount, Error: err})
	return order, err
}

func (workflow *Workflow) refreshOrder(ctx context.Context, orderID string) (ClaimableOrder, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ClaimableOrder{}, ErrInvalidOrderID
	}
	envelope := workflow.caller.Call(ctx, gateway.Request{
		Path:   fmt.Sprintf(PathDetailFormat, url.PathEscape(orderID)),
		Method: gateway.MethodGet,
	})
	if err := envelope.Err(); err != nil {
		return ClaimableOrder{}, mapCallError(err)
	}
	var detail orderDetailWire
	if err := envelope.Decode(&detail); err != nil {
		return ClaimableOrder{}, err
	}
	order := detail.ClaimableOrder
	if detail.PointsEarned != nil {
		order.Points = *detail.PointsEarned
	}
	workflow.mutex.Lock()
	if workflow.order != nil && workflow.order.OrderID == order.OrderID {
		workflow.order = &order
		if order.Status == OrderClaimed && workflow.state == StateAwaitingConfirmation {
			workflow.state = StateIdle
		}
	}
	workflow.mutex.Unlock()
	return order, nil
}

func (workflow *Workflow) ensureAuthenticated(ctx context.Context) error {
	if workflow.session.Authenticated() {
		return nil
	}
	if workflow.authenticator == nil {
		return ErrAuthRequired
	}
	if err := workflow.authenticator.Authenticate(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthRequired, err)
	}
	if !workflow.session.Authenticated() {
		return ErrAuthRequired
	}
	return nil
}

func (workflow *Workflow) setState(state State) {
	workflow.mutex.Lock()
	workflow.state = state
	workflow.mutex.Unlock()
}

func notPendingError(status OrderStatus) error {
	switch status {
	case OrderClaimed:
		return fmt.Errorf("%w: %w", ErrOrderNotPending, ErrAlreadyClaimed)
	case OrderExpired:
		return fmt.Errorf("%w: %w", ErrOrderNotPending, ErrInvalidCode)
	default:
		return fmt.Errorf("%w: status %s", ErrOrderNotPending, status)
	}
}

// inspectVoucherID reads the voucher id from a device payload for tracing.
// Codes that are not device vouchers yield an empty id.
func inspectVoucherID(rawCode string) string {
	parsed, err := voucher.Parse(rawCode)
	if err != nil {
		return ""
	}
	return parsed.VoucherID
}
