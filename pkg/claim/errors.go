package claim

import (
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
)

// Error values returned by the claim workflow.
var (
	ErrInvalidCode         = errors.New("invalid code")
	ErrAlreadyClaimed      = errors.New("order already claimed")
	ErrOrderNotPending     = errors.New("order is not pending")
	ErrClaimConflict       = errors.New("claim conflict")
	ErrAuthRequired        = errors.New("authentication required")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBelowMinimum        = errors.New("amount below withdrawal minimum")
	ErrDailyLimitExceeded  = errors.New("daily withdrawal limit exceeded")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidChannel      = errors.New("invalid withdrawal channel")
	ErrInvalidOrderStatus  = errors.New("invalid order status")
	ErrInvalidOrderID      = errors.New("invalid order id")
	ErrInvalidWorkflow     = errors.New("invalid workflow config")
	ErrScannerUnavailable  = errors.New("scanner unavailable")
	ErrScanThrottled       = errors.New("scan throttled")

	// ErrClaimInFlight is returned locally while another claim is running.
	ErrClaimInFlight = fmt.Errorf("%w: claim already in flight", ErrClaimConflict)
	// ErrWithdrawalInFlight is returned locally while another withdrawal is running.
	ErrWithdrawalInFlight = errors.New("withdrawal already in flight")
)

// NextActionVerifyIdentity asks the user to complete identity verification.
const NextActionVerifyIdentity = "verify_identity"

// VerificationRequiredError reports that the server requires identity
// verification before the operation can proceed.
type VerificationRequiredError struct {
	NextAction string
	err        error
}

// Error returns the formatted error message.
func (verificationError *VerificationRequiredError) Error() string {
	return fmt.Sprintf("verification required (next action %s)", verificationError.NextAction)
}

// Unwrap returns the underlying gateway error.
func (verificationError *VerificationRequiredError) Unwrap() error {
	return verificationError.err
}

// UserMessage returns the single display message for a terminal failure.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var verificationError *VerificationRequiredError
	if errors.As(err, &verificationError) {
		return "identity verification is required before claiming"
	}
	for _, known := range knownMessages {
		if errors.Is(err, known.err) {
			return known.message
		}
	}
	var callError *gateway.CallError
	if errors.As(err, &callError) {
		return callErrorMessage(callError.Envelope)
	}
	return "operation failed"
}

var knownMessages = []struct {
	err     error
	message string
}{
	{err: ErrClaimInFlight, message: "a claim is already in progress"},
	{err: ErrWithdrawalInFlight, message: "a withdrawal is already in progress"},
	{err: ErrAuthRequired, message: "please sign in and try again"},
	{err: ErrAlreadyClaimed, message: "this order was already claimed"},
	{err: ErrClaimConflict, message: "this order was already claimed"},
	{err: ErrInvalidCode, message: "the code is invalid or has expired"},
	{err: ErrOrderNotPending, message: "this order can no longer be claimed"},
	{err: ErrInsufficientBalance, message: "insufficient balance"},
	{err: ErrDailyLimitExceeded, message: "daily withdrawal limit reached"},
	{err: ErrInvalidAmount, message: "enter a valid amount"},
	{err: ErrBelowMinimum, message: "amount is below the withdrawal minimum"},
	{err: ErrInvalidChannel, message: "choose a withdrawal channel"},
	{err: ErrScanThrottled, message: "scanning too fast, wait a moment"},
	{err: ErrScannerUnavailable, message: "scanner is unavailable"},
}

func callErrorMessage(envelope gateway.Envelope) string {
	if envelope.Kind != gateway.KindTransportError {
		return envelope.Message
	}
	switch envelope.Transport {
	case gateway.TransportTimeout:
		return "request timed out, check the order status before retrying"
	case gateway.TransportNetworkUnavailable:
		return "network unavailable, check the connection"
	default:
		return "request failed, retry later"
	}
}

// mapCallError narrows a failed envelope into the workflow error taxonomy.
// The *gateway.CallError stays reachable through errors.As.
func mapCallError(err error) error {
	if errors.Is(err, gateway.ErrSessionExpired) {
		return fmt.Errorf("%w: %w", ErrAuthRequired, err)
	}
	code, ok := gateway.BusinessCode(err)
	if !ok {
		return err
	}
	switch code {
	case gateway.CodeInvalidCode, gateway.CodeDeviceMissing, gateway.CodeCodeExpired:
		return fmt.Errorf("%w: %w", ErrInvalidCode, err)
	case gateway.CodeAlreadyClaimed:
		return fmt.Errorf("%w: %w", ErrAlreadyClaimed, err)
	case gateway.CodeVerificationRequired:
		return &VerificationRequiredError{NextAction: NextActionVerifyIdentity, err: err}
	case gateway.CodeInsufficientBalance:
		return fmt.Errorf("%w: %w", ErrInsufficientBalance, err)
	case gateway.CodeBelowMinimum:
		return fmt.Errorf("%w: %w", ErrBelowMinimum, err)
	case gateway.CodeDailyLimitExceeded:
		return fmt.Errorf("%w: %w", ErrDailyLimitExceeded, err)
	default:
		return err
	}
}
