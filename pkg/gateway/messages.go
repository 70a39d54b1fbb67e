package gateway

import "net/http"

// Business codes understood by the gateway and its callers.
const (
	CodeInvalidCode          = 10001
	CodeDeviceMissing        = 10002
	CodeAlreadyClaimed       = 10003
	CodeCodeExpired          = 10004
	CodeVerificationRequired = 10005
	CodeMalformedPayload     = 10006
	CodeSignatureMismatch    = 10007
	CodeInsufficientBalance  = 20001
	CodeBelowMinimum         = 20002
	CodeDailyLimitExceeded   = 20003

	CodeSessionExpired = http.StatusUnauthorized
	CodeForbidden      = http.StatusForbidden
	CodeNotFound       = http.StatusNotFound
)

// MessageSessionExpired is shown when the server rejects the bearer token.
const MessageSessionExpired = "session expired, please sign in again"

const (
	messageForbidden         = "access denied"
	messageNotFound          = "requested resource does not exist"
	messageServerError       = "server error, retry later"
	messageRequestFailed     = "request failed"
	messageOperationFailed   = "operation failed"
	messageMalformedResponse = "malformed response envelope"
)

var businessMessages = map[int]string{
	CodeInvalidCode:          "invalid voucher code",
	CodeDeviceMissing:        "device not found",
	CodeAlreadyClaimed:       "voucher already claimed",
	CodeCodeExpired:          "voucher expired",
	CodeVerificationRequired: "identity verification required",
	CodeMalformedPayload:     "voucher payload is malformed",
	CodeSignatureMismatch:    "voucher signature mismatch",
	CodeInsufficientBalance:  "insufficient balance",
	CodeBelowMinimum:         "amount is below the withdrawal minimum",
	CodeDailyLimitExceeded:   "daily withdrawal limit exceeded",
}

// LocalizedMessage resolves the display text for a business code.
// Unknown codes fall back to the server supplied message.
func LocalizedMessage(code int, serverMessage string) string {
	if message, ok := businessMessages[code]; ok {
		return message
	}
	if serverMessage != "" {
		return serverMessage
	}
	return messageOperationFailed
}
