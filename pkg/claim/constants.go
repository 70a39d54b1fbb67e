package claim

const (
	operationScan          = "scan"
	operationResolve       = "resolve"
	operationClaim         = "claim"
	operationRefreshOrder  = "refresh_order"
	operationRefreshWallet = "refresh_wallet"
	operationWithdraw      = "withdraw"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// DefaultMinimumWithdrawal mirrors the server's one yuan minimum.
	DefaultMinimumWithdrawal Cents = 100
)

// API paths used by the workflow.
const (
	PathScan          = "/order/scan"
	PathClaimFormat   = "/order/%s/claim"
	PathDetailFormat  = "/order/%s/detail"
	PathWalletBalance = "/wallet/balance"
	PathWithdraw      = "/wallet/withdraw"
)
