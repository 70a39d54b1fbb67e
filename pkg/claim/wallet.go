package claim

import (
	"context"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
)

// Wallet returns the last server-confirmed wallet and whether it is stale.
// The boolean known is false until the wallet was fetched once.
func (workflow *Workflow) Wallet() (wallet WalletState, known bool, stale bool) {
	workflow.mutex.Lock()
	defer workflow.mutex.Unlock()
	if workflow.wallet == nil {
		return WalletState{}, false, workflow.walletStale
	}
	return *workflow.wallet, true, workflow.walletStale
}

// RefreshWallet replaces the wallet mirror with the server state.
func (workflow *Workflow) RefreshWallet(ctx context.Context) (WalletState, error) {
	wallet, err := workflow.refreshWallet(ctx)
	workflow.logOperation(ctx, OperationLog{Operation: operationRefreshWallet, Amount: wallet.Available, Error: err})
	return wallet, err
}

func (workflow *Workflow) refreshWallet(ctx context.Context) (WalletState, error) {
	envelope := workflow.caller.Call(ctx, gateway.Request{Path: PathWalletBalance, Method: gateway.MethodGet})
	if err := envelope.Err(); err != nil {
		return WalletState{}, mapCallError(err)
	}
	var wallet WalletState
	if err := envelope.Decode(&wallet); err != nil {
		return WalletState{}, err
	}
	workflow.mutex.Lock()
	workflow.wallet = &wallet
	workflow.walletStale = false
	workflow.mutex.Unlock()
	return wallet, nil
}

// SubmitWithdrawal requests a payout of amount to channel. Local checks run
// before the withdrawal call; on success the wallet is re-fetched.
func (workflow *Workflow) SubmitWithdrawal(ctx context.Context, amount Cents, channel Channel) (WithdrawalReceipt, error) {
	receipt, err := workflow.submitWithdrawal(ctx, amount, channel)
	workflow.logOperation(ctx, OperationLog{Operation: operationWithdraw, Amount: amount, Channel: channel, Error: err})
	return receipt, err
}

func (workflow *Workflow) submitWithdrawal(ctx context.Context, amount Cents, channel Channel) (WithdrawalReceipt, error) {
	if !workflow.withdrawing.CompareAndSwap(false, true) {
		return WithdrawalReceipt{}, ErrWithdrawalInFlight
	}
	defer workflow.withdrawing.Store(false)

	if amount <= 0 {
		return WithdrawalReceipt{}, ErrInvalidAmount
	}
	if _, err := ParseChannel(string(channel)); err != nil {
		return WithdrawalReceipt{}, err
	}
	wallet, known, _ := workflow.Wallet()
	if !known {
		if err := workflow.ensureAuthenticated(ctx); err != nil {
			return WithdrawalReceipt{}, err
		}
		refreshed, err := workflow.RefreshWallet(ctx)
		if err != nil {
			return WithdrawalReceipt{}, err
		}
		wallet = refreshed
	}
	if amount > wallet.Available {
		return WithdrawalReceipt{}, ErrInsufficientBalance
	}
	if amount < workflow.minimumWithdrawal {
		return WithdrawalReceipt{}, ErrBelowMinimum
	}
	if err := workflow.ensureAuthenticated(ctx); err != nil {
		return WithdrawalReceipt{}, err
	}
	envelope := workflow.caller.Call(ctx, gateway.Request{
		Path:    PathWithdraw,
		Method:  gateway.MethodPost,
		Payload: map[string]any{"amount": amount.Yuan(), "channel": string(channel)},
	})
	if err := envelope.Err(); err != nil {
		return WithdrawalReceipt{}, mapCallError(err)
	}
	var receipt WithdrawalReceipt
	if err := envelope.Decode(&receipt); err != nil {
		return WithdrawalReceipt{}, err
	}
	if _, err := workflow.RefreshWallet(ctx); err != nil {
		workflow.mutex.Lock()
		workflow.walletStale = true
		workflow.mutex.Unlock()
	}
	return receipt, nil
}
