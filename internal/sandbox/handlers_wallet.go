package sandbox

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
	"github.com/gin-gonic/gin"
)

const (
	withdrawResultOK       = "ok"
	withdrawResultRejected = "rejected"
)

var withdrawalChannels = map[string]bool{"wechat": true, "alipay": true}

type withdrawRequest struct {
	Amount  float64 `json:"amount"`
	Channel string  `json:"channel"`
}

func (server *Server) handleWalletBalance(ctx *gin.Context) {
	userID := currentUserID(ctx)
	user, err := server.store.User(ctx.Request.Context(), userID)
	if err != nil {
		server.internalError(ctx, "user fetch failed", err)
		return
	}
	balance, err := server.store.Balance(ctx.Request.Context(), userID)
	if err != nil {
		server.internalError(ctx, "balance fetch failed", err)
		return
	}
	respondOK(ctx, gin.H{
		"balance":           yuan(balance.TotalCents),
		"frozen_balance":    yuan(balance.FrozenCents),
		"available_balance": yuan(balance.AvailableCents()),
		"points":            user.Points,
	})
}

func (server *Server) handleWalletRecords(ctx *gin.Context) {
	page, pageSize, ok := parsePagination(ctx)
	if !ok {
		return
	}
	entries, total, err := server.store.ListEntries(ctx.Request.Context(), currentUserID(ctx), page, pageSize)
	if err != nil {
		server.internalError(ctx, "record list failed", err)
		return
	}
	items := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		items = append(items, gin.H{
			"id":         entry.EntryID,
			"type":       entry.Type,
			"amount":     yuan(entry.AmountCents),
			"created_at": formatTime(entry.CreatedAt),
			"remark":     entry.Remark,
		})
	}
	respondOK(ctx, pagePayload(items, total, page, pageSize))
}

// handleWithdraw freezes funds for a payout. Checks run in order: amount,
// minimum, available balance, daily limit.
func (server *Server) handleWithdraw(ctx *gin.Context) {
	var request withdrawRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondDetail(ctx, http.StatusBadRequest, "expected JSON body")
		return
	}
	if request.Amount <= 0 || math.IsNaN(request.Amount) || math.IsInf(request.Amount, 0) {
		respondDetail(ctx, http.StatusBadRequest, "withdrawal amount must be greater than zero")
		return
	}
	channel := normalizeChannel(request.Channel)
	if !withdrawalChannels[channel] {
		respondDetail(ctx, http.StatusBadRequest, "unsupported withdrawal channel")
		return
	}
	amountCents := int64(math.Round(request.Amount * 100))
	if amountCents < server.cfg.MinimumWithdrawal {
		server.metrics.withdrawals.WithLabelValues(withdrawResultRejected).Inc()
		respondBusiness(ctx, gateway.CodeBelowMinimum, "amount is below the withdrawal minimum")
		return
	}
	withdrawal, err := server.store.Withdraw(ctx.Request.Context(), WithdrawalRequest{
		UserID:      currentUserID(ctx),
		AmountCents: amountCents,
		Channel:     channel,
		DailyLimit:  server.cfg.DailyWithdrawalLimit,
		Now:         server.now(),
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientFunds):
		server.metrics.withdrawals.WithLabelValues(withdrawResultRejected).Inc()
		respondBusiness(ctx, gateway.CodeInsufficientBalance, "insufficient balance")
		return
	case errors.Is(err, ErrDailyLimitExceeded):
		server.metrics.withdrawals.WithLabelValues(withdrawResultRejected).Inc()
		respondBusiness(ctx, gateway.CodeDailyLimitExceeded, "daily withdrawal limit exceeded")
		return
	default:
		server.internalError(ctx, "withdraw failed", err)
		return
	}
	server.metrics.withdrawals.WithLabelValues(withdrawResultOK).Inc()
	respondOKMessage(ctx, "withdrawal submitted", gin.H{
		"withdrawal_id": withdrawal.WithdrawalID,
		"amount":        yuan(withdrawal.AmountCents),
		"channel":       withdrawal.Channel,
		"status":        withdrawal.Status,
	})
}

func normalizeChannel(raw string) string {
	channel := strings.ToLower(strings.TrimSpace(raw))
	if channel == "" {
		return "wechat"
	}
	return channel
}
