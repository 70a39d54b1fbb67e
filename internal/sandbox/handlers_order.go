package sandbox

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/voucher"
	"github.com/gin-gonic/gin"
)

const (
	claimResultOK       = "ok"
	claimResultConflict = "conflict"
	claimResultExpired  = "expired"
	claimResultRejected = "rejected"
	messageOrderMissing = "order not found"
)

type scanRequest struct {
	QRCodeData string `json:"qrcode_data"`
}

type orderPayload struct {
	OrderID         string  `json:"order_id"`
	VoucherID       string  `json:"voucher_id"`
	DeviceID        string  `json:"device_id"`
	DeviceName      string  `json:"device_name"`
	Weight          float64 `json:"weight"`
	UnitPrice       float64 `json:"unit_price"`
	Amount          float64 `json:"amount"`
	CarbonReduction float64 `json:"carbon_reduction"`
	Points          int64   `json:"points"`
	Status          int     `json:"status"`
	QRCodeTime      string  `json:"qrcode_time"`
	ExpireTime      string  `json:"expire_time"`
}

func toOrderPayload(order Order, device Device) orderPayload {
	return orderPayload{
		OrderID:         order.OrderID,
		VoucherID:       order.VoucherID,
		DeviceID:        order.DeviceID,
		DeviceName:      device.Name,
		Weight:          order.WeightKg,
		UnitPrice:       yuan(order.UnitPriceCents),
		Amount:          yuan(order.AmountCents),
		CarbonReduction: order.CarbonKg,
		Points:          order.Points,
		Status:          order.Status,
		QRCodeTime:      formatTime(order.IssuedAt),
		ExpireTime:      formatTime(order.ExpiresAt),
	}
}

// handleScan resolves a voucher to its order, creating the order on first
// scan. Checks run in order: payload shape, expiry, device, signature.
func (server *Server) handleScan(ctx *gin.Context) {
	var request scanRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondDetail(ctx, http.StatusBadRequest, "expected JSON body")
		return
	}
	parsed, err := voucher.Parse(request.QRCodeData)
	if err != nil {
		respondBusiness(ctx, gateway.CodeMalformedPayload, "voucher payload is malformed")
		return
	}
	now := server.now()
	if parsed.Expired(now) {
		respondBusiness(ctx, gateway.CodeCodeExpired, "voucher expired")
		return
	}
	device, err := server.store.Device(ctx.Request.Context(), parsed.DeviceID)
	if err != nil {
		if isNotFound(err) {
			respondBusiness(ctx, gateway.CodeDeviceMissing, "device not found")
			return
		}
		server.internalError(ctx, "device fetch failed", err)
		return
	}
	if err := voucher.Verify(parsed, device.SecretKey); err != nil {
		respondBusiness(ctx, gateway.CodeSignatureMismatch, "voucher signature mismatch")
		return
	}

	existing, err := server.store.OrderByVoucher(ctx.Request.Context(), parsed.VoucherID)
	switch {
	case err == nil:
		switch existing.Status {
		case orderStatusClaimed:
			respondBusiness(ctx, gateway.CodeAlreadyClaimed, "voucher already claimed")
			return
		case orderStatusExpired:
			respondBusiness(ctx, gateway.CodeCodeExpired, "voucher expired")
			return
		}
		respondOK(ctx, toOrderPayload(existing, device))
		return
	case !isNotFound(err):
		server.internalError(ctx, "order lookup failed", err)
		return
	}

	weightKg := parsed.WeightKilograms()
	carbon := weightKg * carbonPerKg
	order, err := server.store.CreateOrder(ctx.Request.Context(), Order{
		OrderID:        newOrderID(now),
		VoucherID:      parsed.VoucherID,
		DeviceID:       parsed.DeviceID,
		WeightKg:       weightKg,
		UnitPriceCents: parsed.UnitPrice,
		AmountCents:    parsed.Amount,
		CarbonKg:       carbon,
		Points:         int64(carbon * defaultPointsPerKgCarbon),
		Status:         orderStatusPending,
		IssuedAt:       time.Unix(parsed.IssuedAt, 0).UTC(),
		ExpiresAt:      time.Unix(parsed.ExpiresAt, 0).UTC(),
		CreatedAt:      now,
	})
	if err != nil {
		server.internalError(ctx, "order create failed", err)
		return
	}
	respondOK(ctx, toOrderPayload(order, device))
}

func (server *Server) handleClaim(ctx *gin.Context) {
	userID := currentUserID(ctx)
	orderID := ctx.Param("id")
	if server.cfg.RequireVerification {
		user, err := server.store.User(ctx.Request.Context(), userID)
		if err != nil {
			server.internalError(ctx, "user fetch failed", err)
			return
		}
		if !user.IsVerified {
			server.metrics.claims.WithLabelValues(claimResultRejected).Inc()
			respondBusiness(ctx, gateway.CodeVerificationRequired, "identity verification required")
			return
		}
	}
	result, err := server.store.ClaimOrder(ctx.Request.Context(), userID, orderID, server.now())
	switch {
	case err == nil:
	case isNotFound(err):
		respondDetail(ctx, http.StatusNotFound, messageOrderMissing)
		return
	case errors.Is(err, ErrOrderClaimed):
		server.metrics.claims.WithLabelValues(claimResultConflict).Inc()
		respondBusiness(ctx, gateway.CodeAlreadyClaimed, "voucher already claimed")
		return
	case errors.Is(err, ErrOrderExpired):
		server.metrics.claims.WithLabelValues(claimResultExpired).Inc()
		respondBusiness(ctx, gateway.CodeCodeExpired, "voucher expired")
		return
	default:
		server.internalError(ctx, "claim failed", err)
		return
	}
	balance, err := server.store.Balance(ctx.Request.Context(), userID)
	if err != nil {
		server.internalError(ctx, "balance fetch failed", err)
		return
	}
	server.metrics.claims.WithLabelValues(claimResultOK).Inc()
	respondOKMessage(ctx, "claimed", gin.H{
		"order_id":         result.Order.OrderID,
		"amount":           yuan(result.Order.AmountCents),
		"weight":           result.Order.WeightKg,
		"carbon_reduction": result.Order.CarbonKg,
		"points_earned":    result.Order.Points,
		"wallet_balance":   yuan(balance.TotalCents),
	})
}

func (server *Server) handleListOrders(ctx *gin.Context) {
	page, pageSize, ok := parsePagination(ctx)
	if !ok {
		return
	}
	var status *int
	if raw := ctx.Query("status"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < orderStatusPending || parsed > 3 {
			respondValidation(ctx, "status", "status must be between 0 and 3")
			return
		}
		status = &parsed
	}
	orders, total, err := server.store.ListOrders(ctx.Request.Context(), currentUserID(ctx), status, page, pageSize)
	if err != nil {
		server.internalError(ctx, "order list failed", err)
		return
	}
	names, err := server.deviceNames(ctx, orders)
	if err != nil {
		server.internalError(ctx, "device fetch failed", err)
		return
	}
	items := make([]gin.H, 0, len(orders))
	for _, order := range orders {
		items = append(items, gin.H{
			"order_id":         order.OrderID,
			"device_name":      names[order.DeviceID],
			"weight":           order.WeightKg,
			"amount":           yuan(order.AmountCents),
			"carbon_reduction": order.CarbonKg,
			"status":           order.Status,
			"created_at":       formatTime(order.CreatedAt),
		})
	}
	respondOK(ctx, pagePayload(items, total, page, pageSize))
}

func (server *Server) deviceNames(ctx *gin.Context, orders []Order) (map[string]string, error) {
	names := map[string]string{}
	for _, order := range orders {
		if _, seen := names[order.DeviceID]; seen {
			continue
		}
		device, err := server.store.Device(ctx.Request.Context(), order.DeviceID)
		if err != nil && !isNotFound(err) {
			return nil, err
		}
		names[order.DeviceID] = device.Name
	}
	return names, nil
}

func (server *Server) handleOrderStats(ctx *gin.Context) {
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
		"total_count":  user.TotalCount,
		"total_weight": user.TotalWeightKg,
		"total_amount": yuan(balance.TotalCents + balance.FrozenCents),
		"total_carbon": user.TotalCarbonKg,
	})
}

func (server *Server) handleOrderDetail(ctx *gin.Context) {
	order, device, ok := server.userOrder(ctx)
	if !ok {
		return
	}
	respondOK(ctx, gin.H{
		"order_id":         order.OrderID,
		"voucher_id":       order.VoucherID,
		"device_id":        order.DeviceID,
		"device_name":      device.Name,
		"device_address":   device.Address,
		"weight":           order.WeightKg,
		"unit_price":       yuan(order.UnitPriceCents),
		"amount":           yuan(order.AmountCents),
		"carbon_reduction": order.CarbonKg,
		"points_earned":    order.Points,
		"status":           order.Status,
		"created_at":       formatTime(order.CreatedAt),
		"claim_time":       formatOptionalTime(order.ClaimedAt),
	})
}

// handleOrderTrack derives the order timeline from its timestamps.
func (server *Server) handleOrderTrack(ctx *gin.Context) {
	order, device, ok := server.userOrder(ctx)
	if !ok {
		return
	}
	events := []gin.H{
		{"event": "dropped_off", "occurred_at": formatTime(order.IssuedAt), "detail": device.Name},
		{"event": "scanned", "occurred_at": formatTime(order.CreatedAt)},
	}
	switch order.Status {
	case orderStatusClaimed:
		events = append(events, gin.H{"event": "claimed", "occurred_at": formatOptionalTime(order.ClaimedAt)})
	case orderStatusExpired:
		events = append(events, gin.H{"event": "expired", "occurred_at": formatTime(order.ExpiresAt)})
	}
	respondOK(ctx, events)
}

func (server *Server) userOrder(ctx *gin.Context) (Order, Device, bool) {
	order, err := server.store.UserOrder(ctx.Request.Context(), currentUserID(ctx), ctx.Param("id"))
	if err != nil {
		if isNotFound(err) {
			respondDetail(ctx, http.StatusNotFound, messageOrderMissing)
			return Order{}, Device{}, false
		}
		server.internalError(ctx, "order fetch failed", err)
		return Order{}, Device{}, false
	}
	device, err := server.store.Device(ctx.Request.Context(), order.DeviceID)
	if err != nil && !isNotFound(err) {
		server.internalError(ctx, "device fetch failed", err)
		return Order{}, Device{}, false
	}
	return order, device, true
}

// parsePagination reads page and page_size, answering 422 when they are
// out of range.
func parsePagination(ctx *gin.Context) (int, int, bool) {
	page := 1
	if raw := ctx.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondValidation(ctx, "page", "page must be at least 1")
			return 0, 0, false
		}
		page = parsed
	}
	pageSize := defaultPageSize
	if raw := ctx.Query("page_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxPageSize {
			respondValidation(ctx, "page_size", "page_size must be between 1 and 100")
			return 0, 0, false
		}
		pageSize = parsed
	}
	return page, pageSize, true
}

func respondValidation(ctx *gin.Context, field string, message string) {
	ctx.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{
		{"loc": []string{"query", field}, "msg": message},
	}})
}

func pagePayload(items any, total int64, page int, pageSize int) gin.H {
	return gin.H{
		"items":     items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"pages":     int(math.Ceil(float64(total) / float64(pageSize))),
	}
}

func formatOptionalTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
