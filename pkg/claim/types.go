package claim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Cents is a money amount in integer cents. On the wire it is a decimal
// amount in yuan.
type Cents int64

// CentsFromYuan converts a decimal yuan amount, rounding to the nearest cent.
func CentsFromYuan(yuan float64) Cents {
	return Cents(math.Round(yuan * 100))
}

// Yuan returns the decimal yuan amount.
func (cents Cents) Yuan() float64 {
	return float64(cents) / 100
}

// String renders the amount with two decimals.
func (cents Cents) String() string {
	sign := ""
	value := int64(cents)
	if value < 0 {
		sign = "-"
		value = -value
	}
	return fmt.Sprintf("%s%d.%02d", sign, value/100, value%100)
}

// MarshalJSON emits the yuan amount.
func (cents Cents) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(cents.Yuan(), 'f', 2, 64)), nil
}

// UnmarshalJSON accepts a yuan amount as a number or numeric string.
func (cents *Cents) UnmarshalJSON(data []byte) error {
	trimmed := bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*cents = 0
		return nil
	}
	yuan, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAmount, string(data))
	}
	*cents = CentsFromYuan(yuan)
	return nil
}

// ParseCents parses a decimal yuan amount such as "12.50".
func ParseCents(input string) (Cents, error) {
	yuan, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil || math.IsNaN(yuan) || math.IsInf(yuan, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}
	return CentsFromYuan(yuan), nil
}

// OrderStatus is the lifecycle state of a drop-off order.
type OrderStatus int

const (
	OrderPending OrderStatus = iota
	OrderClaimed
	OrderExpired
	OrderAnomalous
)

var orderStatusNames = map[OrderStatus]string{
	OrderPending:   "pending",
	OrderClaimed:   "claimed",
	OrderExpired:   "expired",
	OrderAnomalous: "anomalous",
}

// ParseOrderStatus accepts the wire integer or the status name.
func ParseOrderStatus(input string) (OrderStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if number, err := strconv.Atoi(normalized); err == nil {
		status := OrderStatus(number)
		if _, ok := orderStatusNames[status]; ok {
			return status, nil
		}
	}
	for status, name := range orderStatusNames {
		if name == normalized {
			return status, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidOrderStatus, input)
}

// String returns the status name.
func (status OrderStatus) String() string {
	if name, ok := orderStatusNames[status]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the status can no longer change.
func (status OrderStatus) Terminal() bool {
	return status != OrderPending
}

// MarshalJSON emits the wire integer.
func (status OrderStatus) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(status))), nil
}

// UnmarshalJSON accepts the wire integer or the status name.
func (status *OrderStatus) UnmarshalJSON(data []byte) error {
	parsed, err := ParseOrderStatus(string(bytes.Trim(bytes.TrimSpace(data), `"`)))
	if err != nil {
		return err
	}
	*status = parsed
	return nil
}

// ClaimableOrder is a drop-off order as reported by the server. Amount is
// server-computed and never derived locally.
type ClaimableOrder struct {
	OrderID           string      `json:"order_id"`
	VoucherID         string      `json:"voucher_id,omitempty"`
	DeviceID          string      `json:"device_id,omitempty"`
	DeviceName        string      `json:"device_name,omitempty"`
	WeightKg          float64     `json:"weight"`
	UnitPrice         Cents       `json:"unit_price"`
	Amount            Cents       `json:"amount"`
	CarbonReductionKg float64     `json:"carbon_reduction"`
	Points            int64       `json:"points"`
	Status            OrderStatus `json:"status"`
	IssuedAt          string      `json:"qrcode_time,omitempty"`
	ExpiresAt         string      `json:"expire_time,omitempty"`
}

// UnmarshalJSON also reads the weight_kg and carbon_reduction_kg spellings.
func (order *ClaimableOrder) UnmarshalJSON(data []byte) error {
	type orderWire ClaimableOrder
	var wire struct {
		orderWire
		WeightKgAlias          *float64 `json:"weight_kg"`
		CarbonReductionKgAlias *float64 `json:"carbon_reduction_kg"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*order = ClaimableOrder(wire.orderWire)
	if wire.WeightKgAlias != nil {
		order.WeightKg = *wire.WeightKgAlias
	}
	if wire.CarbonReductionKgAlias != nil {
		order.CarbonReductionKg = *wire.CarbonReductionKgAlias
	}
	return nil
}

// Settlement is the server's authoritative result of a claim.
type Settlement struct {
	OrderID           string  `json:"order_id"`
	Amount            Cents   `json:"amount"`
	WeightKg          float64 `json:"weight"`
	CarbonReductionKg float64 `json:"carbon_reduction"`
	PointsEarned      int64   `json:"points_earned"`
	WalletBalance     Cents   `json:"wallet_balance"`
}

// WalletState mirrors the server wallet. It is replaced wholesale after
// every mutating call and never adjusted locally.
type WalletState struct {
	Balance       Cents `json:"balance"`
	FrozenBalance Cents `json:"frozen_balance"`
	Available     Cents `json:"available_balance"`
	Points        int64 `json:"points"`
}

// UnmarshalJSON falls back to balance minus frozen when the server omits
// the available amount.
func (wallet *WalletState) UnmarshalJSON(data []byte) error {
	type walletWire WalletState
	var wire struct {
		walletWire
		Available *Cents `json:"available_balance"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*wallet = WalletState(wire.walletWire)
	if wire.Available != nil {
		wallet.Available = *wire.Available
	} else {
		wallet.Available = max(wallet.Balance-wallet.FrozenBalance, 0)
	}
	return nil
}

// Channel is a withdrawal payout channel.
type Channel string

const (
	ChannelWeChat Channel = "wechat"
	ChannelAlipay Channel = "alipay"
)

// ParseChannel validates a payout channel name.
func ParseChannel(input string) (Channel, error) {
	channel := Channel(strings.ToLower(strings.TrimSpace(input)))
	switch channel {
	case ChannelWeChat, ChannelAlipay:
		return channel, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, input)
	}
}

// WithdrawalReceipt acknowledges a submitted withdrawal.
type WithdrawalReceipt struct {
	WithdrawalID string  `json:"withdrawal_id,omitempty"`
	Amount       Cents   `json:"amount"`
	Channel      Channel `json:"channel"`
	Status       string  `json:"status,omitempty"`
}

// State is the claim transaction state.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateResolving
	StateAwaitingConfirmation
	StateClaiming
	StateSettled
)

// String returns the state name.
func (state State) String() string {
	switch state {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateResolving:
		return "resolving"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateClaiming:
		return "claiming"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}
