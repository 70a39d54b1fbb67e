package claim

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
)

func TestCentsConversion(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name   string
		input  string
		want   Cents
		render string
	}{
		{name: "whole", input: "12", want: 1200, render: "12.00"},
		{name: "fraction", input: "1.05", want: 105, render: "1.05"},
		{name: "float noise", input: "0.29999999", want: 30, render: "0.30"},
		{name: "negative", input: "-0.5", want: -50, render: "-0.50"},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			parsed, err := ParseCents(tc.input)
			if err != nil {
				test.Fatalf("parse: %v", err)
			}
			if parsed != tc.want || parsed.String() != tc.render {
				test.Fatalf("expected %d (%s), got %d (%s)", tc.want, tc.render, parsed, parsed.String())
			}
		})
	}
	if _, err := ParseCents("ten"); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestOrderStatusWire(test *testing.T) {
	test.Parallel()
	var order ClaimableOrder
	if err := json.Unmarshal([]byte(`{"order_id":"O","status":"Expired","amount":"2.5"}`), &order); err != nil {
		test.Fatalf("unmarshal: %v", err)
	}
	if order.Status != OrderExpired || order.Amount != 250 || !order.Status.Terminal() {
		test.Fatalf("unexpected order %+v", order)
	}
	if err := json.Unmarshal([]byte(`{"status":9}`), &order); !errors.Is(err, ErrInvalidOrderStatus) {
		test.Fatalf("expected invalid status, got %v", err)
	}
	encoded, err := json.Marshal(Settlement{OrderID: "O", Amount: 105})
	if err != nil {
		test.Fatalf("marshal: %v", err)
	}
	if want := `{"order_id":"O","amount":1.05,"weight":0,"carbon_reduction":0,"points_earned":0,"wallet_balance":0.00}`; string(encoded) != want {
		test.Fatalf("expected %s, got %s", want, encoded)
	}
}

func TestClaimableOrderWeightSpellings(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name       string
		payload    string
		wantWeight float64
		wantCarbon float64
	}{
		{name: "backend", payload: `{"order_id":"O1","status":0,"weight":3.5,"carbon_reduction":8.75}`, wantWeight: 3.5, wantCarbon: 8.75},
		{name: "kilogram suffix", payload: `{"order_id":"O1","status":"Pending","weight_kg":2.5,"unit_price":1.2,"carbon_reduction_kg":6.25}`, wantWeight: 2.5, wantCarbon: 6.25},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			var order ClaimableOrder
			if err := json.Unmarshal([]byte(tc.payload), &order); err != nil {
				test.Fatalf("unmarshal: %v", err)
			}
			if order.OrderID != "O1" || order.Status != OrderPending {
				test.Fatalf("unexpected order %+v", order)
			}
			if order.WeightKg != tc.wantWeight || order.CarbonReductionKg != tc.wantCarbon {
				test.Fatalf("expected weight %v and carbon %v, got %+v", tc.wantWeight, tc.wantCarbon, order)
			}
		})
	}
}

func TestUserMessage(test *testing.T) {
	test.Parallel()
	businessErr := gateway.BusinessError(10006, "voucher payload is malformed").Err()
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "verification", err: &VerificationRequiredError{NextAction: NextActionVerifyIdentity}, want: "identity verification is required before claiming"},
		{name: "in flight", err: ErrClaimInFlight, want: "a claim is already in progress"},
		{name: "conflict", err: fmt.Errorf("%w: %w", ErrClaimConflict, businessErr), want: "this order was already claimed"},
		{name: "daily limit", err: ErrDailyLimitExceeded, want: "daily withdrawal limit reached"},
		{name: "generic business", err: businessErr, want: "voucher payload is malformed"},
		{name: "timeout", err: gateway.TransportError(gateway.TransportTimeout, "deadline").Err(), want: "request timed out, check the order status before retrying"},
		{name: "unknown", err: errors.New("boom"), want: "operation failed"},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			if got := UserMessage(tc.err); got != tc.want {
				test.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
