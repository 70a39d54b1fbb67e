// Package remote binds the recycling service endpoints outside the claim
// transaction: histories, statistics, profile and device lookup.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
)

// Error values returned by the remote bindings.
var (
	ErrInvalidAPIConfig = errors.New("invalid api config")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// API paths bound by this package.
const (
	PathOrderList       = "/order/list"
	PathOrderStats      = "/order/stats"
	PathOrderTrack      = "/order/%s/track"
	PathWalletRecords   = "/wallet/records"
	PathProfile         = "/user/profile"
	PathVerifyIdentity  = "/user/verify"
	PathDevicesNearby   = "/device/nearby"
	PathDevicesSearch   = "/device/search"
	PathDeviceInfo      = "/device/%s/info"
	defaultSearchRadius = 5000
)

// Caller performs gateway calls.
type Caller interface {
	Call(ctx context.Context, request gateway.Request) gateway.Envelope
}

// API exposes typed bindings over a Caller.
type API struct {
	caller Caller
}

// NewAPI wires an API.
func NewAPI(caller Caller) (*API, error) {
	if caller == nil {
		return nil, fmt.Errorf("%w: caller dependency is nil", ErrInvalidAPIConfig)
	}
	return &API{caller: caller}, nil
}

func (api *API) call(ctx context.Context, request gateway.Request, target any) error {
	envelope := api.caller.Call(ctx, request)
	if err := envelope.Err(); err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	return envelope.Decode(target)
}

// pageWire is the paged list payload returned by list endpoints.
type pageWire[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Pages    int `json:"pages"`
}
