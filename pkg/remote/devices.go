package remote

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/claim"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
)

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Locator reports the operator's current position.
type Locator interface {
	Locate(ctx context.Context) (Coordinates, error)
}

// Device is a collection bin as listed by the service.
type Device struct {
	DeviceID  string   `json:"device_id"`
	Name      string   `json:"name"`
	Address   string   `json:"address,omitempty"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Status    int      `json:"status"`
	DistanceM *float64 `json:"distance,omitempty"`
}

// DeviceDetail adds pricing and fill level to Device.
type DeviceDetail struct {
	Device
	UnitPrice       claim.Cents `json:"unit_price"`
	CapacityPercent float64     `json:"capacity_percent"`
}

// NearbyDevices lists devices within radiusMeters of the located position,
// nearest first. A non-positive radius uses the service default.
func (api *API) NearbyDevices(ctx context.Context, locator Locator, radiusMeters int) ([]Device, error) {
	if locator == nil {
		return nil, fmt.Errorf("%w: locator is nil", ErrInvalidArgument)
	}
	position, err := locator.Locate(ctx)
	if err != nil {
		return nil, err
	}
	if radiusMeters <= 0 {
		radiusMeters = defaultSearchRadius
	}
	var devices []Device
	err = api.call(ctx, gateway.Request{
		Path:   PathDevicesNearby,
		Method: gateway.MethodGet,
		Payload: map[string]any{
			"latitude":  position.Latitude,
			"longitude": position.Longitude,
			"radius":    radiusMeters,
		},
		Anonymous: true,
	}, &devices)
	return devices, err
}

// SearchDevices matches devices by name or address.
func (api *API) SearchDevices(ctx context.Context, keyword string) ([]Device, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("%w: keyword is empty", ErrInvalidArgument)
	}
	var devices []Device
	err := api.call(ctx, gateway.Request{
		Path:      PathDevicesSearch,
		Method:    gateway.MethodGet,
		Payload:   map[string]any{"keyword": keyword},
		Anonymous: true,
	}, &devices)
	return devices, err
}

// Device fetches one device. Unknown devices fail with business code 10002.
func (api *API) Device(ctx context.Context, deviceID string) (DeviceDetail, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return DeviceDetail{}, fmt.Errorf("%w: device id is empty", ErrInvalidArgument)
	}
	var device DeviceDetail
	err := api.call(ctx, gateway.Request{
		Path:      fmt.Sprintf(PathDeviceInfo, url.PathEscape(deviceID)),
		Method:    gateway.MethodGet,
		Anonymous: true,
	}, &device)
	return device, err
}
