package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/voucher"
)

// DefaultDevices returns the collection bins seeded into an empty sandbox.
func DefaultDevices(secret string) []Device {
	return []Device{
		{DeviceID: "DEV-0001", Name: "Riverside Station", Address: "12 Riverside Road", Latitude: 31.2304, Longitude: 121.4737, Status: 1, UnitPriceCents: 80, CapacityPercent: 35, SecretKey: secret},
		{DeviceID: "DEV-0002", Name: "Market Square", Address: "3 Market Square", Latitude: 31.2397, Longitude: 121.4998, Status: 1, UnitPriceCents: 80, CapacityPercent: 60, SecretKey: secret},
		{DeviceID: "DEV-0003", Name: "North Campus", Address: "88 University Avenue", Latitude: 31.3003, Longitude: 121.5031, Status: 1, UnitPriceCents: 100, CapacityPercent: 10, SecretKey: secret},
	}
}

// SeedDevices inserts devices that are not present yet.
func SeedDevices(ctx context.Context, store *Store, devices []Device) error {
	for _, device := range devices {
		_, err := store.Device(ctx, device.DeviceID)
		if err == nil {
			continue
		}
		if !isNotFound(err) {
			return err
		}
		if err := store.UpsertDevice(ctx, device); err != nil {
			return err
		}
	}
	return nil
}

// IssueVoucher signs a voucher for a drop-off at a stored device, using the
// device's unit price and secret.
func IssueVoucher(ctx context.Context, store *Store, deviceID string, weightGrams int64, issuedAt time.Time, lifetime time.Duration) (string, error) {
	device, err := store.Device(ctx, deviceID)
	if err != nil {
		return "", fmt.Errorf("device %s: %w", deviceID, err)
	}
	issued, err := voucher.Issue(device.DeviceID, "VCH"+shortHex(12), weightGrams, device.UnitPriceCents, issuedAt, lifetime, device.SecretKey)
	if err != nil {
		return "", err
	}
	return voucher.Encode(issued)
}
