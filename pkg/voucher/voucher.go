// Package voucher encodes and verifies the signed payload printed as a QR code
// by a collection device after a drop-off.
package voucher

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CurrentVersion is the payload version emitted by Sign.
const CurrentVersion = 1

// DefaultLifetime is how long a freshly issued voucher stays claimable.
const DefaultLifetime = 10 * time.Minute

// Error values returned by the voucher package.
var (
	ErrMalformed         = errors.New("malformed voucher")
	ErrIncomplete        = errors.New("incomplete voucher")
	ErrExpired           = errors.New("voucher expired")
	ErrSignatureMismatch = errors.New("voucher signature mismatch")
	ErrInvalidSecret     = errors.New("invalid device secret")
)

// Voucher is the decoded QR payload. Weight is in grams, UnitPrice in cents
// per kilogram and Amount in cents.
type Voucher struct {
	Version   int    `json:"v"`
	DeviceID  string `json:"d"`
	VoucherID string `json:"vid"`
	Weight    int64  `json:"w"`
	UnitPrice int64  `json:"p"`
	Amount    int64  `json:"a"`
	IssuedAt  int64  `json:"t"`
	ExpiresAt int64  `json:"e"`
	Signature string `json:"s"`
}

// Expired reports whether the voucher expiry lies before now.
func (voucher Voucher) Expired(now time.Time) bool {
	return now.Unix() > voucher.ExpiresAt
}

// WeightKilograms returns the weight in kilograms.
func (voucher Voucher) WeightKilograms() float64 {
	return float64(voucher.Weight) / 1000
}

func (voucher Voucher) signingString() string {
	return fmt.Sprintf("%d.%s.%s.%d.%d.%d.%d.%d",
		voucher.Version, voucher.DeviceID, voucher.VoucherID,
		voucher.Weight, voucher.UnitPrice, voucher.Amount,
		voucher.IssuedAt, voucher.ExpiresAt)
}

// Parse decodes a base64 QR payload without verifying the signature.
func Parse(encoded string) (Voucher, error) {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return Voucher{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return Voucher{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Voucher{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	for _, key := range []string{"v", "d", "vid", "w", "p", "a", "t", "e", "s"} {
		if _, ok := fields[key]; !ok {
			return Voucher{}, fmt.Errorf("%w: missing field %q", ErrIncomplete, key)
		}
	}
	var voucher Voucher
	if err := json.Unmarshal(raw, &voucher); err != nil {
		return Voucher{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return voucher, nil
}

// Encode returns the base64 QR payload of voucher.
func Encode(voucher Voucher) (string, error) {
	raw, err := json.Marshal(voucher)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Sign computes the hex HMAC-SHA256 signature with the device secret and
// returns the signed voucher.
func Sign(voucher Voucher, deviceSecret string) (Voucher, error) {
	if strings.TrimSpace(deviceSecret) == "" {
		return Voucher{}, ErrInvalidSecret
	}
	voucher.Signature = computeSignature(voucher, deviceSecret)
	return voucher, nil
}

// Verify checks the voucher signature against the device secret.
func Verify(voucher Voucher, deviceSecret string) error {
	if strings.TrimSpace(deviceSecret) == "" {
		return ErrInvalidSecret
	}
	expected := computeSignature(voucher, deviceSecret)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(voucher.Signature))) {
		return ErrSignatureMismatch
	}
	return nil
}

// Issue builds a signed voucher for a drop-off measured by a device.
// The amount is derived from weight and unit price.
func Issue(deviceID string, voucherID string, weightGrams int64, unitPriceCents int64, issuedAt time.Time, lifetime time.Duration, deviceSecret string) (Voucher, error) {
	if strings.TrimSpace(deviceID) == "" || strings.TrimSpace(voucherID) == "" {
		return Voucher{}, fmt.Errorf("%w: device and voucher ids are required", ErrIncomplete)
	}
	if weightGrams <= 0 || unitPriceCents <= 0 {
		return Voucher{}, fmt.Errorf("%w: weight and unit price must be positive", ErrMalformed)
	}
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	voucher := Voucher{
		Version:   CurrentVersion,
		DeviceID:  deviceID,
		VoucherID: voucherID,
		Weight:    weightGrams,
		UnitPrice: unitPriceCents,
		Amount:    weightGrams * unitPriceCents / 1000,
		IssuedAt:  issuedAt.Unix(),
		ExpiresAt: issuedAt.Add(lifetime).Unix(),
	}
	return Sign(voucher, deviceSecret)
}

func computeSignature(voucher Voucher, deviceSecret string) string {
	mac := hmac.New(sha256.New, []byte(deviceSecret))
	mac.Write([]byte(voucher.signingString()))
	return hex.EncodeToString(mac.Sum(nil))
}
