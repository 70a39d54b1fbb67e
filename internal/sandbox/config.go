package sandbox

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr        = ":8000"
	defaultAllowedOrigin     = "http://localhost:3000"
	defaultTokenIssuer       = "dropclaim-sandbox"
	defaultTokenTTL          = 7 * 24 * time.Hour
	defaultRequestTimeout    = 5 * time.Second
	defaultRateLimitRPS      = 20
	defaultRateLimitBurst    = 40
	defaultMinimumWithdrawal = 100
	defaultDailyLimitCents   = 50000
	defaultPointsPerKgCarbon = 10
	carbonPerKg              = 2.5
	maxPageSize              = 100
	defaultPageSize          = 20
	defaultRadiusMeters      = 5000
	searchLimit              = 20
	apiPrefix                = "/api/v1"
)

// Config aggregates runtime settings for the sandbox service.
type Config struct {
	ListenAddr           string
	DatabaseURL          string
	JWTSigningKey        string
	JWTIssuer            string
	TokenTTL             time.Duration
	RequestTimeout       time.Duration
	AllowedOrigins       []string
	RateLimitRPS         float64
	RateLimitBurst       int
	DeviceSecret         string
	MinimumWithdrawal    int64
	DailyWithdrawalLimit int64
	RequireVerification  bool
	SeedDevices          bool
}

// Validate fills defaults and ensures the configuration is usable.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.JWTIssuer = defaultIfEmpty(cfg.JWTIssuer, defaultTokenIssuer)
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = defaultRateLimitRPS
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}
	if cfg.MinimumWithdrawal <= 0 {
		cfg.MinimumWithdrawal = defaultMinimumWithdrawal
	}
	if cfg.DailyWithdrawalLimit <= 0 {
		cfg.DailyWithdrawalLimit = defaultDailyLimitCents
	}
	if strings.TrimSpace(cfg.JWTSigningKey) == "" {
		return fmt.Errorf("jwt signing key is required")
	}
	if strings.TrimSpace(cfg.DeviceSecret) == "" {
		return fmt.Errorf("device secret is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
