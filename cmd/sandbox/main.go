package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/dropclaim/internal/database"
	"github.com/MarkoPoloResearchLab/dropclaim/internal/sandbox"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/voucher"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagListenAddr          = "listen-addr"
	flagDatabaseURL         = "database-url"
	flagJWTSigningKey       = "jwt-signing-key"
	flagJWTIssuer           = "jwt-issuer"
	flagTokenTTL            = "token-ttl"
	flagRequestTimeout      = "request-timeout"
	flagAllowedOrigins      = "allowed-origins"
	flagRateLimitRPS        = "rate-limit-rps"
	flagRateLimitBurst      = "rate-limit-burst"
	flagDeviceSecret        = "device-secret"
	flagMinWithdrawal       = "min-withdrawal-cents"
	flagDailyLimit          = "daily-withdrawal-limit-cents"
	flagRequireVerification = "require-verification"
	flagSeedDevices         = "seed-devices"
	flagDebug               = "debug"
	flagDevice              = "device"
	flagWeightGrams         = "weight-grams"
	flagLifetime            = "lifetime"
	envPrefix               = "SANDBOX"
	defaultDatabaseURL      = "sqlite:///tmp/dropclaim-sandbox.db"
	defaultIssueDevice      = "DEV-0001"
	defaultIssueWeight      = 2500
)

var persistentFlags = []string{
	flagDatabaseURL, flagJWTSigningKey, flagJWTIssuer, flagTokenTTL, flagDeviceSecret, flagDebug,
}

var serveFlags = []string{
	flagListenAddr, flagRequestTimeout, flagAllowedOrigins, flagRateLimitRPS, flagRateLimitBurst,
	flagMinWithdrawal, flagDailyLimit, flagRequireVerification, flagSeedDevices,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := sandbox.Config{}
	debug := false
	cmd := &cobra.Command{
		Use:           "sandbox",
		Short:         "Local recycling service for end-to-end rehearsal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd, append(append([]string{}, persistentFlags...), serveFlags...))
			if err != nil {
				return err
			}
			debug = v.GetBool(flagDebug)
			return loadServeConfig(v, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(debug)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return sandbox.Run(ctx, cfg, logger)
		},
	}

	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "sqlite path or postgres URL")
	cmd.PersistentFlags().String(flagJWTSigningKey, "", "HS256 signing key for issued tokens (required)")
	cmd.PersistentFlags().String(flagJWTIssuer, "", "issuer claim of issued tokens")
	cmd.PersistentFlags().Duration(flagTokenTTL, 0, "lifetime of issued tokens (e.g. 168h)")
	cmd.PersistentFlags().String(flagDeviceSecret, "", "shared HMAC secret of the seeded devices (required)")
	cmd.PersistentFlags().Bool(flagDebug, false, "enable development logging")

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().Duration(flagRequestTimeout, 0, "request header timeout")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().Float64(flagRateLimitRPS, 0, "per-client request rate")
	cmd.Flags().Int(flagRateLimitBurst, 0, "per-client request burst")
	cmd.Flags().Int64(flagMinWithdrawal, 0, "minimum withdrawal in cents")
	cmd.Flags().Int64(flagDailyLimit, 0, "daily withdrawal limit in cents")
	cmd.Flags().Bool(flagRequireVerification, false, "reject claims from unverified users")
	cmd.Flags().Bool(flagSeedDevices, true, "seed the default collection devices")

	cmd.AddCommand(newIssueCommand())
	return cmd
}

func newIssueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Print a signed voucher for a simulated drop-off",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd, append([]string{flagDevice, flagWeightGrams, flagLifetime}, persistentFlags...))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, cleanup, _, err := database.Open(ctx, v.GetString(flagDatabaseURL))
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = cleanup() }()
			if err := sandbox.Migrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			store := sandbox.NewStore(db)
			secret := strings.TrimSpace(v.GetString(flagDeviceSecret))
			if secret == "" {
				return fmt.Errorf("%s is required", flagDeviceSecret)
			}
			if err := sandbox.SeedDevices(ctx, store, sandbox.DefaultDevices(secret)); err != nil {
				return fmt.Errorf("seed devices: %w", err)
			}
			code, err := sandbox.IssueVoucher(ctx, store, v.GetString(flagDevice), v.GetInt64(flagWeightGrams), time.Now(), v.GetDuration(flagLifetime))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}
	cmd.Flags().String(flagDevice, defaultIssueDevice, "device printing the voucher")
	cmd.Flags().Int64(flagWeightGrams, defaultIssueWeight, "dropped-off weight in grams")
	cmd.Flags().Duration(flagLifetime, voucher.DefaultLifetime, "voucher lifetime")
	return cmd
}

func newViper(cmd *cobra.Command, flagNames []string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, flagName := range flagNames {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func loadServeConfig(v *viper.Viper, cfg *sandbox.Config) error {
	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.JWTSigningKey = v.GetString(flagJWTSigningKey)
	cfg.JWTIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.TokenTTL = v.GetDuration(flagTokenTTL)
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.AllowedOrigins = sandbox.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.RateLimitRPS = v.GetFloat64(flagRateLimitRPS)
	cfg.RateLimitBurst = v.GetInt(flagRateLimitBurst)
	cfg.DeviceSecret = v.GetString(flagDeviceSecret)
	cfg.MinimumWithdrawal = v.GetInt64(flagMinWithdrawal)
	cfg.DailyWithdrawalLimit = v.GetInt64(flagDailyLimit)
	cfg.RequireVerification = v.GetBool(flagRequireVerification)
	cfg.SeedDevices = v.GetBool(flagSeedDevices)
	return cfg.Validate()
}

func newLogger(debug bool) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	return logger, nil
}
