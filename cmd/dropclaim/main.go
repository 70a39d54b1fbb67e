package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/dropclaim/internal/sessionstore"
	"github.com/MarkoPoloResearchLab/dropclaim/internal/zaplog"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/claim"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/remote"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	flagAPIBaseURL        = "api-base-url"
	flagRequestTimeout    = "request-timeout"
	flagSessionStore      = "session-store"
	flagSessionPassphrase = "session-passphrase"
	flagSessionNamespace  = "session-namespace"
	flagLoginCode         = "login-code"
	flagMinWithdrawal     = "min-withdrawal-cents"
	flagPageSize          = "page-size"
	flagScanRate          = "scan-rate"
	flagScanBurst         = "scan-burst"
	flagDebug             = "debug"
	envPrefix             = "DROPCLAIM"

	defaultAPIBaseURL     = "http://localhost:8000/api/v1"
	defaultRequestTimeout = 30 * time.Second
	defaultPageSize       = 20
	defaultScanBurst      = 1
)

var configFlags = []string{
	flagAPIBaseURL, flagRequestTimeout, flagSessionStore, flagSessionPassphrase, flagSessionNamespace,
	flagLoginCode, flagMinWithdrawal, flagPageSize, flagScanRate, flagScanBurst, flagDebug,
}

type runtimeConfig struct {
	APIBaseURL        string
	RequestTimeout    time.Duration
	SessionStore      string
	SessionPassphrase string
	SessionNamespace  string
	LoginCode         string
	MinWithdrawal     claim.Cents
	PageSize          int
	ScanRate          float64
	ScanBurst         int
	Debug             bool
}

// application holds the collaborators shared by every subcommand.
type application struct {
	cfg      runtimeConfig
	logger   *zap.Logger
	session  *gateway.Session
	client   *gateway.Client
	login    *gateway.Authenticator
	workflow *claim.Workflow
	api      *remote.API
	in       io.Reader
	out      io.Writer
	errOut   io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "dropclaim: %s\n", describeError(err))
		os.Exit(1)
	}
}

// run executes one command line and releases the session store afterwards,
// including when the command fails.
func run(ctx context.Context, args []string, in io.Reader, out io.Writer, errOut io.Writer) error {
	app := &application{in: in, out: out, errOut: errOut}
	cmd := newRootCommand(app)
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	err := cmd.ExecuteContext(ctx)
	if closeErr := app.close(); err == nil {
		err = closeErr
	}
	return err
}

func newRootCommand(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dropclaim",
		Short:         "Claim recycling drop-off rewards from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, &app.cfg); err != nil {
				return err
			}
			return app.open(cmd.Context())
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagAPIBaseURL, defaultAPIBaseURL, "base URL of the recycling API")
	flags.Duration(flagRequestTimeout, defaultRequestTimeout, "per-call timeout")
	flags.String(flagSessionStore, "", "session store URL (file:///dir, sqlite://path, postgres://…, redis://…; empty keeps the session in memory)")
	flags.String(flagSessionPassphrase, "", "passphrase encrypting a file session store")
	flags.String(flagSessionNamespace, "", "namespace separating sessions that share a store")
	flags.String(flagLoginCode, "", "one-time login code; prompted for when empty")
	flags.Int64(flagMinWithdrawal, int64(claim.DefaultMinimumWithdrawal), "local withdrawal minimum in cents")
	flags.Int(flagPageSize, defaultPageSize, "history page size")
	flags.Float64(flagScanRate, 0, "maximum scans resolved per second; 0 disables throttling")
	flags.Int(flagScanBurst, defaultScanBurst, "scans allowed back to back before throttling")
	flags.Bool(flagDebug, false, "enable development logging and call tracing")

	cmd.AddCommand(
		newLoginCommand(app),
		newLogoutCommand(app),
		newScanCommand(app),
		newResolveCommand(app),
		newClaimCommand(app),
		newOrderCommand(app),
		newWalletCommand(app),
		newWithdrawCommand(app),
		newOrdersCommand(app),
		newRecordsCommand(app),
		newStatsCommand(app),
		newTrackCommand(app),
		newProfileCommand(app),
		newVerifyCommand(app),
		newDevicesCommand(app),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range configFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.APIBaseURL = strings.TrimSpace(v.GetString(flagAPIBaseURL))
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.SessionStore = strings.TrimSpace(v.GetString(flagSessionStore))
	cfg.SessionPassphrase = v.GetString(flagSessionPassphrase)
	cfg.SessionNamespace = strings.TrimSpace(v.GetString(flagSessionNamespace))
	cfg.LoginCode = strings.TrimSpace(v.GetString(flagLoginCode))
	cfg.MinWithdrawal = claim.Cents(v.GetInt64(flagMinWithdrawal))
	cfg.PageSize = v.GetInt(flagPageSize)
	cfg.ScanRate = v.GetFloat64(flagScanRate)
	cfg.ScanBurst = v.GetInt(flagScanBurst)
	cfg.Debug = v.GetBool(flagDebug)

	if cfg.APIBaseURL == "" {
		return fmt.Errorf("%s is required", flagAPIBaseURL)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MinWithdrawal <= 0 {
		return fmt.Errorf("%s must be positive", flagMinWithdrawal)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.ScanRate < 0 {
		return fmt.Errorf("%s must not be negative", flagScanRate)
	}
	if cfg.ScanBurst <= 0 {
		cfg.ScanBurst = defaultScanBurst
	}
	return nil
}

func (app *application) open(ctx context.Context) error {
	logger, err := newLogger(app.cfg.Debug)
	if err != nil {
		return err
	}
	app.logger = logger

	store, err := sessionstore.Open(ctx, sessionstore.Settings{
		URL:        app.cfg.SessionStore,
		Passphrase: app.cfg.SessionPassphrase,
		Namespace:  app.cfg.SessionNamespace,
	})
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	app.session = gateway.NewSession(store)
	return app.wire(ctx)
}

func (app *application) wire(ctx context.Context) error {
	if err := app.session.Restore(ctx); err != nil {
		return err
	}

	// Failures reach the terminal once, through describeError.
	notifier := zaplog.NewNotifier(app.logger, nil)
	client, err := gateway.NewClient(
		gateway.Config{BaseURL: app.cfg.APIBaseURL, Timeout: app.cfg.RequestTimeout},
		app.session,
		gateway.WithNotifier(notifier),
		gateway.WithTracer(zaplog.NewCallTracer(app.logger), app.cfg.Debug),
	)
	if err != nil {
		return err
	}
	app.client = client

	prompt := newPrompt(app.in, app.errOut)
	var loginCodes gateway.LoginCodeSource = prompt
	if app.cfg.LoginCode != "" {
		loginCodes = gateway.StaticLoginCode(app.cfg.LoginCode)
	}
	app.login, err = gateway.NewAuthenticator(client, loginCodes)
	if err != nil {
		return err
	}

	options := []claim.WorkflowOption{
		claim.WithOperationLogger(zaplog.NewOperationLogger(app.logger)),
		claim.WithScanner(prompt),
		claim.WithMinimumWithdrawal(app.cfg.MinWithdrawal),
	}
	if app.cfg.ScanRate > 0 {
		options = append(options, claim.WithScanLimiter(rate.NewLimiter(rate.Limit(app.cfg.ScanRate), app.cfg.ScanBurst)))
	}
	app.workflow, err = claim.NewWorkflow(client, app.session, app.login, options...)
	if err != nil {
		return err
	}
	app.api, err = remote.NewAPI(client)
	return err
}

func (app *application) close() error {
	var closeErr error
	if app.session != nil {
		closeErr = app.session.Teardown()
	}
	if app.logger != nil {
		_ = app.logger.Sync()
	}
	return closeErr
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

// describeError shows the display message for remote failures and the raw
// error for everything else.
func describeError(err error) string {
	var callError *gateway.CallError
	if errors.As(err, &callError) {
		return claim.UserMessage(err)
	}
	return err.Error()
}
