// Package sandbox implements the remote recycling service the dropclaim
// client talks to, for end-to-end tests and local field rehearsal.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/dropclaim/internal/database"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	contextKeyUserID    = "sandbox_user_id"
	headerAuthorization = "Authorization"
	headerRequestID     = "X-Request-ID"
	bearerPrefix        = "Bearer "
	messageSuccess      = "success"
	shutdownTimeout     = 5 * time.Second
)

// Server serves the sandbox HTTP API.
type Server struct {
	cfg      Config
	store    *Store
	tokens   *TokenIssuer
	logger   *zap.Logger
	limiters *limiterStore
	metrics  *metrics
	nowFn    func() time.Time
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithClock overrides the time source used for expiry checks.
func WithClock(nowFn func() time.Time) ServerOption {
	return func(server *Server) {
		if nowFn != nil {
			server.nowFn = nowFn
			server.tokens.nowFn = nowFn
		}
	}
}

// NewServer builds a Server. cfg must already be validated.
func NewServer(cfg Config, store *Store, logger *zap.Logger, options ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &Server{
		cfg:      cfg,
		store:    store,
		tokens:   NewTokenIssuer(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.TokenTTL),
		logger:   logger,
		limiters: newLimiterStore(cfg.RateLimitRPS, cfg.RateLimitBurst),
		metrics:  newMetrics(),
		nowFn:    time.Now,
	}
	for _, option := range options {
		option(server)
	}
	return server
}

// Run boots the sandbox using the supplied configuration.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	db, cleanup, driver, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if err := Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	store := NewStore(db)
	if cfg.SeedDevices {
		if err := SeedDevices(ctx, store, DefaultDevices(cfg.DeviceSecret)); err != nil {
			return fmt.Errorf("seed devices: %w", err)
		}
	}

	server := NewServer(cfg, store, logger)
	server.limiters.startJanitor(ctx)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sandbox listening", zap.String("addr", cfg.ListenAddr), zap.String("driver", string(driver)))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler returns the gin router serving the API.
func (server *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(server.metrics.middleware())
	router.Use(server.requestLogger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", headerAuthorization, headerRequestID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(server.metrics.handler()))

	api := router.Group(apiPrefix)
	api.Use(server.rateLimit())

	api.POST("/user/login/wechat", server.handleLogin)
	api.GET("/device/nearby", server.handleNearbyDevices)
	api.GET("/device/search", server.handleSearchDevices)
	api.GET("/device/:id/info", server.handleDeviceInfo)

	authed := api.Group("")
	authed.Use(server.requireUser())
	authed.GET("/user/profile", server.handleProfile)
	authed.PUT("/user/profile", server.handleUpdateProfile)
	authed.POST("/user/verify", server.handleVerify)
	authed.POST("/order/scan", server.handleScan)
	authed.GET("/order/list", server.handleListOrders)
	authed.GET("/order/stats", server.handleOrderStats)
	authed.POST("/order/:id/claim", server.handleClaim)
	authed.GET("/order/:id/detail", server.handleOrderDetail)
	authed.GET("/order/:id/track", server.handleOrderTrack)
	authed.GET("/wallet/balance", server.handleWalletBalance)
	authed.GET("/wallet/records", server.handleWalletRecords)
	authed.POST("/wallet/withdraw", server.handleWithdraw)

	return router
}

func (server *Server) requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		server.logger.Debug("request",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.Int("status", ctx.Writer.Status()),
			zap.String("request_id", ctx.GetHeader(headerRequestID)),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (server *Server) rateLimit() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !server.limiters.allow(ctx.ClientIP()) {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": "too many requests"})
			return
		}
		ctx.Next()
	}
}

func (server *Server) requireUser() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader(headerAuthorization)
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "not authenticated"})
			return
		}
		userID, err := server.tokens.Validate(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "could not validate credentials"})
			return
		}
		if _, err := server.store.User(ctx.Request.Context(), userID); err != nil {
			if errors.Is(err, ErrNotFound) {
				ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "user not found"})
				return
			}
			server.internalError(ctx, "user lookup failed", err)
			return
		}
		ctx.Set(contextKeyUserID, userID)
		ctx.Next()
	}
}

func currentUserID(ctx *gin.Context) string {
	return ctx.GetString(contextKeyUserID)
}

func respondOK(ctx *gin.Context, data any) {
	respondOKMessage(ctx, messageSuccess, data)
}

func respondOKMessage(ctx *gin.Context, message string, data any) {
	ctx.JSON(http.StatusOK, gin.H{"code": 0, "message": message, "data": data})
}

// respondBusiness rejects a request with a coded detail object.
func respondBusiness(ctx *gin.Context, code int, message string) {
	ctx.JSON(http.StatusBadRequest, gin.H{"detail": gin.H{"code": code, "message": message}})
}

// respondEnvelopeError reports a coded failure inside a 200 envelope.
func respondEnvelopeError(ctx *gin.Context, code int, message string) {
	ctx.JSON(http.StatusOK, gin.H{"code": code, "message": message, "data": nil})
}

func respondDetail(ctx *gin.Context, status int, detail string) {
	ctx.JSON(status, gin.H{"detail": detail})
}

func (server *Server) internalError(ctx *gin.Context, message string, err error) {
	server.logger.Error(message, zap.Error(err), zap.String("path", ctx.Request.URL.Path))
	ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
}

func (server *Server) now() time.Time {
	return server.nowFn().UTC()
}

func yuan(cents int64) float64 {
	return float64(cents) / 100
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
