package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	parkwisev1 "github.com/MarkoPoloResearchLab/parkwise/api/parkwise/v1"
	"github.com/MarkoPoloResearchLab/parkwise/internal/idempotency"
	"github.com/MarkoPoloResearchLab/parkwise/internal/projectioncache"
	"github.com/MarkoPoloResearchLab/parkwise/internal/receipt"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const claimsContextKey = "auth_claims"

// Run boots the HTTP façade using the supplied configuration.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("zap init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	dialOptions := []grpc.DialOption{}
	if cfg.LedgerInsecure {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	conn, err := grpc.NewClient(cfg.LedgerAddress, dialOptions...)
	if err != nil {
		return fmt.Errorf("connect ledger: %w", err)
	}
	conn.Connect()
	if err := waitForClientReady(ctx, conn); err != nil {
		_ = conn.Close()
		return fmt.Errorf("connect ledger: %w", err)
	}
	defer conn.Close()

	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	var cache *projectioncache.Cache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		if pingErr := redisClient.Ping(ctx).Err(); pingErr != nil {
			logger.Warn("redis unreachable, projections will be served from the ledger", zap.String("addr", cfg.RedisAddr), zap.Error(pingErr))
		}
		cache = projectioncache.New(redisClient, cfg.CacheTTL, logger)
	}

	var replayStore *idempotency.Store
	if cfg.IdempotencyDBPath != "" {
		replayStore, err = idempotency.Open(cfg.IdempotencyDBPath, idempotencyRetention)
		if err != nil {
			return err
		}
		defer replayStore.Close()
		purgeCtx, stopPurge := context.WithCancel(ctx)
		purgeDone := make(chan struct{})
		go func() {
			defer close(purgeDone)
			replayStore.RunPurger(purgeCtx, replayPurgeInterval, logger)
		}()
		defer func() {
			stopPurge()
			<-purgeDone
		}()
	}

	handler := &httpHandler{
		logger:       logger,
		ledgerClient: parkwisev1.NewReservationLedgerClient(conn),
		cfg:          cfg,
		cache:        cache,
		renderer:     receipt.NewRenderer(cfg.QRSize, cfg.Location),
	}

	router := setupRouter(cfg, handler, sessionValidator, replayStore)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("parkwiseapi listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
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

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator, replayStore *idempotency.Store) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	registerValidations()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", idempotency.HeaderName},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	replay := idempotency.Middleware(replayStore, func(ctx *gin.Context) string {
		if claims := getClaims(ctx); claims != nil {
			return claims.GetUserID()
		}
		return ""
	}, handler.logger)

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.GET("/session", handler.handleSession)
	api.GET("/spots", handler.handleSpots)
	api.GET("/dashboard", handler.handleDashboard)
	api.GET("/quote", handler.handleQuote)

	api.POST("/reservations", replay, handler.handleCreateReservation)
	api.GET("/reservations", handler.handleListReservations)
	api.GET("/reservations/:id", handler.handleGetReservation)
	api.PUT("/reservations/:id", handler.handleUpdateReservation)
	api.DELETE("/reservations/:id", handler.handleDeleteReservation)
	api.POST("/reservations/:id/cancel", handler.handleCancelReservation)
	api.POST("/reservations/:id/payment", replay, handler.handlePayReservation)
	api.GET("/reservations/:id/receipt", handler.handleReceipt)
	api.GET("/reservations/:id/receipt/qr", handler.handleReceiptQR)

	return router
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func waitForClientReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if state == connectivity.Shutdown {
			return errors.New("grpc connection shutdown before ready")
		}
		if !conn.WaitForStateChange(ctx, state) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.New("grpc connection failed to reach ready state")
		}
	}
}
