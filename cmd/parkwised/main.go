package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	parkwisev1 "github.com/MarkoPoloResearchLab/parkwise/api/parkwise/v1"
	"github.com/MarkoPoloResearchLab/parkwise/internal/events"
	"github.com/MarkoPoloResearchLab/parkwise/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/parkwise/internal/logging"
	"github.com/MarkoPoloResearchLab/parkwise/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/parkwise/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/parkwise/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	flagDatabaseURL          = "database-url"
	flagListenAddr           = "listen-addr"
	flagStoreDriver          = "store-driver"
	flagTimezone             = "timezone"
	flagExclusiveSpots       = "exclusive-spots"
	flagReconcileInterval    = "reconcile-interval"
	flagAMQPURL              = "amqp-url"
	flagAMQPExchange         = "amqp-exchange"
	flagConfigFile           = "config"
	configKeyDatabaseURL     = "database_url"
	configKeyListenAddr      = "listen_addr"
	configKeyRatePlans       = "rate_plans"
	envPrefix                = "PARKWISED"
	defaultDatabaseURL       = "sqlite:///tmp/parkwise.db"
	defaultGRPCListenAddr    = ":7000"
	defaultTimezone          = "UTC"
	defaultReconcileInterval = time.Minute
	storeDriverGorm          = "gorm"
	storeDriverPgx           = "pgx"
	driverPostgres           = "postgres"
	driverSQLite             = "sqlite"
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	StoreDriver       string
	Location          *time.Location
	ExclusiveSpots    bool
	ReconcileInterval time.Duration
	AMQPURL           string
	AMQPExchange      string
	RatePlans         ledger.RatePlanBook
}

type ratePlanConfig struct {
	BaseHours       int   `mapstructure:"base_hours"`
	BaseRateCents   int64 `mapstructure:"base_rate_cents"`
	HourlyRateCents int64 `mapstructure:"hourly_rate_cents"`
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "parkwised: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "parkwised",
		Short:         "Parking reservation ledger gRPC server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	flags.String(flagListenAddr, defaultGRPCListenAddr, "gRPC listen address")
	flags.String(flagStoreDriver, storeDriverGorm, "store implementation: gorm or pgx (pgx requires PostgreSQL)")
	flags.String(flagTimezone, defaultTimezone, "IANA timezone that defines the reservation day")
	flags.Bool(flagExclusiveSpots, false, "reject reservations on spots currently flagged reserved")
	flags.Duration(flagReconcileInterval, defaultReconcileInterval, "spot flag reconciliation interval (0 disables)")
	flags.String(flagAMQPURL, "", "AMQP URL for reservation events (empty disables publishing)")
	flags.String(flagAMQPExchange, events.DefaultExchange, "AMQP topic exchange for reservation events")
	flags.String(flagConfigFile, "", "optional YAML file with rate_plans")

	cmd.AddCommand(newBootstrapCommand(cfg))
	return cmd
}

func newBootstrapCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Seed floors, blocks and spots, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			service, cleanup, err := buildService(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			summary, err := service.BootstrapInventory(cmd.Context(), ledger.DefaultInventoryLayout())
			if err != nil {
				return fmt.Errorf("bootstrap inventory: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "floors=%d blocks=%d spots=%d\n", summary.Floors, summary.Blocks, summary.Spots)
			return nil
		},
	}
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv(configKeyDatabaseURL, "DATABASE_URL"); err != nil {
		return err
	}
	if err := v.BindEnv(configKeyListenAddr, "GRPC_LISTEN_ADDR"); err != nil {
		return err
	}
	if err := v.BindPFlag(configKeyDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
		return err
	}
	if err := v.BindPFlag(configKeyListenAddr, cmd.Flags().Lookup(flagListenAddr)); err != nil {
		return err
	}
	for _, flagName := range []string{flagStoreDriver, flagTimezone, flagExclusiveSpots, flagReconcileInterval, flagAMQPURL, flagAMQPExchange, flagConfigFile} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(configKeyDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = strings.TrimSpace(v.GetString(configKeyListenAddr))
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultGRPCListenAddr
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(v.GetString(flagStoreDriver)))
	switch cfg.StoreDriver {
	case "":
		cfg.StoreDriver = storeDriverGorm
	case storeDriverGorm, storeDriverPgx:
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	timezone := strings.TrimSpace(v.GetString(flagTimezone))
	if timezone == "" {
		timezone = defaultTimezone
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", timezone, err)
	}
	cfg.Location = location
	cfg.ExclusiveSpots = v.GetBool(flagExclusiveSpots)
	cfg.ReconcileInterval = v.GetDuration(flagReconcileInterval)
	if cfg.ReconcileInterval < 0 {
		return fmt.Errorf("%s must not be negative", flagReconcileInterval)
	}
	cfg.AMQPURL = strings.TrimSpace(v.GetString(flagAMQPURL))
	cfg.AMQPExchange = strings.TrimSpace(v.GetString(flagAMQPExchange))

	ratePlans, err := loadRatePlans(v, strings.TrimSpace(v.GetString(flagConfigFile)))
	if err != nil {
		return err
	}
	cfg.RatePlans = ratePlans
	return nil
}

// loadRatePlans overlays the rate_plans section of path onto the default book.
func loadRatePlans(v *viper.Viper, path string) (ledger.RatePlanBook, error) {
	book := ledger.DefaultRatePlans()
	if path == "" {
		return book, nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	overrides := map[string]ratePlanConfig{}
	if err := v.UnmarshalKey(configKeyRatePlans, &overrides); err != nil {
		return nil, fmt.Errorf("decode %s: %w", configKeyRatePlans, err)
	}
	for rawVehicleType, override := range overrides {
		vehicleType, err := ledger.ParseVehicleType(rawVehicleType)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", configKeyRatePlans, err)
		}
		book[vehicleType] = ledger.RatePlan{
			BaseHours:  override.BaseHours,
			BaseRate:   ledger.AmountCents(override.BaseRateCents),
			HourlyRate: ledger.AmountCents(override.HourlyRateCents),
		}
	}
	if err := book.Validate(); err != nil {
		return nil, err
	}
	return book, nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	service, cleanup, err := buildService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := service.BootstrapInventory(ctx, ledger.DefaultInventoryLayout())
	if err != nil {
		return fmt.Errorf("bootstrap inventory: %w", err)
	}
	logger.Info("inventory ready", zap.Int("floors", summary.Floors), zap.Int("blocks", summary.Blocks), zap.Int("spots", summary.Spots))

	reconcileCtx, stopReconciler := context.WithCancel(ctx)
	defer stopReconciler()
	go service.RunFlagReconciler(reconcileCtx, cfg.ReconcileInterval)

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.UnaryLoggingInterceptor(logger)))
	parkwisev1.RegisterReservationLedgerServer(grpcServer, grpcserver.NewReservationLedgerServer(service, cfg.RatePlans))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.ListenAddr), zap.String("store_driver", cfg.StoreDriver))
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}

// buildService opens the configured store and wires the ledger service with its collaborators.
func buildService(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger) (*ledger.Service, func(), error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanups := []func() error{closeStore}
	cleanup := func() {
		for index := len(cleanups) - 1; index >= 0; index-- {
			if closeErr := cleanups[index](); closeErr != nil {
				logger.Warn("cleanup failed", zap.Error(closeErr))
			}
		}
	}

	options := []ledger.ServiceOption{
		ledger.WithOperationLogger(logging.NewZapOperationLogger(logger)),
		ledger.WithLocation(cfg.Location),
	}
	if cfg.ExclusiveSpots {
		options = append(options, ledger.WithExclusiveSpots())
	}
	if cfg.AMQPURL != "" {
		publisher, closePublisher, dialErr := events.Dial(cfg.AMQPURL, cfg.AMQPExchange)
		if dialErr != nil {
			cleanup()
			return nil, nil, dialErr
		}
		cleanups = append(cleanups, closePublisher)
		options = append(options, ledger.WithEventPublisher(publisher))
	}

	service, err := ledger.NewService(store, func() time.Time { return time.Now().UTC() }, options...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("ledger service init: %w", err)
	}
	return service, cleanup, nil
}

func openStore(ctx context.Context, cfg *runtimeConfig) (ledger.Store, func() error, error) {
	gormDB, closeDB, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	if err := gormstore.AutoMigrate(gormDB); err != nil {
		_ = closeDB()
		return nil, nil, fmt.Errorf("auto migrate: %w", err)
	}
	if cfg.StoreDriver != storeDriverPgx {
		return gormstore.New(gormDB), closeDB, nil
	}

	_ = closeDB()
	if driver != driverPostgres {
		return nil, nil, fmt.Errorf("store driver %s requires a postgres database url", storeDriverPgx)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgx ping: %w", err)
	}
	return pgstore.New(pool), func() error { pool.Close(); return nil }, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var (
		db  *gorm.DB
		cfg *gorm.Config
	)
	cfg = &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	if driver == driverSQLite {
		// sqlite serialises writers; a single connection keeps row locks meaningful.
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "parkwise.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
