package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	_ "time/tzdata"

	"github.com/MarkoPoloResearchLab/parkwise/internal/httpapi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagListenAddr     = "listen-addr"
	flagLedgerAddr     = "ledger-addr"
	flagLedgerInsecure = "ledger-insecure"
	flagLedgerTimeout  = "ledger-timeout"
	flagAllowedOrigins = "allowed-origins"
	flagJWTSigningKey  = "jwt-signing-key"
	flagJWTIssuer      = "jwt-issuer"
	flagJWTCookieName  = "jwt-cookie-name"
	flagRedisAddr      = "redis-addr"
	flagCacheTTL       = "cache-ttl"
	flagIdempotencyDB  = "idempotency-db"
	flagQRSize         = "qr-size"
	flagTimezone       = "timezone"
	envPrefix          = "PARKWISEAPI"
)

var requiredFlags = []string{flagListenAddr, flagLedgerAddr, flagLedgerInsecure, flagLedgerTimeout, flagAllowedOrigins, flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "parkwiseapi: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := httpapi.Config{}
	cmd := &cobra.Command{
		Use:           "parkwiseapi",
		Short:         "HTTP façade for the parking reservation ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return httpapi.Run(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address (required)")
	cmd.Flags().String(flagLedgerAddr, "", "parkwised gRPC address (required)")
	cmd.Flags().Bool(flagLedgerInsecure, false, "set true when connecting to an insecure ledger endpoint (required)")
	cmd.Flags().Duration(flagLedgerTimeout, 0, "ledger RPC timeout (e.g. 3s, required)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins (required)")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "", "expected JWT issuer (required)")
	cmd.Flags().String(flagJWTCookieName, "", "JWT cookie name (required)")
	cmd.Flags().String(flagRedisAddr, "", "redis address for the projection cache (empty disables caching)")
	cmd.Flags().Duration(flagCacheTTL, 0, "projection cache TTL")
	cmd.Flags().String(flagIdempotencyDB, "", "bolt file for Idempotency-Key replay (empty disables replay)")
	cmd.Flags().Int(flagQRSize, 0, "receipt QR code size in pixels")
	cmd.Flags().String(flagTimezone, "", "IANA timezone used to render reservation times")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *httpapi.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range append(requiredFlags, flagRedisAddr, flagCacheTTL, flagIdempotencyDB, flagQRSize, flagTimezone) {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	for _, flagName := range requiredFlags {
		if !v.IsSet(flagName) {
			return fmt.Errorf("%s is required", flagName)
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.LedgerAddress = strings.TrimSpace(v.GetString(flagLedgerAddr))
	cfg.LedgerInsecure = v.GetBool(flagLedgerInsecure)
	cfg.LedgerTimeout = v.GetDuration(flagLedgerTimeout)
	cfg.AllowedOrigins = httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = v.GetString(flagJWTSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.RedisAddr = strings.TrimSpace(v.GetString(flagRedisAddr))
	cfg.CacheTTL = v.GetDuration(flagCacheTTL)
	cfg.IdempotencyDBPath = strings.TrimSpace(v.GetString(flagIdempotencyDB))
	cfg.QRSize = v.GetInt(flagQRSize)
	cfg.Timezone = strings.TrimSpace(v.GetString(flagTimezone))

	return cfg.Validate()
}
