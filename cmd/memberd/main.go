package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/solsticecon/memberd/internal/httpserver"
	"github.com/solsticecon/memberd/internal/notify/amqpnotify"
	"github.com/solsticecon/memberd/internal/oplog"
	"github.com/solsticecon/memberd/internal/provider/stripegate"
	"github.com/solsticecon/memberd/internal/store/gormstore"
	"github.com/solsticecon/memberd/pkg/money"
)

const (
	flagDatabaseURL         = "database-url"
	flagListenAddr          = "listen-addr"
	flagAllowedOrigins      = "allowed-origins"
	flagCurrency            = "currency"
	flagJWTSigningKey       = "jwt-signing-key"
	flagStripeSecretKey     = "stripe-secret-key"
	flagStripeWebhookSecret = "stripe-webhook-secret"
	flagAMQPURL             = "amqp-url"
	flagReconcileInterval   = "reconcile-interval"
	flagReconcileMaxAge     = "reconcile-max-age"

	configKeyDatabaseURL         = "database_url"
	configKeyListenAddr          = "listen_addr"
	configKeyAllowedOrigins      = "allowed_origins"
	configKeyCurrency            = "currency"
	configKeyJWTSigningKey       = "jwt_signing_key"
	configKeyStripeSecretKey     = "stripe_secret_key"
	configKeyStripeWebhookSecret = "stripe_webhook_secret"
	configKeyAMQPURL             = "amqp_url"
	configKeyReconcileInterval   = "reconcile_interval"
	configKeyReconcileMaxAge     = "reconcile_max_age"

	defaultDatabaseURL       = "sqlite:///tmp/memberd.db"
	defaultHTTPListenAddr    = ":8080"
	defaultCurrency          = "usd"
	defaultReconcileInterval = time.Hour
	defaultReconcileMaxAge   = 2 * time.Hour
)

type runtimeConfig struct {
	DatabaseURL         string
	ListenAddr          string
	AllowedOrigins      []string
	Currency            string
	JWTSigningKey       string
	StripeSecretKey     string
	StripeWebhookSecret string
	AMQPURL             string
	ReconcileInterval   time.Duration
	ReconcileMaxAge     time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "memberd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "memberd",
		Short:         "Convention membership payment server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	cmd.Flags().StringSlice(flagAllowedOrigins, nil, "CORS allowed origins")
	cmd.Flags().String(flagCurrency, defaultCurrency, "ISO 4217 currency for all charges")
	cmd.Flags().String(flagJWTSigningKey, "", "HS256 signing key for API bearer tokens")
	cmd.Flags().String(flagStripeSecretKey, "", "Stripe API secret key")
	cmd.Flags().String(flagStripeWebhookSecret, "", "Stripe webhook signing secret")
	cmd.Flags().String(flagAMQPURL, "", "RabbitMQ URL for payment notifications (optional)")
	cmd.Flags().Duration(flagReconcileInterval, defaultReconcileInterval, "how often to sweep stale pending checkouts")
	cmd.Flags().Duration(flagReconcileMaxAge, defaultReconcileMaxAge, "pending checkout age before the sweep queries the provider")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	// Local development settings; absence is not an error.
	_ = godotenv.Load()

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:         "DATABASE_URL",
		configKeyListenAddr:          "HTTP_LISTEN_ADDR",
		configKeyAllowedOrigins:      "ALLOWED_ORIGINS",
		configKeyCurrency:            "CURRENCY",
		configKeyJWTSigningKey:       "JWT_SIGNING_KEY",
		configKeyStripeSecretKey:     "STRIPE_SECRET_KEY",
		configKeyStripeWebhookSecret: "STRIPE_WEBHOOK_SECRET",
		configKeyAMQPURL:             "AMQP_URL",
		configKeyReconcileInterval:   "RECONCILE_INTERVAL",
		configKeyReconcileMaxAge:     "RECONCILE_MAX_AGE",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flagsByKey := map[string]string{
		configKeyDatabaseURL:         flagDatabaseURL,
		configKeyListenAddr:          flagListenAddr,
		configKeyAllowedOrigins:      flagAllowedOrigins,
		configKeyCurrency:            flagCurrency,
		configKeyJWTSigningKey:       flagJWTSigningKey,
		configKeyStripeSecretKey:     flagStripeSecretKey,
		configKeyStripeWebhookSecret: flagStripeWebhookSecret,
		configKeyAMQPURL:             flagAMQPURL,
		configKeyReconcileInterval:   flagReconcileInterval,
		configKeyReconcileMaxAge:     flagReconcileMaxAge,
	}
	for key, flagName := range flagsByKey {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyAllowedOrigins)
	cfg.Currency = viper.GetString(configKeyCurrency)
	cfg.JWTSigningKey = viper.GetString(configKeyJWTSigningKey)
	cfg.StripeSecretKey = viper.GetString(configKeyStripeSecretKey)
	cfg.StripeWebhookSecret = viper.GetString(configKeyStripeWebhookSecret)
	cfg.AMQPURL = viper.GetString(configKeyAMQPURL)
	cfg.ReconcileInterval = viper.GetDuration(configKeyReconcileInterval)
	cfg.ReconcileMaxAge = viper.GetDuration(configKeyReconcileMaxAge)

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultHTTPListenAddr
	}
	if cfg.Currency == "" {
		cfg.Currency = defaultCurrency
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = defaultReconcileInterval
	}
	if cfg.ReconcileMaxAge <= 0 {
		cfg.ReconcileMaxAge = defaultReconcileMaxAge
	}
	if cfg.JWTSigningKey == "" {
		return fmt.Errorf("jwt signing key is required")
	}
	if cfg.StripeSecretKey == "" {
		return fmt.Errorf("stripe secret key is required")
	}
	if cfg.StripeWebhookSecret == "" {
		return fmt.Errorf("stripe webhook secret is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	currency, err := money.NewCurrencyCode(cfg.Currency)
	if err != nil {
		return fmt.Errorf("currency config: %w", err)
	}

	store := gormstore.New(gormDB)
	gateway := stripegate.New(cfg.StripeSecretKey)
	clock := func() int64 { return time.Now().UTC().Unix() }

	options := []money.ServiceOption{
		money.WithOperationLogger(oplog.New(logger)),
	}
	if cfg.AMQPURL != "" {
		publisher, err := amqpnotify.Dial(cfg.AMQPURL)
		if err != nil {
			return fmt.Errorf("notifier init: %w", err)
		}
		defer func() { _ = publisher.Close() }()
		options = append(options, money.WithNotifier(publisher))
	}

	service, err := money.NewService(store, gateway, currency, clock, options...)
	if err != nil {
		return fmt.Errorf("money service init: %w", err)
	}

	go runReconcileLoop(ctx, logger, service, cfg.ReconcileInterval, cfg.ReconcileMaxAge)

	server := httpserver.New(logger, service, store, httpserver.Config{
		ListenAddr:          cfg.ListenAddr,
		AllowedOrigins:      cfg.AllowedOrigins,
		JWTSigningKey:       cfg.JWTSigningKey,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		RequestTimeout:      30 * time.Second,
	})
	return server.Run(ctx)
}

// runReconcileLoop periodically settles pending checkout charges whose
// webhook never arrived.
func runReconcileLoop(ctx context.Context, logger *zap.Logger, service *money.Service, interval time.Duration, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := service.ReconcilePendingCheckouts(ctx, maxAge)
			if err != nil {
				logger.Warn("reconcile sweep failed", zap.Error(err))
				continue
			}
			if report.Examined > 0 {
				logger.Info("reconcile sweep",
					zap.Int("examined", report.Examined),
					zap.Int("succeeded", report.Succeeded),
					zap.Int("failed", report.Failed),
					zap.Int("still_open", report.StillOpen))
			}
		}
	}
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
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
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
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
			path = "memberd.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
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

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
