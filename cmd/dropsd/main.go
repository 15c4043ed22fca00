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

	"github.com/MarkoPoloResearchLab/drops/internal/httpapi"
	"github.com/MarkoPoloResearchLab/drops/internal/payproc"
	"github.com/MarkoPoloResearchLab/drops/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/drops/pkg/drops"
	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagAllowedOrigins    = "allowed-origins"
	flagSigningKey        = "jwt-signing-key"
	flagSessionIssuer     = "jwt-issuer"
	flagSessionCookie     = "jwt-cookie-name"
	flagProcessorBaseURL  = "processor-base-url"
	flagProcessorAPIKey   = "processor-api-key"
	flagProcessorTimeout  = "processor-timeout"
	flagNotifierURL       = "notifier-url"
	flagGracePeriod       = "grace-period"
	flagAbandonmentWindow = "abandonment-window"
	flagSweepInterval     = "sweep-interval"

	configKeyDatabaseURL       = "database_url"
	configKeyListenAddr        = "listen_addr"
	configKeyAllowedOrigins    = "allowed_origins"
	configKeySigningKey        = "jwt_signing_key"
	configKeySessionIssuer     = "jwt_issuer"
	configKeySessionCookie     = "jwt_cookie_name"
	configKeyProcessorBaseURL  = "processor_base_url"
	configKeyProcessorAPIKey   = "processor_api_key"
	configKeyProcessorTimeout  = "processor_timeout"
	configKeyNotifierURL       = "notifier_url"
	configKeyGracePeriod       = "grace_period"
	configKeyAbandonmentWindow = "abandonment_window"
	configKeySweepInterval     = "sweep_interval"

	defaultDatabaseURL       = "sqlite:///tmp/drops.db"
	defaultListenAddr        = ":9090"
	defaultProcessorTimeout  = 10 * time.Second
	defaultAbandonmentWindow = 30 * time.Minute
	defaultSweepInterval     = 5 * time.Minute
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	AllowedOrigins    string
	SigningKey        string
	SessionIssuer     string
	SessionCookie     string
	ProcessorBaseURL  string
	ProcessorAPIKey   string
	ProcessorTimeout  time.Duration
	NotifierURL       string
	GracePeriod       time.Duration
	AbandonmentWindow time.Duration
	SweepInterval     time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dropsd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "dropsd",
		Short:         "Pre-order drops server",
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
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-delimited CORS origins")
	cmd.Flags().String(flagSigningKey, "", "session JWT signing key")
	cmd.Flags().String(flagSessionIssuer, "", "session JWT issuer")
	cmd.Flags().String(flagSessionCookie, "", "session cookie name")
	cmd.Flags().String(flagProcessorBaseURL, "", "payment processor base URL")
	cmd.Flags().String(flagProcessorAPIKey, "", "payment processor API key")
	cmd.Flags().Duration(flagProcessorTimeout, defaultProcessorTimeout, "payment processor request timeout")
	cmd.Flags().String(flagNotifierURL, "", "order confirmation relay URL (optional)")
	cmd.Flags().Duration(flagGracePeriod, drops.DefaultGracePeriod, "post-deadline ordering grace period")
	cmd.Flags().Duration(flagAbandonmentWindow, defaultAbandonmentWindow, "age before an unpaid hold is swept")
	cmd.Flags().Duration(flagSweepInterval, defaultSweepInterval, "how often to sweep abandoned holds")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:       flagDatabaseURL,
		configKeyListenAddr:        flagListenAddr,
		configKeyAllowedOrigins:    flagAllowedOrigins,
		configKeySigningKey:        flagSigningKey,
		configKeySessionIssuer:     flagSessionIssuer,
		configKeySessionCookie:     flagSessionCookie,
		configKeyProcessorBaseURL:  flagProcessorBaseURL,
		configKeyProcessorAPIKey:   flagProcessorAPIKey,
		configKeyProcessorTimeout:  flagProcessorTimeout,
		configKeyNotifierURL:       flagNotifierURL,
		configKeyGracePeriod:       flagGracePeriod,
		configKeyAbandonmentWindow: flagAbandonmentWindow,
		configKeySweepInterval:     flagSweepInterval,
	}
	for configKey, flagName := range bindings {
		if err := viper.BindEnv(configKey, strings.ToUpper(configKey)); err != nil {
			return err
		}
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.SigningKey = viper.GetString(configKeySigningKey)
	cfg.SessionIssuer = viper.GetString(configKeySessionIssuer)
	cfg.SessionCookie = viper.GetString(configKeySessionCookie)
	cfg.ProcessorBaseURL = viper.GetString(configKeyProcessorBaseURL)
	cfg.ProcessorAPIKey = viper.GetString(configKeyProcessorAPIKey)
	cfg.ProcessorTimeout = viper.GetDuration(configKeyProcessorTimeout)
	cfg.NotifierURL = viper.GetString(configKeyNotifierURL)
	cfg.GracePeriod = viper.GetDuration(configKeyGracePeriod)
	cfg.AbandonmentWindow = viper.GetDuration(configKeyAbandonmentWindow)
	cfg.SweepInterval = viper.GetDuration(configKeySweepInterval)

	if cfg.SigningKey == "" {
		return fmt.Errorf("jwt signing key is required")
	}
	if cfg.ProcessorBaseURL == "" {
		return fmt.Errorf("processor base url is required")
	}
	if cfg.GracePeriod < 0 {
		return fmt.Errorf("grace period must not be negative")
	}
	if cfg.AbandonmentWindow <= 0 {
		cfg.AbandonmentWindow = defaultAbandonmentWindow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
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
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	processor, err := payproc.NewClient(payproc.Config{
		BaseURL: cfg.ProcessorBaseURL,
		APIKey:  cfg.ProcessorAPIKey,
		Timeout: cfg.ProcessorTimeout,
	})
	if err != nil {
		return fmt.Errorf("processor client init: %w", err)
	}

	options := []drops.ServiceOption{
		drops.WithPaymentProcessor(processor),
		drops.WithGracePeriod(cfg.GracePeriod),
		drops.WithOperationLogger(newZapOperationLogger(logger)),
	}
	if cfg.NotifierURL != "" {
		notifier, err := payproc.NewNotifier(cfg.NotifierURL, cfg.ProcessorTimeout)
		if err != nil {
			return fmt.Errorf("notifier init: %w", err)
		}
		options = append(options, drops.WithNotifier(notifier))
	}

	store := gormstore.New(gormDB)
	service, err := drops.NewService(store, func() time.Time { return time.Now().UTC() }, options...)
	if err != nil {
		return fmt.Errorf("drops service init: %w", err)
	}

	go runSweeper(ctx, service, logger, cfg.AbandonmentWindow, cfg.SweepInterval)

	apiConfig := httpapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    httpapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		SessionSigningKey: cfg.SigningKey,
		SessionIssuer:     cfg.SessionIssuer,
		SessionCookieName: cfg.SessionCookie,
	}
	return httpapi.Run(ctx, apiConfig, service, logger)
}

// runSweeper periodically releases holds whose intent was abandoned before
// payment. Sweep failures are logged and the ticker keeps going.
func runSweeper(ctx context.Context, service *drops.Service, logger *zap.Logger, window time.Duration, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := service.SweepAbandoned(ctx, window)
			if err != nil {
				logger.Warn("abandoned hold sweep failed", zap.Error(err))
				continue
			}
			if released > 0 {
				logger.Info("released abandoned holds", zap.Int("intents", released))
			}
		}
	}
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
	cfg = &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
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
			path = "drops.db"
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
	err := db.AutoMigrate(
		&gormstore.Location{},
		&gormstore.Drop{},
		&gormstore.DropProduct{},
		&gormstore.StockReservation{},
		&gormstore.Client{},
		&gormstore.Order{},
		&gormstore.OrderProduct{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
