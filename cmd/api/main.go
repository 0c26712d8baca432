package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cimillas/boxoffice/internal/app"
	"github.com/cimillas/boxoffice/internal/clock"
	"github.com/cimillas/boxoffice/internal/config"
	"github.com/cimillas/boxoffice/internal/delivery"
	"github.com/cimillas/boxoffice/internal/metrics"
	"github.com/cimillas/boxoffice/internal/payment"
	"github.com/cimillas/boxoffice/internal/signing"
	"github.com/cimillas/boxoffice/internal/storage/memory"
	"github.com/cimillas/boxoffice/internal/storage/postgres"
	transporthttp "github.com/cimillas/boxoffice/internal/transport/http"
	"github.com/cimillas/boxoffice/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 10 * time.Second

type flags struct {
	envFile     string
	configDir   string
	migrateOnly bool
	scannerSub  string
	tokenTTL    time.Duration
}

func main() {
	var f flags
	pflag.StringVar(&f.envFile, "env-file", "", "path to a .env file (default: nearest .env in the working directory or its parents)")
	pflag.StringVar(&f.configDir, "config-dir", "", "directory holding an optional app.env")
	pflag.BoolVar(&f.migrateOnly, "migrate-only", false, "apply database migrations and exit")
	pflag.StringVar(&f.scannerSub, "issue-scanner-token", "", "print a scanner bearer token for the given scanner name and exit")
	pflag.DurationVar(&f.tokenTTL, "token-ttl", 12*time.Hour, "lifetime of tokens printed by --issue-scanner-token")
	pflag.Parse()

	if err := run(f); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

// stores groups the repositories behind one storage driver.
type stores struct {
	admin   app.AdminRepository
	sales   app.SaleRepository
	checkin app.CheckInRepository
	health  []transporthttp.HealthCheck
	close   func()
}

func run(f flags) error {
	cfg, loaded, err := config.Load(config.Options{EnvFile: f.envFile, ConfigDir: f.configDir})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	logger, err := config.NewLogger(cfg, os.Stdout)
	if err != nil {
		return err
	}
	if loaded.EnvFile != "" {
		logger.Info().Str("path", loaded.EnvFile).Msg("loaded env file")
	}
	if loaded.ConfigFile != "" {
		logger.Info().Str("path", loaded.ConfigFile).Msg("loaded config file")
	}

	if f.scannerSub != "" {
		token, err := transporthttp.IssueScannerToken([]byte(cfg.ScannerJWTSecret), f.scannerSub, f.tokenTTL, time.Now())
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	m := metrics.New()

	startupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	st, err := openStores(startupCtx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer st.close()
	if f.migrateOnly {
		logger.Info().Msg("migrations applied, exiting")
		return nil
	}

	codec, err := signing.New([]byte(cfg.TicketSigningKey))
	if err != nil {
		return fmt.Errorf("signing codec: %w", err)
	}
	clk := clock.NewSystem()

	adminSvc := app.NewAdminService(st.admin, clk)
	saleSvc := app.NewSaleService(st.sales, codec, clk,
		app.WithPriceMismatchPolicy(app.PriceMismatchPolicy(cfg.PriceMismatchPolicy)),
		app.WithCurrency(cfg.Currency),
		app.WithSaleLogger(logger.With().Str("component", "sales").Logger()),
		app.WithSaleObserver(m),
	)
	checkinSvc := app.NewCheckInService(st.checkin, codec, clk,
		app.WithCheckInLogger(logger.With().Str("component", "checkin").Logger()),
		app.WithCheckInObserver(m),
	)

	var provider payment.Provider
	if cfg.StripeSecretKey != "" {
		provider = payment.NewStripeProvider(cfg.StripeSecretKey)
	} else {
		logger.Warn().Msg("STRIPE_SECRET_KEY not set, payment status comes from webhooks only")
	}
	tracker := payment.NewTracker(provider)
	poller := payment.NewPoller(tracker,
		payment.WithInterval(cfg.PaymentPollInterval),
		payment.WithTimeout(cfg.PaymentTimeout),
		payment.WithLogger(logger.With().Str("component", "payments").Logger()),
	)

	publisher, closePublisher, err := openPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()
	deliverySvc := app.NewDeliveryService(adminSvc, saleSvc, publisher, logger.With().Str("component", "delivery").Logger())

	checkoutSvc := app.NewCheckoutService(saleSvc, poller, deliverySvc,
		app.WithCheckoutLogger(logger.With().Str("component", "checkout").Logger()),
		app.WithPaymentWaitObserver(m),
	)

	if cfg.StripeWebhookSecret == "" {
		logger.Warn().Msg("STRIPE_WEBHOOK_SECRET not set, webhook endpoint disabled")
	}
	mux := transporthttp.NewRouter(transporthttp.Deps{
		Admin:               adminSvc,
		Checkout:            checkoutSvc,
		Sales:               saleSvc,
		CheckIn:             checkinSvc,
		Delivery:            deliverySvc,
		Payments:            tracker,
		PaymentRecorder:     tracker,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		ScannerSecret:       []byte(cfg.ScannerJWTSecret),
		Metrics:             m.Handler(),
		HealthChecks:        st.health,
		Logger:              logger,
	})
	handler := transporthttp.RequestLogger(transporthttp.CORS(cfg.Origins(), mux), logger, m)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info().Str("addr", server.Addr).Str("storage", cfg.StorageDriver).Msg("api listening")

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
		}
	case <-stopCtx.Done():
		logger.Info().Msg("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func openStores(ctx context.Context, cfg config.Config, logger zerolog.Logger, m *metrics.Metrics) (stores, error) {
	if cfg.StorageDriver == config.DriverMemory {
		logger.Warn().Msg("using in-memory storage, data is lost on exit")
		store := memory.New()
		return stores{admin: store, sales: store, checkin: store, close: func() {}}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return stores{}, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return stores{}, fmt.Errorf("db ping: %w", err)
	}
	if _, err := migrations.Apply(ctx, pool, migrations.WithLogger(logger)); err != nil {
		pool.Close()
		return stores{}, fmt.Errorf("apply migrations: %w", err)
	}

	txOpts := []postgres.TxOption{
		postgres.WithMaxAttempts(cfg.TxMaxAttempts),
		postgres.WithRetryHook(func(err error) {
			m.ObserveTxRetry()
			logger.Debug().Err(err).Msg("transaction conflict, retrying")
		}),
	}
	return stores{
		admin:   postgres.NewAdminRepository(pool, txOpts...),
		sales:   postgres.NewSaleRepository(pool, txOpts...),
		checkin: postgres.NewCheckInRepository(pool, txOpts...),
		health:  []transporthttp.HealthCheck{pool.Ping},
		close:   pool.Close,
	}, nil
}

func openPublisher(cfg config.Config, logger zerolog.Logger) (delivery.Publisher, func(), error) {
	if cfg.RabbitMQURL == "" {
		logger.Warn().Msg("RABBITMQ_URL not set, deliveries are only logged")
		return delivery.LogPublisher{Logger: logger}, func() {}, nil
	}
	pub, err := delivery.NewRabbitPublisher(cfg.RabbitMQURL, cfg.DeliveryQueue, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("delivery publisher: %w", err)
	}
	return pub, func() { _ = pub.Close() }, nil
}
