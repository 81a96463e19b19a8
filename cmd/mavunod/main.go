package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"mavuno/cmd/internal/passphrase"
	ledgerconfig "mavuno/config"
	"mavuno/core"
	"mavuno/core/events"
	"mavuno/crypto"
	"mavuno/gateway/middleware"
	"mavuno/gateway/routes"
	nativecommon "mavuno/native/common"
	"mavuno/observability"
	"mavuno/observability/logging"
	telemetry "mavuno/observability/otel"
	"mavuno/services/eventbus"
	"mavuno/services/mavunod/config"
	"mavuno/services/onramp"
	"mavuno/services/timeline"
	"mavuno/storage"
)

const adminPassphraseEnv = "MAVUNO_ADMIN_PASSPHRASE"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "mavunod.yaml", "path to mavunod config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, closer := logging.SetupWithOptions(cfg.Observability.ServiceName, cfg.Environment, logging.Options{
		Level:    cfg.Observability.LogLevel,
		FilePath: cfg.Observability.LogFile,
	})
	defer closer.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("mavunod exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.Observability.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Observability.OTLPEndpoint,
		Insecure:    cfg.Observability.OTLPInsecure,
		Headers:     telemetry.ParseHeaders(cfg.Observability.OTLPHeaders),
		Metrics:     cfg.Observability.Metrics,
		Traces:      cfg.Observability.Tracing,
		SampleRatio: cfg.Observability.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	ledgerCfg, err := loadLedgerConfig(cfg.LedgerConfig)
	if err != nil {
		return err
	}
	db, err := openStorage(ledgerCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	node, err := core.NewNode(db, ledgerCfg.Lending)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	node.SetLogger(logger)
	otelLedger, err := telemetry.NewLedgerRecorder()
	if err != nil {
		return fmt.Errorf("ledger instruments: %w", err)
	}
	node.SetObserver(func(module, op string, elapsed time.Duration, err error) {
		observability.Ledger().Observe(module, op, elapsed, err)
		otelLedger.Observe(module, op, elapsed, err)
	})
	seeded, err := node.Bootstrap(&ledgerCfg.Genesis)
	if err != nil {
		return fmt.Errorf("bootstrap ledger: %w", err)
	}
	if seeded {
		logger.Info("ledger seeded from genesis", "data_dir", ledgerCfg.DataDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// Subscribers outlive the HTTP server so in-flight requests can still
	// emit during shutdown.
	bgCtx, cancelBackground := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancelBackground()
		wg.Wait()
	}()

	fanout := events.Fanout{events.EmitterFunc(func(evt events.Event) {
		observability.Events().RecordEvent(evt.EventType())
	})}
	hub := routes.NewHub()
	fanout = append(fanout, hub)

	var store *timeline.Store
	if cfg.Timeline.Enabled {
		store, err = timeline.Open(cfg.Timeline.DSN)
		if err != nil {
			return err
		}
		recorder := timeline.NewRecorder(store, logger, cfg.Timeline.Buffer)
		fanout = append(fanout, recorder)
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(bgCtx)
		}()
	}

	if cfg.Kafka.Enabled {
		publisher, err := eventbus.NewPublisher(eventbus.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Buffer:  cfg.Kafka.Buffer,
		}, logger)
		if err != nil {
			return err
		}
		fanout = append(fanout, publisher)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := publisher.Run(bgCtx); err != nil {
				logger.Error("eventbus: close writer", "error", err)
			}
		}()
	}
	node.SetEmitter(fanout)

	wg.Add(1)
	go func() {
		defer wg.Done()
		recordPools(bgCtx, node, cfg.PoolMetricsInterval, logger)
	}()

	var webhook http.Handler
	if cfg.Onramp.Enabled {
		handler, stopReports, err := setupOnramp(cfg, node, store, logger)
		if err != nil {
			return err
		}
		defer stopReports()
		webhook = handler
	}

	secret, err := cfg.Auth.ResolveSecret()
	if err != nil {
		return fmt.Errorf("auth secret: %w", err)
	}
	logger.Info("bearer auth configured",
		"issuer", cfg.Auth.Issuer,
		"audience", cfg.Auth.Audience,
		logging.MaskField("jwt_secret", secret))
	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for group, limit := range cfg.RateLimits {
		limits[group] = middleware.RateLimit{RequestsPerMinute: limit.RequestsPerMinute, Burst: limit.Burst}
	}
	var obs *middleware.Observability
	if cfg.Observability.Metrics {
		obs = middleware.NewObservability(middleware.ObservabilityConfig{LogRequests: cfg.Observability.LogRequests}, logger)
	}
	handler, err := routes.New(routes.Config{
		Node:     node,
		Timeline: store,
		Webhook:  webhook,
		Stream:   hub,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			HMACSecret: secret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter:   middleware.NewRateLimiter(limits),
		Observability: obs,
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(handler, "mavunod"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("mavunod listening", "addr", cfg.ListenAddress, "env", cfg.Environment)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server close", "error", err)
			_ = server.Close()
		}
		return nil
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// loadLedgerConfig only asks for the admin passphrase when a default ledger
// config has to be generated.
func loadLedgerConfig(path string) (*ledgerconfig.Config, error) {
	var pass string
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		pass, err = passphrase.NewLabeledSource(adminPassphraseEnv, "admin keystore").Get()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := ledgerconfig.Load(path, pass)
	if err != nil {
		return nil, fmt.Errorf("load ledger config: %w", err)
	}
	return cfg, nil
}

func openStorage(cfg *ledgerconfig.Config) (storage.Database, error) {
	switch cfg.DatabaseBackend {
	case ledgerconfig.BackendMemory:
		return storage.NewMemDB(), nil
	case ledgerconfig.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		db, err := storage.NewBoltDB(filepath.Join(cfg.DataDir, "ledger.db"))
		if err != nil {
			return nil, fmt.Errorf("open bolt: %w", err)
		}
		return db, nil
	default:
		db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
		if err != nil {
			return nil, fmt.Errorf("open leveldb: %w", err)
		}
		return db, nil
	}
}

func setupOnramp(cfg config.Config, node *core.Node, store *timeline.Store, logger *slog.Logger) (http.Handler, func(), error) {
	var (
		db  *gorm.DB
		err error
	)
	if store != nil && cfg.Onramp.DSN == cfg.Timeline.DSN {
		db = store.DB()
	} else {
		db, err = timeline.OpenDB(cfg.Onramp.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("onramp database: %w", err)
		}
	}
	pass, err := passphrase.NewLabeledSource(cfg.Onramp.PassphraseEnv, "minter keystore").Get()
	if err != nil {
		return nil, nil, err
	}
	key, err := crypto.LoadFromKeystore(cfg.Onramp.MinterKeystore, pass)
	if err != nil {
		return nil, nil, fmt.Errorf("load minter keystore: %w", err)
	}
	processor, err := onramp.NewProcessor(onramp.Config{
		DB:       db,
		Ledger:   node,
		Minter:   key.PubKey().Address(),
		Provider: cfg.Onramp.Provider,
		Quota: nativecommon.Quota{
			MaxRequestsPerEpoch: cfg.Onramp.Quota.MaxRequestsPerEpoch,
			MaxMintPerEpoch:     cfg.Onramp.Quota.MaxMintPerEpoch,
			EpochSeconds:        uint32(cfg.Onramp.Quota.Epoch / time.Second),
		},
		Logger: logger,
	})
	if err != nil {
		return nil, nil, err
	}
	secret, err := cfg.Onramp.ResolveWebhookSecret()
	if err != nil {
		return nil, nil, fmt.Errorf("onramp webhook secret: %w", err)
	}
	handler, err := onramp.NewWebhookHandler(processor, secret, logger)
	if err != nil {
		return nil, nil, err
	}
	stopReports := func() {}
	if cfg.Onramp.Report.Enabled {
		reporter, err := onramp.NewReporter(db, cfg.Onramp.Report.Dir, nil, logger)
		if err != nil {
			return nil, nil, err
		}
		scheduler, err := reporter.Schedule(cfg.Onramp.Report.Cron, cfg.Onramp.Report.Window)
		if err != nil {
			return nil, nil, err
		}
		stopReports = func() { <-scheduler.Stop().Done() }
	}
	logger.Info("onramp enabled", "provider", cfg.Onramp.Provider, "minter", key.PubKey().Address().String())
	return handler, stopReports, nil
}

// recordPools refreshes the pool gauges until ctx ends.
func recordPools(ctx context.Context, node *core.Node, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		pools, err := node.Pools()
		if err != nil {
			logger.Warn("pool metrics: list pools", "error", err)
		}
		for _, pool := range pools {
			snap, err := node.PoolSnapshot(pool.Currency)
			if err != nil {
				logger.Warn("pool metrics: snapshot", "currency", pool.Currency.String(), "error", err)
				continue
			}
			observability.Pools().Record(snap)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
