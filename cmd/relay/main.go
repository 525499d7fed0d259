// Command relay starts the BitRiver relay ingest service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bitriver-relay/internal/events"
	"bitriver-relay/internal/gateway"
	"bitriver-relay/internal/notify"
	"bitriver-relay/internal/observability/logging"
	"bitriver-relay/internal/observability/metrics"
	"bitriver-relay/internal/relay"
	"bitriver-relay/internal/server"
	"bitriver-relay/internal/storage"
	"bitriver-relay/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	addr := flag.String("addr", "", "HTTP listen address")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	apiToken := flag.String("api-token", "", "shared token guarding the operator API")
	wsToken := flag.String("ws-token", "", "shared token clients present when upgrading")
	allowedOrigins := flag.String("allowed-origins", "", "comma separated origins allowed to upgrade and call the API")
	recentSessions := flag.Int("recent-sessions", 0, "maximum archived sessions returned by the sessions API")
	shutdownTimeout := flag.Duration("shutdown-timeout", 0, "grace period for draining connections and sessions at exit")
	encoderBinary := flag.String("encoder-binary", "", "encoder executable used for relay sessions")
	stopGrace := flag.Duration("encoder-stop-grace", 0, "wait after closing encoder stdin before killing the process")
	teardownWait := flag.Duration("encoder-teardown-wait", 0, "bound on tearing down a session replaced by the same connection")
	archiveDriver := flag.String("archive-driver", "", "session archive driver (json or postgres)")
	archivePath := flag.String("archive-path", "", "path to the JSON session archive")
	archiveRetention := flag.Int("archive-retention", 0, "maximum records retained by the JSON archive")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string for the session archive")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	queueDriver := flag.String("queue-driver", "", "lifecycle event queue driver (memory or redis)")
	queueRedisAddr := flag.String("queue-redis-addr", "", "Redis address for the event queue")
	queueRedisAddrs := flag.String("queue-redis-addrs", "", "comma separated Redis addresses for the event queue")
	queueRedisUsername := flag.String("queue-redis-username", "", "Redis username for the event queue")
	queueRedisPassword := flag.String("queue-redis-password", "", "Redis password for the event queue")
	queueRedisStream := flag.String("queue-redis-stream", "", "Redis stream key for lifecycle events")
	queueRedisGroup := flag.String("queue-redis-group", "", "Redis consumer group for lifecycle events")
	queueRedisMasterName := flag.String("queue-redis-sentinel-master", "", "Redis sentinel master name for the event queue")
	queueRedisPoolSize := flag.Int("queue-redis-pool-size", 0, "maximum Redis connections for the event queue")
	queueRedisTLSCA := flag.String("queue-redis-tls-ca", "", "path to Redis TLS CA certificate for the event queue")
	queueRedisTLSCert := flag.String("queue-redis-tls-cert", "", "path to Redis TLS client certificate for the event queue")
	queueRedisTLSKey := flag.String("queue-redis-tls-key", "", "path to Redis TLS client key for the event queue")
	queueRedisTLSServerName := flag.String("queue-redis-tls-server-name", "", "override Redis TLS server name for the event queue")
	queueRedisTLSSkipVerify := flag.Bool("queue-redis-tls-skip-verify", false, "skip Redis TLS verification for the event queue")
	notifyEndpoint := flag.String("notify-endpoint", "", "URL receiving lifecycle webhooks")
	notifyToken := flag.String("notify-token", "", "bearer token sent with lifecycle webhooks")
	notifyMaxAttempts := flag.Int("notify-max-attempts", 0, "delivery attempts per lifecycle event")
	notifyRetryInterval := flag.Duration("notify-retry-interval", 0, "base delay between webhook delivery attempts")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	startLimit := flag.Int("rate-start-limit", 0, "maximum session starts per window for a single IP")
	startWindow := flag.Duration("rate-start-window", 0, "window for counting session starts")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed start throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed start throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for rate limiter Redis operations")
	rateRedisTLSCA := flag.String("rate-redis-tls-ca", "", "path to Redis TLS CA certificate for start throttling")
	rateRedisTLSCert := flag.String("rate-redis-tls-cert", "", "path to Redis TLS client certificate for start throttling")
	rateRedisTLSKey := flag.String("rate-redis-tls-key", "", "path to Redis TLS client key for start throttling")
	rateRedisTLSServerName := flag.String("rate-redis-tls-server-name", "", "override Redis TLS server name for start throttling")
	rateRedisTLSSkipVerify := flag.Bool("rate-redis-tls-skip-verify", false, "skip Redis TLS verification for start throttling")
	wsReadLimit := flag.Int64("ws-read-limit", 0, "maximum WebSocket frame size in bytes")
	wsSendBuffer := flag.Int("ws-send-buffer", 0, "outbound event buffer per connection")
	telemetryInterval := flag.Duration("telemetry-interval", 0, "interval between encoder resource samples")
	flag.Parse()

	fileCfg, err := loadConfigFile(firstNonEmpty(*configPath, os.Getenv("BITRIVER_RELAY_CONFIG")))
	if err != nil {
		logger := logging.Init(logging.Config{})
		logger.Error("failed to load config file", "error", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("BITRIVER_RELAY_LOG_LEVEL"), fileCfg.LogLevel)})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("BITRIVER_RELAY_ADDR"), fileCfg.Addr, ":8080")
	tlsCertPath := firstNonEmpty(*tlsCert, os.Getenv("BITRIVER_RELAY_TLS_CERT"), fileCfg.TLS.CertFile)
	tlsKeyPath := firstNonEmpty(*tlsKey, os.Getenv("BITRIVER_RELAY_TLS_KEY"), fileCfg.TLS.KeyFile)

	origins := splitAndTrim(firstNonEmpty(*allowedOrigins, os.Getenv("BITRIVER_RELAY_ALLOWED_ORIGINS")))
	if len(origins) == 0 {
		origins = fileCfg.AllowedOrigins
	}

	dsn := resolvePostgresDSN(*postgresDSN, fileCfg.Archive.PostgresDSN)
	driver := resolveArchiveDriver(*archiveDriver, os.Getenv("BITRIVER_RELAY_ARCHIVE_DRIVER"), fileCfg.Archive.Driver, dsn)

	var (
		archive     storage.ArchiveRepository
		archiveFile string
	)
	switch driver {
	case "json":
		archiveFile = firstNonEmpty(*archivePath, os.Getenv("BITRIVER_RELAY_ARCHIVE_PATH"), fileCfg.Archive.Path, "data/archive.json")
		var opts []storage.Option
		if retention := resolveInt(*archiveRetention, "BITRIVER_RELAY_ARCHIVE_RETENTION", fileCfg.Archive.Retention); retention > 0 {
			opts = append(opts, storage.WithRetentionLimit(retention))
		}
		archive, err = storage.NewArchive(archiveFile, opts...)
	case "postgres":
		if dsn == "" {
			logger.Error("postgres archive selected without DSN")
			os.Exit(1)
		}
		var opts []storage.Option
		maxConns := resolveInt(*postgresMaxConns, "BITRIVER_RELAY_POSTGRES_MAX_CONNS", 0)
		minConns := resolveInt(*postgresMinConns, "BITRIVER_RELAY_POSTGRES_MIN_CONNS", 0)
		if maxConns > 0 || minConns > 0 {
			opts = append(opts, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "BITRIVER_RELAY_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "BITRIVER_RELAY_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "BITRIVER_RELAY_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			opts = append(opts, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "BITRIVER_RELAY_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			opts = append(opts, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("BITRIVER_RELAY_POSTGRES_APP_NAME")); appName != "" {
			opts = append(opts, storage.WithPostgresApplicationName(appName))
		}
		connectCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		archive, err = storage.NewPostgresArchive(connectCtx, dsn, opts...)
		cancel()
	default:
		logger.Error("unsupported archive driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open session archive", "driver", driver, "error", err)
		os.Exit(1)
	}

	queueCfg := events.RedisQueueConfig{
		Addr:       firstNonEmpty(*queueRedisAddr, os.Getenv("BITRIVER_RELAY_QUEUE_REDIS_ADDR"), fileCfg.Queue.Redis.Addr),
		Addrs:      splitAndTrim(firstNonEmpty(*queueRedisAddrs, os.Getenv("BITRIVER_RELAY_QUEUE_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*queueRedisUsername, os.Getenv("BITRIVER_RELAY_QUEUE_REDIS_USERNAME"), fileCfg.Queue.Redis.Username),
		Password:   firstNonEmpty(*queueRedisPassword, os.Getenv("BITRIVER_RELAY_QUEUE_REDIS_PASSWORD"), fileCfg.Queue.Redis.Password),
		Stream:     firstNonEmpty(*queueRedisStream, os.Getenv("BITRIVER_RELAY_QUEUE_REDIS_STREAM"), fileCfg.Queue.Redis.Stream),
		Group:      firstNonEmpty(*queueRedisGroup, os.Getenv("BITRIVER_RELAY_QUEUE_REDIS_GROUP"), fileCfg.Queue.Redis.Group),
		MasterName: firstNonEmpty(*queueRedisMasterName, os.Getenv("BITRIVER_RELAY_QUEUE_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*queueRedisPoolSize, "BITRIVER_RELAY_QUEUE_REDIS_POOL_SIZE", 0),
		TLS: events.RedisTLSConfig{
			CAFile:             firstNonEmpty(*queueRedisTLSCA, os.Getenv("BITRIVER_RELAY_QUEUE_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*queueRedisTLSCert, os.Getenv("BITRIVER_RELAY_QUEUE_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*queueRedisTLSKey, os.Getenv("BITRIVER_RELAY_QUEUE_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*queueRedisTLSServerName, os.Getenv("BITRIVER_RELAY_QUEUE_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*queueRedisTLSSkipVerify, "BITRIVER_RELAY_QUEUE_REDIS_TLS_SKIP_VERIFY", false),
		},
	}
	queueDriverName := firstNonEmpty(*queueDriver, os.Getenv("BITRIVER_RELAY_QUEUE_DRIVER"), fileCfg.Queue.Driver)
	queue, err := configureQueue(queueDriverName, queueCfg, logger)
	if err != nil {
		logger.Error("failed to configure event queue", "error", err)
		os.Exit(1)
	}

	registry := relay.NewRegistry(
		relay.WithArchive(archive),
		relay.WithQueue(queue),
		relay.WithLogger(logging.WithComponent(logger, "relay")),
		relay.WithMetrics(recorder),
		relay.WithEncoderBinary(firstNonEmpty(*encoderBinary, os.Getenv("BITRIVER_RELAY_ENCODER_BINARY"), fileCfg.Encoder.Binary)),
		relay.WithStopGrace(resolveDuration(*stopGrace, "BITRIVER_RELAY_ENCODER_STOP_GRACE", fileCfg.Encoder.StopGrace)),
		relay.WithTeardownWait(resolveDuration(*teardownWait, "BITRIVER_RELAY_ENCODER_TEARDOWN_WAIT", fileCfg.Encoder.TeardownWait)),
	)

	gw, err := gateway.New(gateway.Config{
		Registry:       registry,
		AllowedOrigins: origins,
		AuthToken:      firstNonEmpty(*wsToken, os.Getenv("BITRIVER_RELAY_WS_TOKEN"), fileCfg.WSToken),
		ReadLimit:      resolveInt64(*wsReadLimit, "BITRIVER_RELAY_WS_READ_LIMIT", 0),
		SendBuffer:     resolveInt(*wsSendBuffer, "BITRIVER_RELAY_WS_SEND_BUFFER", 0),
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to configure relay gateway", "error", err)
		os.Exit(1)
	}

	var notifier *notify.Notifier
	notifyTarget := firstNonEmpty(*notifyEndpoint, os.Getenv("BITRIVER_RELAY_NOTIFY_ENDPOINT"), fileCfg.Notify.Endpoint)
	if notifyTarget != "" {
		notifier, err = notify.New(queue, notify.Config{
			Endpoint:      notifyTarget,
			Token:         firstNonEmpty(*notifyToken, os.Getenv("BITRIVER_RELAY_NOTIFY_TOKEN"), fileCfg.Notify.Token),
			MaxAttempts:   resolveInt(*notifyMaxAttempts, "BITRIVER_RELAY_NOTIFY_MAX_ATTEMPTS", fileCfg.Notify.MaxAttempts),
			RetryInterval: resolveDuration(*notifyRetryInterval, "BITRIVER_RELAY_NOTIFY_RETRY_INTERVAL", fileCfg.Notify.RetryInterval),
			Logger:        logger,
			Metrics:       recorder,
		})
		if err != nil {
			logger.Error("failed to configure webhook notifier", "error", err)
			os.Exit(1)
		}
	}

	sampler, err := telemetry.New(telemetry.Config{
		Source:   registry,
		Interval: resolveDuration(*telemetryInterval, "BITRIVER_RELAY_TELEMETRY_INTERVAL", fileCfg.Telemetry.Interval),
		Logger:   logger,
		Metrics:  recorder,
	})
	if err != nil {
		logger.Error("failed to configure encoder telemetry", "error", err)
		os.Exit(1)
	}

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "BITRIVER_RELAY_RATE_GLOBAL_RPS", fileCfg.Rate.GlobalRPS),
		GlobalBurst:   resolveInt(*globalBurst, "BITRIVER_RELAY_RATE_GLOBAL_BURST", fileCfg.Rate.GlobalBurst),
		StartLimit:    resolveInt(*startLimit, "BITRIVER_RELAY_RATE_START_LIMIT", fileCfg.Rate.StartLimit),
		StartWindow:   resolveDuration(*startWindow, "BITRIVER_RELAY_RATE_START_WINDOW", fileCfg.Rate.StartWindow),
		RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("BITRIVER_RELAY_RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("BITRIVER_RELAY_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*rateRedisTimeout, "BITRIVER_RELAY_RATE_REDIS_TIMEOUT", 2*time.Second),
		RedisTLS: server.RedisTLSConfig{
			CAFile:             firstNonEmpty(*rateRedisTLSCA, os.Getenv("BITRIVER_RELAY_RATE_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*rateRedisTLSCert, os.Getenv("BITRIVER_RELAY_RATE_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*rateRedisTLSKey, os.Getenv("BITRIVER_RELAY_RATE_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*rateRedisTLSServerName, os.Getenv("BITRIVER_RELAY_RATE_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*rateRedisTLSSkipVerify, "BITRIVER_RELAY_RATE_REDIS_TLS_SKIP_VERIFY", false),
		},
	}

	drainTimeout := resolveDuration(*shutdownTimeout, "BITRIVER_RELAY_SHUTDOWN_TIMEOUT", fileCfg.ShutdownTimeout)
	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}

	srv, err := server.New(server.Deps{
		Registry: registry,
		Archive:  archive,
		Relay:    gw,
	}, server.Config{
		Addr:            listenAddr,
		TLS:             server.TLSConfig{CertFile: tlsCertPath, KeyFile: tlsKeyPath},
		RateLimit:       rateCfg,
		CORS:            server.CORSConfig{AllowedOrigins: origins},
		APIToken:        firstNonEmpty(*apiToken, os.Getenv("BITRIVER_RELAY_API_TOKEN"), fileCfg.APIToken),
		RecentSessions:  resolveInt(*recentSessions, "BITRIVER_RELAY_RECENT_SESSIONS", fileCfg.RecentSessions),
		ShutdownTimeout: drainTimeout,
		OnListen: func(bound net.Addr) {
			logger.Info("bitriver relay listening", "addr", bound.String())
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary := newStartupSummary(startupSummaryInput{
		Addr:           listenAddr,
		TLSEnabled:     tlsCertPath != "" && tlsKeyPath != "",
		ArchiveDriver:  driver,
		ArchivePath:    archiveFile,
		ArchiveDSN:     dsn,
		QueueDriver:    queueDriverName,
		QueueConfig:    queueCfg,
		NotifyEndpoint: notifyTarget,
		RateLimit:      rateCfg,
	})
	logger.Info("relay configuration", summary.LogArgs()...)
	if tlsCertPath != "" && tlsKeyPath != "" {
		logger.Info("TLS enabled", "cert_file", tlsCertPath)
	}
	logger.Info("metrics endpoint available", "path", "/metrics")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(groupCtx)
	})
	group.Go(func() error {
		if err := sampler.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if notifier != nil {
		group.Go(func() error {
			if err := notifier.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	runErr := group.Wait()
	// Restore default signal handling so a second interrupt cuts the drain
	// short.
	stop()
	if runErr != nil {
		logger.Error("relay error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to drain relay sessions", "error", err)
	}
	if closer, ok := queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close event queue", "error", err)
		}
	}
	if err := archive.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close session archive", "error", err)
	}

	if runErr != nil {
		os.Exit(1)
	}
	logger.Info("relay stopped")
}

func configureQueue(driver string, cfg events.RedisQueueConfig, logger *slog.Logger) (events.Queue, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case "redis":
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for the event queue")
		}
		cfg.Logger = logging.WithComponent(logger, "event-queue")
		return events.NewRedisQueue(cfg)
	case "", "memory":
		return events.NewMemoryQueue(128), nil
	default:
		return nil, fmt.Errorf("unsupported event queue driver %q", driver)
	}
}

func resolveArchiveDriver(flagValue, envValue, fileValue, postgresDSN string) string {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver
	}
	if driver := strings.ToLower(strings.TrimSpace(fileValue)); driver != "" {
		return driver
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres"
	}
	return "json"
}

func resolvePostgresDSN(flagValue, fileValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("BITRIVER_RELAY_POSTGRES_DSN"), os.Getenv("DATABASE_URL"), fileValue))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string, fallback float64) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := parseFloat(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveInt(flagValue int, envKey string, fallback int) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := parseInt(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveInt64(flagValue int64, envKey string, fallback int64) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
			return value
		}
	}
	return fallback
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string, fallback bool) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return fallback
}

func parseFloat(value string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(value), 64)
}

func parseInt(value string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return v, nil
}
