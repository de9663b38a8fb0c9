package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gatekeeper/internal/api"
	"github.com/nerrad567/gatekeeper/internal/audit"
	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/authn"
	"github.com/nerrad567/gatekeeper/internal/authz"
	"github.com/nerrad567/gatekeeper/internal/guard"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/config"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/database"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/influxdb"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/logging"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/mqtt"
	"github.com/nerrad567/gatekeeper/internal/session"
	"github.com/nerrad567/gatekeeper/internal/throttle"

	// Registers the embedded SQL migrations with the database package.
	_ "github.com/nerrad567/gatekeeper/migrations"
)

// sessionSweepInterval is how often expired sessions are purged.
const sessionSweepInterval = time.Minute

// run initialises all subsystems and blocks until ctx is cancelled.
// It returns an error if startup fails.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Gatekeeper", "version", version, "commit", commit, "build_date", date)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "config_path", configPath)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	health := map[string]api.HealthChecker{"database": db}

	users := auth.NewUserRepository(db.DB)
	hasher := auth.NewHasher(auth.HashParams{
		Time:    cfg.Security.Password.Time,
		Memory:  cfg.Security.Password.MemoryKiB,
		Threads: cfg.Security.Password.Threads,
	})

	tokens, err := auth.NewTokenService(cfg.Security.JWT.Secret, log.Logger)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	if _, err := auth.SeedAdmin(ctx, users, hasher, cfg.Security.AdminEmail, log.Logger); err != nil {
		return fmt.Errorf("seeding admin: %w", err)
	}

	throttleStore, cleanup, err := newThrottleStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if closer, ok := throttleStore.(io.Closer); ok {
		defer closer.Close() //nolint:errcheck // best effort on shutdown
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	sinks := []audit.Sink{
		auditRepo,
		audit.NewLogSink(log),
	}

	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT broker")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT connection", "error", closeErr)
			}
		}()
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT connection restored")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT connection lost", "error", err)
		})
		log.Info("connected to MQTT broker", "broker", cfg.MQTT.Broker.Host, "port", cfg.MQTT.Broker.Port)

		sinks = append(sinks, audit.NewMQTTSink(mqttClient))
		health["mqtt"] = mqttClient
	} else {
		log.Info("MQTT audit fan-out disabled")
	}

	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB security metrics disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("connected to InfluxDB", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)

		sinks = append(sinks, audit.NewMetricsSink(influxClient))
		health["influxdb"] = influxClient
	}

	hub := api.NewHub(cfg.WebSocket, log)
	sinks = append(sinks, audit.NewBroadcastSink(hub))

	auditLog := audit.NewLog(log, sinks)

	authenticator, err := authn.New(authn.Deps{
		Users:    users,
		Sessions: session.NewMemoryStore(),
		Throttle: throttle.New(throttleStore),
		Tokens:   tokens,
		Hasher:   hasher,
		Audit:    auditLog,
		Logger:   log,

		SessionTTL: cfg.GetSessionTTL(),
	})
	if err != nil {
		return fmt.Errorf("creating authenticator: %w", err)
	}

	apiServer, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log,
		Users:     users,
		Hasher:    hasher,
		Tokens:    tokens,
		Authn:     authenticator,
		Authz:     authz.New(auditLog, log),
		Guard:     guard.New(cfg.Security.Guard.MaxDepth),
		Audit:     auditLog,
		AuditRepo: auditRepo,
		Hub:       hub,
		Health:    health,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Background workers run on their own context so they outlive the API
	// shutdown long enough to flush the last audit events. The deferred Stop
	// covers a failed Start; the shutdown path below stops them first.
	bg := newBackground()
	defer bg.Stop() //nolint:errcheck // no-op after the shutdown path
	if cleanup != nil {
		bg.Go(cleanup)
	}
	bg.Go(auditLog.Run)
	bg.Go(func(ctx context.Context) {
		sweepSessions(ctx, authenticator, sessionSweepInterval)
	})

	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	if err := apiServer.Close(); err != nil {
		log.Error("error stopping API server", "error", err)
	}

	if err := bg.Stop(); err != nil {
		log.Error("background worker failed", "error", err)
	}
	if dropped := auditLog.Dropped(); dropped > 0 {
		log.Warn("audit events dropped during run", "count", dropped)
	}

	log.Info("Gatekeeper stopped")
	return nil
}

// openDatabase opens SQLite and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database opened", "path", cfg.Database.Path)

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	return db, nil
}

// newThrottleStore returns the failure counter backend named by
// security.throttle.backend, plus the cleanup loop it needs (nil for Redis,
// where keys expire on their own).
func newThrottleStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (throttle.Store, func(context.Context), error) {
	switch cfg.Security.Throttle.Backend {
	case config.ThrottleBackendRedis:
		client := redis.NewClient(redisOptions(cfg.Redis))
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close() //nolint:errcheck // already failing
			return nil, nil, fmt.Errorf("connecting to Redis at %s: %w", cfg.Redis.Addr, err)
		}
		log.Info("login throttle using Redis", "addr", cfg.Redis.Addr)
		return &redisThrottleStore{RedisStore: throttle.NewRedisStore(client), client: client}, nil, nil

	default:
		store := throttle.NewMemoryStore()
		interval := cfg.GetThrottleCleanupInterval()
		log.Info("login throttle using process memory", "cleanup_interval", interval)
		return store, func(ctx context.Context) {
			store.Run(ctx, interval, throttle.DefaultPolicy)
		}, nil
	}
}

func redisOptions(cfg config.RedisConfig) *redis.Options {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// redisThrottleStore owns the Redis client behind a RedisStore.
type redisThrottleStore struct {
	*throttle.RedisStore
	client *redis.Client
}

func (s *redisThrottleStore) Close() error {
	return s.client.Close()
}

// background runs long-lived workers on a context of their own. Stop
// cancels it and waits for every worker to return.
type background struct {
	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

func newBackground() *background {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	return &background{g: g, ctx: gctx, cancel: cancel}
}

// Go starts fn; fn must return once its context is cancelled.
func (b *background) Go(fn func(context.Context)) {
	b.g.Go(func() error {
		fn(b.ctx)
		return nil
	})
}

// Stop is safe to call more than once.
func (b *background) Stop() error {
	b.cancel()
	return b.g.Wait()
}

// sweepSessions purges expired sessions every interval until ctx ends.
func sweepSessions(ctx context.Context, a *authn.Enforcer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep()
		}
	}
}

// seedAdmin runs the first-boot admin seed on its own and prints the
// generated password to out.
func seedAdmin(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	log := logging.New(cfg.Logging, version)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // process exits next

	hasher := auth.NewHasher(auth.HashParams{
		Time:    cfg.Security.Password.Time,
		Memory:  cfg.Security.Password.MemoryKiB,
		Threads: cfg.Security.Password.Threads,
	})

	password, err := auth.SeedAdmin(ctx, auth.NewUserRepository(db.DB), hasher, cfg.Security.AdminEmail, log.Logger)
	if err != nil {
		return fmt.Errorf("seeding admin: %w", err)
	}
	if password == "" {
		fmt.Fprintln(out, "users already exist, nothing to do")
		return nil
	}
	fmt.Fprintf(out, "created %s with password %s\nchange it after first login\n", cfg.Security.AdminEmail, password)
	return nil
}
