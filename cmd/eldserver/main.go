// Command eldserver is the ELD event ingestion and synchronization core's
// HTTP entry point: it wires the ingestion pipeline, sync protocol, and
// dead-letter queue to a Postgres-backed event store and serves them over
// the routes described in applications/httpapi.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/eld-core/ingestion/applications/httpapi"
	"github.com/eld-core/ingestion/domain/dlq"
	"github.com/eld-core/ingestion/domain/idempotency"
	"github.com/eld-core/ingestion/domain/ingestion"
	"github.com/eld-core/ingestion/domain/syncprotocol"
	"github.com/eld-core/ingestion/infrastructure/config"
	infraerrors "github.com/eld-core/ingestion/infrastructure/errors"
	"github.com/eld-core/ingestion/infrastructure/eventstore"
	"github.com/eld-core/ingestion/infrastructure/logging"
	"github.com/eld-core/ingestion/infrastructure/metrics"
	"github.com/eld-core/ingestion/infrastructure/middleware"
	"github.com/eld-core/ingestion/infrastructure/retry"
	"github.com/eld-core/ingestion/system/scheduler"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides PORT/ADDR env)")
	runMigrations := flag.Bool("migrate", true, "apply embedded database migrations on startup")
	flag.Parse()

	_ = godotenv.Load()

	logger := logging.NewFromEnv("eld-ingestion")
	logging.InitDefault("eld-ingestion", config.GetEnv("LOG_LEVEL", "info"), config.GetEnv("LOG_FORMAT", "json"))
	m := metrics.Init("eld-ingestion")

	dsn, err := config.RequireEnv("DATABASE_URL")
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	rootCtx := context.Background()
	maxOpenConns := config.GetEnvInt("DB_MAX_OPEN_CONNS", 25)
	idleTimeout := config.ParseDurationOrDefault(config.GetEnv("DB_IDLE_TIMEOUT", ""), 5*time.Minute)

	db, err := eventstore.Open(rootCtx, dsn, maxOpenConns, idleTimeout)
	if err != nil {
		log.Fatalf("connect to postgres: %v", err)
	}
	defer db.Close()

	if *runMigrations {
		if err := eventstore.Migrate(rootCtx, db.DB); err != nil {
			log.Fatalf("apply migrations: %v", err)
		}
	}

	store := eventstore.NewStore(db)
	unidentifiedStore := eventstore.NewUnidentifiedStore(db)
	logPeriodStore := eventstore.NewLogPeriodStore(db)
	dlqStore := dlq.NewStore()
	idempotencyStore := idempotency.NewStore(idempotencyTTL())

	retryCfg := retry.DefaultConfig()
	engine := retry.NewEngine(retryCfg, infraerrors.IsTransient)

	controller := ingestion.NewController(store, idempotencyStore, dlqStore, engine, logger)
	syncHandler := syncprotocol.NewHandler(controller, store)

	server := httpapi.NewServer(httpapi.Config{
		Controller:     controller,
		SyncHandler:    syncHandler,
		Store:          store,
		DLQStore:       dlqStore,
		LogPeriodStore: logPeriodStore,
		Logger:         logger,
		Metrics:        m,
	})

	listenAddr := determineAddr(*addr)
	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sched := scheduler.New(scheduler.Config{
		DLQStore:          dlqStore,
		UnidentifiedStore: unidentifiedStore,
		Logger:            logger,
		Metrics:           m,
	})
	if err := sched.Start(rootCtx); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}

	shutdown := middleware.NewGracefulShutdown(httpServer, 20*time.Second)
	shutdown.OnShutdown(func() { sched.Stop(context.Background()) })
	shutdown.ListenForSignals()

	go func() {
		logger.Info(rootCtx, "eld-ingestion listening", map[string]interface{}{"addr": listenAddr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	shutdown.Wait()
	logger.Info(rootCtx, "eld-ingestion stopped", nil)
}

func determineAddr(flagAddr string) string {
	if flagAddr != "" {
		return flagAddr
	}
	if port := config.GetEnv("PORT", ""); port != "" {
		return ":" + port
	}
	return config.GetEnv("ADDR", ":8080")
}

func idempotencyTTL() time.Duration {
	return config.ParseDurationOrDefault(config.GetEnv("IDEMPOTENCY_TTL", ""), 24*time.Hour)
}
