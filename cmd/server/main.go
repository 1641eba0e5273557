// Command server runs the pharmacy backend HTTP API.
//
// @title       Pharmacy Backend API
// @version     1.0
// @description Wallet commission settings with optimistic concurrency and idempotent prescription rerouting.
// @BasePath    /api/v1
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-pharmacy-backend/docs"
	"github.com/tbourn/go-pharmacy-backend/internal/config"
	"github.com/tbourn/go-pharmacy-backend/internal/geo"
	httpapi "github.com/tbourn/go-pharmacy-backend/internal/http"
	"github.com/tbourn/go-pharmacy-backend/internal/lock"
	"github.com/tbourn/go-pharmacy-backend/internal/observability"
	"github.com/tbourn/go-pharmacy-backend/internal/repo"
	"github.com/tbourn/go-pharmacy-backend/internal/store"
	"github.com/tbourn/go-pharmacy-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = ""

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	log.Logger = sysutil.NewLogger(os.Stderr, cfg.LogPretty, "")
	zerolog.DefaultContextLogger = &log.Logger

	appVersion := sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Fatal().Err(err).Msg("gorm tracing")
		}
	}
	if !sysutil.IsTruthy(os.Getenv("SKIP_MIGRATIONS")) {
		if err := repo.AutoMigrate(db); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
	}

	infra := httpapi.Infra{
		DB:    db,
		Store: settingsStore(cfg, db),
		Index: geo.New(geo.WithCellDegrees(cfg.Reroute.GeoCellDegrees)),
	}
	rdb, locks := rerouteLocks(ctx, cfg)
	infra.Locks = locks

	skipped, err := httpapi.WarmIndex(ctx, db, infra.Index)
	if err != nil {
		log.Fatal().Err(err).Msg("load pharmacy index")
	}
	log.Info().Int("pharmacies", infra.Index.Len()).Uints64("skipped", skipped).Msg("pharmacy index loaded")

	gin.SetMode(cfg.GinMode)
	docs.SwaggerInfo.BasePath = cfg.APIBasePath
	docs.SwaggerInfo.Version = appVersion

	r := gin.New()
	httpapi.RegisterRoutes(r, infra, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", appVersion).Str("store", cfg.StoreBackend).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close")
		}
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// settingsStore picks the versioned record store for wallet settings.
// The memory backend loses settings on restart and is meant for local runs.
func settingsStore(cfg config.Config, db *gorm.DB) store.Store {
	if cfg.StoreBackend == "memory" {
		log.Warn().Msg("wallet settings use the in-memory store; changes are lost on restart")
		return store.NewMemory()
	}
	return store.NewGorm(db)
}

// rerouteLocks returns a Redis-backed Locker when REDIS_ADDRESS is set so
// every replica shares the per-prescription lock, and a process-local one
// otherwise.
func rerouteLocks(ctx context.Context, cfg config.Config) (*redis.Client, lock.Locker) {
	if cfg.RedisAddress == "" {
		return nil, lock.NewKeyed()
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddress).Msg("redis ping")
	}
	log.Info().Str("addr", cfg.RedisAddress).Dur("ttl", cfg.Reroute.LockTTL).Msg("using redis reroute lock")
	return rdb, lock.NewRedis(rdb, "lock:reroute", cfg.Reroute.LockTTL)
}
