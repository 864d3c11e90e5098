package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"pinboard/api/internal/app"
	"pinboard/api/internal/auth"
	"pinboard/api/internal/config"
	"pinboard/api/internal/follow"
	"pinboard/api/internal/jobs"
	"pinboard/api/internal/store"
	"pinboard/api/internal/visibility"
)

const (
	followKeyPrefix    = "pinboard:follow:"
	shareTokenCacheTTL = 10 * time.Minute
)

func main() {
	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("config load failed")
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.LogLevel).Warn("unknown log level, keeping info")
	}

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		logger.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		logger.WithError(err).Fatal("migrations failed")
	}
	if len(applied) > 0 {
		logger.WithField("versions", applied).Info("migrations applied")
	}

	dataStore := store.NewPostgresStore(db, cfg.LockTimeout)

	var (
		mirror    follow.Mirror
		directory visibility.Directory
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := store.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("redis connection failed")
		}
		defer client.Close()
		logger.Info("using redis for the follow mirror and share token cache")
		mirror = follow.NewRedisMirror(client, followKeyPrefix)
		directory = visibility.NewTokenCache(dataStore, client, shareTokenCacheTTL, logger)
	} else {
		logger.Info("redis not configured, keeping the follow mirror in process")
		mirror = follow.NewGraph()
	}

	service := app.New(cfg, dataStore, mirror, directory, logger)

	// An in-process mirror starts empty and must be filled from the relation.
	if _, isGraph := mirror.(*follow.Graph); cfg.RunStartupRepair || isGraph {
		if _, err := service.RepairFollowGraph(ctx); err != nil {
			logger.WithError(err).Warn("startup follow repair failed, the scheduler will retry")
		}
	}

	scheduler, err := jobs.NewScheduler(service, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("scheduler setup failed")
	}
	scheduler.Start()

	httpServer := app.NewHTTPServer(service, auth.NewVerifier([]byte(cfg.JWTSecret)), cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Addr).Info("pinboard API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("maintenance jobs still running at shutdown")
	}
}
