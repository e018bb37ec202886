package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/libproxy/internal/analytics"
	"github.com/sdko-org/libproxy/internal/archive"
	"github.com/sdko-org/libproxy/internal/audit"
	"github.com/sdko-org/libproxy/internal/auth"
	"github.com/sdko-org/libproxy/internal/config"
	"github.com/sdko-org/libproxy/internal/database"
	"github.com/sdko-org/libproxy/internal/handlers"
	httpserver "github.com/sdko-org/libproxy/internal/http"
	"github.com/sdko-org/libproxy/internal/policy"
	"github.com/sdko-org/libproxy/internal/proxy"
	"github.com/sdko-org/libproxy/internal/store"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	if cfg.LogJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	db, err := database.NewPostgresDB(logger, database.PostgresConfig{
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		DBName:   cfg.PostgresDatabase,
		SSLMode:  cfg.PostgresSSLMode,
	})
	if err != nil {
		logger.WithError(err).Fatal("Database initialization failed")
	}

	st := store.NewGormStore(db)
	recorder := audit.NewRecorder(logger, st.AccessLogs())
	evaluator := policy.NewEvaluator(logger, st.Journals())
	haproxy := proxy.NewHAProxy(logger, cfg.HAProxySocket, cfg.HAProxyConfigPath, cfg.ProxyConfigDir)
	manager := proxy.NewManager(logger, st.ProxyConfigs(), st.Journals(), evaluator, recorder, haproxy, cfg.SessionTTL)
	tokens := auth.NewTokenGenerator(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	authSvc := auth.NewService(logger, st.Users(), tokens, recorder)
	analyticsSvc := analytics.NewService(logger, st.AccessLogs())

	var archiver archive.Archiver
	if cfg.ArchiveEnabled() {
		archiver = archive.NewS3Archive(logger, cfg)
	}

	handler := handlers.New(logger, cfg, st, authSvc, manager, analyticsSvc, recorder, archiver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := proxy.NewSweeper(logger, manager, cfg.SweepInterval)
	go sweeper.Start(ctx)

	router := mux.NewRouter()
	router.Use(handlers.LoggingMiddleware(logger))
	router.Use(handlers.NewRateLimiter(cfg).Middleware)
	router.PathPrefix("/").Handler(handler.Routes())

	server := httpserver.New(logger, cfg, router)

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
		<-sigint

		logger.Info("Shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server shutdown error")
		}
		recorder.Flush()
	}()

	if err := server.Start(); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}
