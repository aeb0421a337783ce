package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pmslens/api/internal/app"
	"pmslens/api/internal/attachments"
	"pmslens/api/internal/backend"
	"pmslens/api/internal/cache"
	"pmslens/api/internal/config"
	"pmslens/api/internal/ledger"
	"pmslens/api/internal/search"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.Log)

	client := backend.NewClient(backend.ClientConfig{
		BaseURL:   cfg.Backend.BaseURL,
		Timeout:   cfg.Backend.Timeout,
		RateLimit: cfg.Backend.RateLimit,
		RateBurst: cfg.Backend.RateBurst,
	})

	var store cache.Store = cache.NewMemoryStore()
	if strings.TrimSpace(cfg.Cache.RedisURL) != "" {
		logger.Info("using redis for the lens cache")
		redisStore, err := cache.NewRedisStore(cfg.Cache.RedisURL)
		if err != nil {
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		store = redisStore
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.Search.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.Search.MeiliURL, cfg.Search.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, client, cfg.Search.Limit)

	deps := app.Deps{
		Backend: client,
		Cache:   store,
		Search:  searchService,
		Ledger:  ledger.New(client, ledger.Options{QueueSize: cfg.Ledger.QueueSize, Timeout: cfg.Ledger.Timeout}),
	}
	if strings.TrimSpace(cfg.Storage.Endpoint) != "" {
		presigner, err := attachments.NewPresigner(attachments.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			TTL:       cfg.Storage.PresignTTL,
		})
		if err != nil {
			logger.Error("attachment storage setup failed", "error", err)
			os.Exit(1)
		}
		deps.Presigner = presigner
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.Server.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("lens gateway listening", "addr", cfg.Server.Addr, "lens_routes", cfg.Features.LensRoutes)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	if err := service.Close(shutdownCtx); err != nil {
		logger.Warn("ledger drain incomplete", "error", err)
	}
}
