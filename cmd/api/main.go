// Package main is the entry point for the Pulse ingest server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/bargn-app/pulse/internal/api"
	"github.com/bargn-app/pulse/internal/config"
	"github.com/bargn-app/pulse/internal/health"
	"github.com/bargn-app/pulse/internal/middleware"
	"github.com/bargn-app/pulse/internal/session"
	"github.com/bargn-app/pulse/internal/store"
	"github.com/bargn-app/pulse/internal/tracker"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Pulse Ingest Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summary := cfg.LogSummary()
	args := make([]any, 0, len(summary)*2)
	for k, v := range summary {
		args = append(args, k, v)
	}
	logger.Info("configuration loaded", args...)

	// Storage
	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	// Session identity
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	sessions := session.NewRedis(redisClient, cfg.SessionTTL)

	// Metrics
	registry := prometheus.NewRegistry()
	trackerMetrics := tracker.NewMetrics()
	if err := trackerMetrics.Register(registry); err != nil {
		logger.Error("failed to register tracker metrics", "error", err)
		os.Exit(1)
	}
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}

	// Session hub and funnel cache
	hub := tracker.NewHub(tracker.HubConfig{
		Store:        pg,
		Logger:       logger,
		Metrics:      trackerMetrics,
		BatchDelay:   cfg.BatchDelay,
		DedupeWindow: cfg.DedupeWindow,
		IdleTTL:      cfg.TrackerIdleTTL,
	})

	// Funnel definitions load in the background so a slow database does not
	// delay startup. Events tracked before the load completes skip funnel
	// matching.
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	go func() {
		defer cancelLoad()
		hub.LoadFunnels(loadCtx)
	}()

	if err := hub.Start(context.Background()); err != nil {
		logger.Error("failed to start tracker hub", "error", err)
		os.Exit(1)
	}

	// Handlers
	trackHandlers := api.NewTrackHandlers(hub, sessions, logger)
	funnelHandlers := api.NewFunnelHandlers(hub.Funnels())
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:    health.NewDBChecker(pg.DB()),
		RedisChecker: health.NewRedisChecker(redisClient),
	})

	// Rate limiting shares Redis with session identity so limits hold
	// across ingest instances
	rateLimitStore := middleware.NewRedisRateLimitStore(redisClient).WithMetrics(httpMetrics)
	trackLimiter := middleware.RateLimiter(
		rateLimitStore,
		middleware.DefaultTrackLimit(),
		middleware.SessionKeyFunc(api.SessionCookieName, api.SessionKeyHeader),
		httpMetrics,
	)

	mux := http.NewServeMux()
	mux.Handle("/api/track", trackLimiter(http.HandlerFunc(trackHandlers.PostTrack)))
	mux.HandleFunc("/api/funnels", funnelHandlers.GetFunnels)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Only handle exact root path, everything else returns 404
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"pulse-api","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Apply middleware: RequestID -> Logging -> HTTPMetrics
	handler := middleware.RequestID(middleware.Logging(logger)(middleware.HTTPMetrics(httpMetrics)(mux)))

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Flush every pending tracker before the process exits
	hub.Close()

	logger.Info("server stopped")
}
