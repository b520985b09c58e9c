// Package main provides the API server entry point for PrivAudit.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/privaudit/internal/adapter"
	"github.com/privaudit/internal/api"
	"github.com/privaudit/internal/circuitbreaker"
	"github.com/privaudit/internal/config"
	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/metrics"
	"github.com/privaudit/internal/proof"
	"github.com/privaudit/internal/ratelimit"
	"github.com/privaudit/internal/service"
	"github.com/privaudit/internal/storage"
)

func main() {
	fmt.Println("PrivAudit API Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(logging.Fields{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens := config.DefaultTokenList()
	if cfg.Chain.TokenListFile != "" {
		tokens, err = config.LoadTokenList(cfg.Chain.TokenListFile)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load token list")
		}
	}

	var serverOpts []api.Option
	reportCfg := service.ReportServiceConfig{
		Calculator: metrics.NewCalculator(cfg.Metrics.BurnRateFraction),
		AI:         cfg.AI,
		Breakers:   circuitbreaker.NewManager(),
	}

	// Redis backs the proof cache, the price cache and the report quota
	var priceCache adapter.PriceCache
	if cfg.Database.Redis.Enabled {
		redisCache, err := storage.NewRedisCache(ctx, &cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisCache.Close()

		cacheService := storage.NewCacheService(redisCache, cfg.Cache.PriceTTL, cfg.Cache.ProofTTL)
		priceCache = cacheService
		reportCfg.Cache = cacheService
		serverOpts = append(serverOpts, api.WithDependency("redis", cacheService))

		if cfg.Server.ReportQuota > 0 {
			quota, err := ratelimit.NewQuotaTracker(&ratelimit.QuotaConfig{
				Redis:  redisCache.Client(),
				Budget: cfg.Server.ReportQuota,
				Window: cfg.Server.QuotaWindow,
			})
			if err != nil {
				logger.WithError(err).Fatal("Failed to create report quota")
			}
			serverOpts = append(serverOpts, api.WithQuota(quota))
			logger.WithFields(logging.Fields{
				"budget": quota.Budget(),
				"window": cfg.Server.QuotaWindow.String(),
			}).Info("Report quota enabled")
		}
		logger.Info("Redis connection established")
	} else if cfg.Server.ReportQuota > 0 {
		logger.Warn("REPORT_QUOTA is set but Redis is disabled, quota is off")
	}

	if cfg.Database.Postgres.Enabled {
		postgres, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Postgres")
		}
		defer postgres.Close()

		reportCfg.Archive = storage.NewReportRepository(postgres.Pool())
		serverOpts = append(serverOpts, api.WithDependency("postgres", postgres))
		logger.Info("Report archive enabled")
	}

	if cfg.Publish.Enabled() {
		reportCfg.Publisher = storage.NewPublisher(cfg.Publish)
		logger.WithFields(logging.Fields{
			"ipfs":    cfg.Publish.IPFSGateway != "",
			"arweave": cfg.Publish.ArweaveGateway != "",
		}).Info("Report publishing enabled")
	}

	fetchers, err := service.NewChainFetchers(cfg, tokens, priceCache)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize chain fetchers")
	}
	defer fetchers.Close()
	reportCfg.Fetchers = fetchers

	defaultScheme, err := proof.ParseScheme(cfg.Proof.Scheme)
	if err != nil {
		logger.WithError(err).Fatal("Invalid proof scheme")
	}
	reportCfg.Proofs = proof.NewRegistry(defaultScheme,
		proof.NewCommitmentProver(),
		proof.NewGroth16Prover(cfg.Proof.KeyDir),
	)
	logger.WithField("scheme", defaultScheme).Info("Proof registry initialized")

	reports := service.NewReportService(reportCfg)

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
	}

	server := api.NewServer(serverConfig, reports, serverOpts...)

	// Start server in a goroutine
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(logging.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}

	logger.Info("Server exited")
}
