package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/stream-planner/internal/api/handlers"
	"github.com/stitts-dev/stream-planner/internal/api/middleware"
	"github.com/stitts-dev/stream-planner/internal/bandit"
	"github.com/stitts-dev/stream-planner/internal/engine"
	"github.com/stitts-dev/stream-planner/internal/horizon"
	"github.com/stitts-dev/stream-planner/internal/snapshot"
	"github.com/stitts-dev/stream-planner/internal/worker"
	"github.com/stitts-dev/stream-planner/pkg/cache"
	"github.com/stitts-dev/stream-planner/pkg/config"
	"github.com/stitts-dev/stream-planner/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	structuredLogger := logger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())
	log := logger.WithService("stream-planner")
	log.WithFields(logrus.Fields{
		"version":     "1.0.0",
		"environment": cfg.Env,
		"port":        cfg.Port,
	}).Info("Starting Stream Planner")

	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engineCfg := config.DefaultEngineConfig()
	if cfg.EngineConfigPath != "" {
		engineCfg, err = config.LoadEngineConfig(cfg.EngineConfigPath)
		if err != nil {
			log.Fatalf("Failed to load engine config: %v", err)
		}
	}

	// Redis is optional; without it plans are not cached and the estimator
	// starts cold on every restart
	var (
		planCache    handlers.PlanCache
		cacheStatus  handlers.CacheStatus
		cacheService *cache.PlanCacheService
	)
	ctx := context.Background()
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient := redis.NewClient(opt)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("Redis unavailable, running without plan cache")
		} else {
			cacheService = cache.NewPlanCacheService(redisClient, structuredLogger)
			planCache = cacheService
		}
		cacheStatus = cache.NewPlanCacheService(redisClient, structuredLogger)
	}

	estimator := bandit.NewEstimator(engineCfg.Bandit, structuredLogger)
	if cacheService != nil {
		if params, err := cacheService.LoadBanditParams(ctx); err == nil {
			restored, err := bandit.NewEstimatorFromParams(engineCfg.Bandit, *params, structuredLogger)
			if err != nil {
				log.WithError(err).Warn("Discarding incompatible bandit params")
			} else {
				estimator = restored
			}
		}
	}

	weekStart, _ := config.ParseWeekday(cfg.WeekStartDay)
	manager, err := horizon.NewManager(
		engine.NewPipeline(engineCfg, estimator, structuredLogger),
		estimator,
		horizon.WeekConfig{
			WeekID:   worker.WeekID(time.Now(), weekStart),
			Budget:   cfg.WeeklyBudget,
			Capacity: cfg.Capacity,
		},
		structuredLogger,
	)
	if err != nil {
		log.Fatalf("Failed to start planning week: %v", err)
	}

	breakers := snapshot.NewBreakerSet(cfg.CircuitBreakerThreshold, 60*time.Second, structuredLogger)
	var snapshots handlers.SnapshotBuilder
	var assembler *snapshot.Assembler
	if cfg.SnapshotDir != "" {
		assembler = snapshot.NewAssembler(snapshot.NewFileSource(cfg.SnapshotDir).Sources(), breakers, cfg.ExternalAPITimeout, structuredLogger)
		snapshots = assembler
	}

	var jobs handlers.JobLister
	if cfg.EnableDailyAdvance {
		if assembler == nil {
			log.Fatal("ENABLE_DAILY_ADVANCE requires SNAPSHOT_DIR")
		}
		advancer := worker.NewDailyAdvancer(worker.AdvancerConfig{
			Schedule:  cfg.DailyAdvanceCron,
			WeekStart: weekStart,
			Budget:    cfg.WeeklyBudget,
			Capacity:  cfg.Capacity,
			Timeout:   2 * cfg.ExternalAPITimeout,
		}, manager, assembler, structuredLogger)
		if cacheService != nil {
			advancer.WithPlanCache(cacheService)
		}
		if err := advancer.Start(); err != nil {
			log.Fatalf("Failed to start daily advancer: %v", err)
		}
		defer advancer.Stop()
		go advancer.RunOnce()
		jobs = advancer
	}

	router := gin.New()
	router.Use(middleware.RequestLogger(), gin.Recovery())

	planningHandler := handlers.NewPlanningHandler(manager, planCache, snapshots, cfg.PlanCacheTTL, structuredLogger)
	healthHandler := handlers.NewHealthHandler(cacheStatus, breakers, jobs, structuredLogger)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/plan/solve", planningHandler.SolvePlan)
		apiV1.POST("/plan/advance", planningHandler.AdvancePlan)
		apiV1.POST("/plan/outcomes", planningHandler.RecordOutcomes)

		apiV1.GET("/week", planningHandler.GetWeek)
		apiV1.POST("/week/start", planningHandler.StartWeek)
	}

	router.GET("/health", healthHandler.GetHealth)
	router.GET("/ready", healthHandler.GetReady)
	router.GET("/metrics", healthHandler.GetMetrics)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Stream Planner started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Stream Planner...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Stream Planner forced to shutdown: %v", err)
	}

	if cacheService != nil {
		if err := cacheService.SaveBanditParams(shutdownCtx, manager.State().Bandit); err != nil {
			log.WithError(err).Warn("Failed to persist bandit params")
		}
	}

	log.Info("Stream Planner exited")
}
