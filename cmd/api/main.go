package main

// @title LedgerMail Durable Store API
// @version 0.1.0
// @description 定位映射与邮件状态的持久化存储服务
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description 使用格式：Bearer {token}，令牌所有者须与请求的 owner 一致

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "ledgermail/backend/internal/auth/jwt"
	"ledgermail/backend/internal/config"
	"ledgermail/backend/internal/health"
	"ledgermail/backend/internal/logger"
	"ledgermail/backend/internal/monitoring"
	"ledgermail/backend/internal/storage"
	"ledgermail/backend/internal/storage/memory"
	"ledgermail/backend/internal/storage/sqlstore"
	httptransport "ledgermail/backend/internal/transport/http"
)

// main 启动定位映射与邮件状态的持久化存储服务
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()
	log.Info("starting ledgermail store service",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	var redisClient *redis.Client
	if cfg.Locator.UseRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, redisClient, log)

	alertManager := monitoring.NewAlertManager(log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	alertManager.AddRule(monitoring.HighMemoryUsageRule(512.0))
	alertManager.AddRule(monitoring.ComponentDownRule("store", store.Health))
	if redisClient != nil {
		alertManager.AddRule(monitoring.ComponentDownRule("redis", health.RedisHealthCheck(redisClient)))
	}

	var jwtManager *jwtpkg.Manager
	if cfg.JWT.Secret != "" {
		jwtManager = jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer)
	} else {
		log.Warn("JWT secret not configured, write endpoints are unauthenticated")
	}

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:     cfg,
		Store:      store,
		JWTManager: jwtManager,
		Health:     healthChecker,
		Metrics:    metrics,
		Logger:     log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("store service listening", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		alertManager.StartMonitoring(groupCtx, time.Minute)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

// openStore 配置了数据库时使用 SQL 存储，否则使用内存存储（开发环境）
func openStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	}

	store, err := sqlstore.NewStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	log.Info("using database storage", zap.String("type", cfg.Database.Type))
	return store, nil
}
