package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ledgermail/backend/internal/storage"
)

// checkTimeout 单项检查超时
const checkTimeout = 5 * time.Second

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	redis  *redis.Client
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器，redisClient 可为 nil
func NewHealthChecker(store storage.Store, redisClient *redis.Client, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		redis:  redisClient,
		logger: logger,
	}
	hc.addChecks()
	return hc
}

func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("store", hc.store.Health)

	if hc.redis != nil {
		hc.health.AddReadinessCheck("redis", RedisHealthCheck(hc.redis))
	}
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行全部检查并返回可读结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := hc.store.Health(); err != nil {
		hc.logger.Warn("Store health check failed", zap.Error(err))
		results["store"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["store"] = "OK"
	}

	if hc.redis != nil {
		if err := RedisHealthCheck(hc.redis)(); err != nil {
			results["redis"] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results["redis"] = "OK"
		}
	} else {
		results["redis"] = "NOT_AVAILABLE"
	}

	results["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return results
}

// RedisHealthCheck Redis 健康检查
func RedisHealthCheck(client *redis.Client) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return client.Ping(ctx).Err()
	}
}
