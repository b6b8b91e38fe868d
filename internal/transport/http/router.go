package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "ledgermail/backend/internal/auth/jwt"
	"ledgermail/backend/internal/config"
	"ledgermail/backend/internal/health"
	"ledgermail/backend/internal/middleware"
	"ledgermail/backend/internal/monitoring"
	"ledgermail/backend/internal/storage"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config     *config.Config
	Store      storage.Store
	JWTManager *jwtpkg.Manager // 为 nil 时写接口不校验令牌
	Health     *health.HealthChecker
	Metrics    *monitoring.Metrics
	Logger     *zap.Logger
}

// NewRouter 创建持久化存储服务的 Gin 路由
//
// 路由：
//   - GET/POST /api/locators  定位映射
//   - GET/POST /api/status    邮件状态
//   - GET /health/live、/health/ready、/metrics
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, logger)
	router.Use(monitor.PanicRecovery())
	router.Use(monitor.RequestLogger())
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	var origins []string
	if deps.Config != nil {
		origins = deps.Config.CORS.AllowedOrigins
	}
	if len(origins) > 0 {
		corsConfig := gincors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}
		// 如果允许所有来源，则需清空凭证支持。
		for _, origin := range corsConfig.AllowOrigins {
			if origin == "*" {
				corsConfig.AllowCredentials = false
				break
			}
		}
		router.Use(gincors.New(corsConfig))
	}

	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, logger)
	locators := NewLocatorHandler(deps.Store, logger)
	statuses := NewStatusHandler(deps.Store, jwtAuth, logger)

	api := router.Group("/api")
	{
		api.GET("/locators", locators.Get)
		api.POST("/locators", jwtAuth.RequireAuth(), locators.Save)

		api.GET("/status", jwtAuth.RequireAuth(), statuses.List)
		api.POST("/status", jwtAuth.RequireAuth(), statuses.Save)
	}

	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
		router.GET("/health", func(c *gin.Context) {
			Success(c, deps.Health.CheckHealth())
		})
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "接口不存在")
	})

	return router
}
