package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ledgermail/backend/internal/auth/jwt"
)

// ContextOwner 上下文中保存令牌所有者的键
const ContextOwner = "owner"

// JWTAuth JWT认证中间件
type JWTAuth struct {
	jwtManager *jwt.Manager
	log        *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件，jwtManager 为 nil 时不做校验
func NewJWTAuth(jwtManager *jwt.Manager, log *zap.Logger) *JWTAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &JWTAuth{
		jwtManager: jwtManager,
		log:        log,
	}
}

// Enabled 是否启用了令牌校验
func (ja *JWTAuth) Enabled() bool {
	return ja != nil && ja.jwtManager != nil
}

// RequireAuth 要求JWT认证，通过后把所有者写入上下文
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ja.Enabled() {
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		claims, err := ja.jwtManager.ValidateToken(token)
		if err != nil {
			ja.log.Warn("invalid token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(ContextOwner, claims.Owner)
		c.Next()
	}
}

// OwnerFromContext 返回认证后的所有者，未启用认证时返回空串
func OwnerFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextOwner)
	if !ok {
		return "", false
	}
	owner, ok := v.(string)
	return owner, ok
}

// extractToken 从 Authorization 头提取 Bearer 令牌
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
