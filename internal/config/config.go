package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义持久化存储服务（cmd/api）的监听配置
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
}

// LedgerConfig 定义链上网关配置
type LedgerConfig struct {
	Endpoints       []string      // 等价的 JSON-RPC 节点列表，按顺序回退
	ContractAddress string        // 邮件合约地址
	ChainID         int64         // 链 ID，用于交易签名
	PrivateKey      string        // 发送交易使用的私钥（十六进制），只读会话可留空
	ReadRetries     int           // 读调用在每个节点上的最大重试次数
	RetryDelay      time.Duration // 重试基础间隔（指数退避）
	RateLimit       float64       // 每秒最多发起的读调用数
	CallTimeout     time.Duration // 单次 RPC 调用超时
	ScanWindow      uint64        // 事件扫描回退时向前扫描的区块数
	ScanChunk       uint64        // 单次日志查询的区块跨度
}

// ContentConfig 定义内容存储网关配置
type ContentConfig struct {
	GatewayBase string        // 读取地址前缀，按 {gatewayBase}/{address} 拼接
	UploadURL   string        // 上传地址
	Timeout     time.Duration // 单次请求超时
	MaxRetries  int           // 读请求的最大重试次数
}

// LocatorConfig 定义定位映射配置
type LocatorConfig struct {
	DurableURL string        // 持久化存储地址
	CacheTTL   time.Duration // 本地缓存过期时间
	CacheSize  int           // 本地缓存容量
	UseRedis   bool          // 是否启用 Redis 共享缓存层
}

// StatusConfig 定义状态存储配置
type StatusConfig struct {
	RemoteURL   string        // 远程状态存储地址，留空则只使用本地缓存
	SyncWorkers int           // 同步协程数
	SyncQueue   int           // 同步队列长度
	SyncRetries int           // 单条同步的最大重试次数
	Retention   time.Duration // 已删除邮件的保留期
}

// ClaimConfig 定义领取码配置
type ClaimConfig struct {
	BaseURL string // 领取页面地址
}

// BridgeConfig 定义传统邮件桥接配置
type BridgeConfig struct {
	Mode          string // webhook、smtp 或 none
	WebhookURL    string // webhook 模式的投递地址
	WebhookSecret string // webhook 签名密钥
	SMTPAddr      string // smtp 模式的中继地址，格式 "host:port"
	SMTPFrom      string // smtp 信封发件人
}

// MailConfig 定义邮件业务配置
type MailConfig struct {
	NativeDomain       string        // 原生命名空间的域名
	PollInterval       time.Duration // 邮箱静默刷新间隔
	HydrateConcurrency int           // 邮件内容并发加载数
	RefreshTimeout     time.Duration // 单次邮箱刷新超时
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// JWTConfig 定义持久化存储服务的访问令牌校验配置
type JWTConfig struct {
	Secret string // 签名密钥，留空表示不校验（仅限开发环境），否则至少 32 字符
	Issuer string // 签发者标识
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig
	CORS     CORSConfig
	Log      LogConfig
	Ledger   LedgerConfig
	Content  ContentConfig
	Locator  LocatorConfig
	Status   StatusConfig
	Claim    ClaimConfig
	Bridge   BridgeConfig
	Mail     MailConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: LEDGERMAIL_，例如 LEDGERMAIL_LEDGER_ENDPOINTS
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("ledgermail")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("ledger.endpoints", "http://localhost:8545")
	viper.SetDefault("ledger.contract_address", "")
	viper.SetDefault("ledger.chain_id", 1)
	viper.SetDefault("ledger.private_key", "")
	viper.SetDefault("ledger.read_retries", 2)
	viper.SetDefault("ledger.retry_delay", "250ms")
	viper.SetDefault("ledger.rate_limit", 20.0)
	viper.SetDefault("ledger.call_timeout", "15s")
	viper.SetDefault("ledger.scan_window", 50000)
	viper.SetDefault("ledger.scan_chunk", 5000)
	viper.SetDefault("content.gateway_base", "http://localhost:8081/ipfs")
	viper.SetDefault("content.upload_url", "http://localhost:5001/api/v0/add")
	viper.SetDefault("content.timeout", "20s")
	viper.SetDefault("content.max_retries", 2)
	viper.SetDefault("locator.durable_url", "http://localhost:8080/api/locators")
	viper.SetDefault("locator.cache_ttl", "24h")
	viper.SetDefault("locator.cache_size", 10000)
	viper.SetDefault("locator.use_redis", false)
	viper.SetDefault("status.remote_url", "")
	viper.SetDefault("status.sync_workers", 2)
	viper.SetDefault("status.sync_queue", 256)
	viper.SetDefault("status.sync_retries", 3)
	viper.SetDefault("status.retention", "720h")
	viper.SetDefault("claim.base_url", "http://localhost:3000/claim")
	viper.SetDefault("bridge.mode", "none")
	viper.SetDefault("bridge.webhook_url", "")
	viper.SetDefault("bridge.webhook_secret", "")
	viper.SetDefault("bridge.smtp_addr", "")
	viper.SetDefault("bridge.smtp_from", "")
	viper.SetDefault("mail.native_domain", "ledger.mail")
	viper.SetDefault("mail.poll_interval", "10s")
	viper.SetDefault("mail.hydrate_concurrency", 8)
	viper.SetDefault("mail.refresh_timeout", "30s")
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("jwt.issuer", "ledgermail")

	endpoints := parseList(viper.GetString("ledger.endpoints"))
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("ledger.endpoints must not be empty")
	}

	retention, err := time.ParseDuration(viper.GetString("status.retention"))
	if err != nil {
		return nil, fmt.Errorf("invalid status.retention: %w", err)
	}

	pollInterval, err := time.ParseDuration(viper.GetString("mail.poll_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid mail.poll_interval: %w", err)
	}
	if pollInterval <= 0 {
		return nil, fmt.Errorf("mail.poll_interval must be positive")
	}

	bridgeMode := strings.ToLower(strings.TrimSpace(viper.GetString("bridge.mode")))
	switch bridgeMode {
	case "none", "":
		bridgeMode = "none"
	case "webhook":
		if viper.GetString("bridge.webhook_url") == "" {
			return nil, fmt.Errorf("bridge.webhook_url is required in webhook mode")
		}
	case "smtp":
		if viper.GetString("bridge.smtp_addr") == "" {
			return nil, fmt.Errorf("bridge.smtp_addr is required in smtp mode")
		}
	default:
		return nil, fmt.Errorf("unsupported bridge.mode: %s (supported: none, webhook, smtp)", bridgeMode)
	}

	jwtSecret := viper.GetString("jwt.secret")
	if jwtSecret != "" && len(jwtSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	hydrate := viper.GetInt("mail.hydrate_concurrency")
	if hydrate <= 0 {
		hydrate = 8
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
		Ledger: LedgerConfig{
			Endpoints:       endpoints,
			ContractAddress: viper.GetString("ledger.contract_address"),
			ChainID:         viper.GetInt64("ledger.chain_id"),
			PrivateKey:      viper.GetString("ledger.private_key"),
			ReadRetries:     viper.GetInt("ledger.read_retries"),
			RetryDelay:      parseDurationOr(viper.GetString("ledger.retry_delay"), 250*time.Millisecond),
			RateLimit:       viper.GetFloat64("ledger.rate_limit"),
			CallTimeout:     parseDurationOr(viper.GetString("ledger.call_timeout"), 15*time.Second),
			ScanWindow:      viper.GetUint64("ledger.scan_window"),
			ScanChunk:       viper.GetUint64("ledger.scan_chunk"),
		},
		Content: ContentConfig{
			GatewayBase: strings.TrimRight(viper.GetString("content.gateway_base"), "/"),
			UploadURL:   viper.GetString("content.upload_url"),
			Timeout:     parseDurationOr(viper.GetString("content.timeout"), 20*time.Second),
			MaxRetries:  viper.GetInt("content.max_retries"),
		},
		Locator: LocatorConfig{
			DurableURL: viper.GetString("locator.durable_url"),
			CacheTTL:   parseDurationOr(viper.GetString("locator.cache_ttl"), 24*time.Hour),
			CacheSize:  viper.GetInt("locator.cache_size"),
			UseRedis:   viper.GetBool("locator.use_redis"),
		},
		Status: StatusConfig{
			RemoteURL:   viper.GetString("status.remote_url"),
			SyncWorkers: viper.GetInt("status.sync_workers"),
			SyncQueue:   viper.GetInt("status.sync_queue"),
			SyncRetries: viper.GetInt("status.sync_retries"),
			Retention:   retention,
		},
		Claim: ClaimConfig{
			BaseURL: viper.GetString("claim.base_url"),
		},
		Bridge: BridgeConfig{
			Mode:          bridgeMode,
			WebhookURL:    viper.GetString("bridge.webhook_url"),
			WebhookSecret: viper.GetString("bridge.webhook_secret"),
			SMTPAddr:      viper.GetString("bridge.smtp_addr"),
			SMTPFrom:      viper.GetString("bridge.smtp_from"),
		},
		Mail: MailConfig{
			NativeDomain:       strings.ToLower(viper.GetString("mail.native_domain")),
			PollInterval:       pollInterval,
			HydrateConcurrency: hydrate,
			RefreshTimeout:     parseDurationOr(viper.GetString("mail.refresh_timeout"), 30*time.Second),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: parseDurationOr(viper.GetString("database.conn_max_lifetime"), 5*time.Minute),
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: jwtSecret,
			Issuer: viper.GetString("jwt.issuer"),
		},
	}

	return cfg, nil
}

// parseDurationOr 解析时长，失败时返回默认值
func parseDurationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env
//
// 文件不存在时静默跳过，已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
