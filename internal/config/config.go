package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DatabaseConfig 数据库配置（事件存储）
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置（报警通知）
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
	TopicPrefix string
}

// AdvisoryConfig 外部建议服务（LLM）配置
type AdvisoryConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
	TailSize    int // 发送给建议服务的尾部窗口记录数
}

// TelemetryConfig 可观测性配置（fail-open）
type TelemetryConfig struct {
	HECURL       string
	HECToken     string
	Index        string
	Sourcetype   string
	VerifyTLS    bool
	Timeout      time.Duration
	EventLogPath string  // 本地 JSONL 归档，空字符串表示关闭
	CostPerToken float64 // 用于估算 estimated_cost_usd
	Stream       string  // Redis Streams 名称，空字符串表示关闭
	DBEnabled    bool
	App          string
}

// Config 分诊服务配置
type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	MQTT      MQTTConfig
	Advisory  AdvisoryConfig
	Telemetry TelemetryConfig

	Triage struct {
		AutoAdvise   bool   // 检测到异常时自动生成建议
		CacheBackend string // "memory" 或 "redis"
		CachePrefix  string // Redis 缓存键前缀，如 "triage:advice:"
		MaxUploadMB  int
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
// 优先读取当前目录的 .env（不存在时忽略），再从环境变量加载
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "triage")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 5)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 2)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-triage")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "triage")

	cfg.Advisory.APIKey = getEnv("OPENAI_API_KEY", "")
	cfg.Advisory.BaseURL = getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.Advisory.Model = getEnv("OPENAI_MODEL", "gpt-4o-mini")
	cfg.Advisory.Timeout = time.Duration(getEnvInt("ADVISORY_TIMEOUT_SEC", 60)) * time.Second
	cfg.Advisory.Temperature = getEnvFloat("ADVISORY_TEMPERATURE", 0.2)
	cfg.Advisory.TailSize = getEnvInt("ADVISORY_TAIL", 60)

	cfg.Telemetry.HECURL = getEnv("SPLUNK_HEC_URL", "")
	cfg.Telemetry.HECToken = getEnv("SPLUNK_HEC_TOKEN", "")
	cfg.Telemetry.Index = getEnv("SPLUNK_INDEX", "")
	cfg.Telemetry.Sourcetype = getEnv("SPLUNK_SOURCETYPE", "ai-patient-monitor")
	cfg.Telemetry.VerifyTLS = getEnvBool("PM_SPLUNK_VERIFY_TLS", false)
	cfg.Telemetry.Timeout = 2 * time.Second
	cfg.Telemetry.EventLogPath = getEnv("PM_EVENT_LOG", "logs/events.jsonl")
	cfg.Telemetry.CostPerToken = getEnvFloat("COST_PER_TOKEN", 0.0000005)
	cfg.Telemetry.Stream = getEnv("TELEMETRY_STREAM", "")
	cfg.Telemetry.DBEnabled = getEnvBool("TELEMETRY_DB_ENABLED", false)
	cfg.Telemetry.App = "ai_patient_monitor"

	cfg.Triage.AutoAdvise = getEnvBool("AUTO_ADVISE", true)
	cfg.Triage.CacheBackend = getEnv("CACHE_BACKEND", "memory")
	cfg.Triage.CachePrefix = getEnv("CACHE_PREFIX", "triage:advice:")
	cfg.Triage.MaxUploadMB = getEnvInt("MAX_UPLOAD_MB", 10)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if cfg.Triage.CacheBackend != "memory" && cfg.Triage.CacheBackend != "redis" {
		return nil, fmt.Errorf("invalid CACHE_BACKEND %q: must be memory or redis", cfg.Triage.CacheBackend)
	}
	if cfg.Advisory.TailSize <= 0 {
		return nil, fmt.Errorf("invalid ADVISORY_TAIL %d: must be positive", cfg.Advisory.TailSize)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// getEnvBool 接受 1/true/yes（不区分大小写）为真
func getEnvBool(key string, defaultValue bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
