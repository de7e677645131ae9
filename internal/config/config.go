package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 服务全部配置，统一从环境变量（可选 .env）读取
type Config struct {
	Env        string
	ListenAddr string
	LogLevel   string
	CORSOrigin string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StoreNS       string
	StoreRetries  int

	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SessionTTL    time.Duration

	SMTP SMTPConfig

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	UploadDir   string
	UploadURL   string
	MaxUploadMB int

	KafkaBrokers []string
	KafkaTopic   string

	BannedTerms    []string
	FilterMask     string
	FilterComments bool
	AdminEmails    []string

	RateLimitRPS   float64
	RateLimitBurst int

	ReconcileInterval time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "prod")
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGIN", "http://localhost:5173")
	v.SetDefault("DATABASE_URL", "sqlite://chalkboard.db")
	v.SetDefault("REDIS_ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("STORE_NAMESPACE", "cb")
	v.SetDefault("STORE_MAX_RETRIES", 100)
	v.SetDefault("JWT_ACCESS_SECRET", "secret-key")
	v.SetDefault("JWT_REFRESH_SECRET", "refresh-key")
	v.SetDefault("JWT_ACCESS_TTL", 30*time.Minute)
	v.SetDefault("JWT_REFRESH_TTL", 24*time.Hour)
	v.SetDefault("SESSION_TTL", 30*time.Minute)
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "ChalkBoard <no-reply@chalkboard.local>")
	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GOOGLE_REDIRECT_URL", "http://localhost:8080/api/auth/google/callback")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("UPLOAD_DIR", "./data/blobs")
	v.SetDefault("UPLOAD_URL", "http://localhost:8080/files")
	v.SetDefault("MAX_UPLOAD_MB", 8)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "chalkboard-events")
	v.SetDefault("BANNED_TERMS", "slur1,slur2,curse")
	v.SetDefault("FILTER_MASK", "***")
	v.SetDefault("FILTER_COMMENTS", false)
	v.SetDefault("ADMIN_EMAILS", "")
	v.SetDefault("RATE_LIMIT_RPS", 5.0)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("RECONCILE_INTERVAL", 5*time.Minute)
}

// Load 读取 .env（不存在则忽略）后再从环境变量解析
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// .env 只是开发期便利，缺失不算错误
		_ = godotenv.Load(f)
	}

	v := viper.New()
	setDefaults(v)
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	cfg := &Config{
		Env:        v.GetString("APP_ENV"),
		ListenAddr: v.GetString("LISTEN_ADDR"),
		LogLevel:   v.GetString("LOG_LEVEL"),
		CORSOrigin: v.GetString("CORS_ORIGIN"),

		DatabaseURL: v.GetString("DATABASE_URL"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		StoreNS:       v.GetString("STORE_NAMESPACE"),
		StoreRetries:  v.GetInt("STORE_MAX_RETRIES"),

		AccessSecret:  v.GetString("JWT_ACCESS_SECRET"),
		RefreshSecret: v.GetString("JWT_REFRESH_SECRET"),
		AccessTTL:     v.GetDuration("JWT_ACCESS_TTL"),
		RefreshTTL:    v.GetDuration("JWT_REFRESH_TTL"),
		SessionTTL:    v.GetDuration("SESSION_TTL"),

		SMTP: SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("SMTP_FROM"),
		},

		GoogleClientID:     v.GetString("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  v.GetString("GOOGLE_REDIRECT_URL"),

		S3Bucket:    v.GetString("S3_BUCKET"),
		S3Region:    v.GetString("S3_REGION"),
		S3Endpoint:  v.GetString("S3_ENDPOINT"),
		UploadDir:   v.GetString("UPLOAD_DIR"),
		UploadURL:   strings.TrimRight(v.GetString("UPLOAD_URL"), "/"),
		MaxUploadMB: v.GetInt("MAX_UPLOAD_MB"),

		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("KAFKA_TOPIC"),

		BannedTerms:    splitList(v.GetString("BANNED_TERMS")),
		FilterMask:     v.GetString("FILTER_MASK"),
		FilterComments: v.GetBool("FILTER_COMMENTS"),
		AdminEmails:    splitList(strings.ToLower(v.GetString("ADMIN_EMAILS"))),

		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),

		ReconcileInterval: v.GetDuration("RECONCILE_INTERVAL"),
	}
	if cfg.StoreRetries <= 0 {
		cfg.StoreRetries = 100
	}
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("jwt secrets must not be empty")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return cfg, nil
}

// IsDev 开发模式下日志使用 development 配置
func (c *Config) IsDev() bool {
	return c.Env == "dev" || c.Env == "development"
}

// GoogleEnabled 未配置 client id 时关闭第三方登录
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
