package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultSessionSecret 仅供本地开发使用，生产环境必须通过 SESSION_SECRET 覆盖。
const DefaultSessionSecret = "moodjournal-dev-secret"

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr        string
	Port              string
	DatabaseDriver    string
	DatabasePath      string
	DatabaseDSN       string
	StoreDriver       string
	SessionSecret     string
	JWTSecret         string
	JWTTTL            time.Duration
	GinMode           string
	LogMode           string
	SuperRootUserName string
	SuperRootPassword string
	AIProvider        string
	OpenAIAPIKey      string
	DeepSeekAPIKey    string
	GeminiAPIKey      string
	AITimeout         time.Duration
	DigestLookback    int
	Timezone          string
	RedisAddr         string
	RateLimitInterval time.Duration
	CORSOrigins       []string
}

// Location 解析配置中的时区，无效时回退到 UTC。
func (c AppConfig) Location() *time.Location {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// UsesDefaultSecret 报告会话或 JWT 签名是否仍在使用开发默认密钥。
func (c AppConfig) UsesDefaultSecret() bool {
	return c.SessionSecret == DefaultSessionSecret || c.JWTSecret == DefaultSessionSecret
}

// Load 从环境变量（以及可选的配置文件）读取应用配置，并为缺失项提供安全的默认值。
// configPath 为空时只读取环境变量。
func Load(configPath string) (AppConfig, error) {
	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("listen_addr", "")
	v.SetDefault("database_driver", "sqlite")
	v.SetDefault("database_path", "moodjournal.db")
	v.SetDefault("database_dsn", "")
	v.SetDefault("store_driver", "gorm")
	v.SetDefault("session_secret", DefaultSessionSecret)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_ttl", "168h")
	v.SetDefault("gin_mode", "release")
	v.SetDefault("log_mode", "production")
	v.SetDefault("super_root_user_name", "")
	v.SetDefault("super_root_password", "")
	v.SetDefault("ai_provider", "openai")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("deepseek_api_key", "")
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("ai_timeout", "60s")
	v.SetDefault("digest_lookback_days", 30)
	v.SetDefault("timezone", "Asia/Seoul")
	v.SetDefault("redis_addr", "")
	v.SetDefault("rate_limit_interval", "3s")
	v.SetDefault("cors_origins", "http://localhost:5173,http://127.0.0.1:5173")

	if path := strings.TrimSpace(configPath); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	// 环境变量：PORT、DATABASE_PATH、OPENAI_API_KEY 等，与键名一一对应。
	v.AutomaticEnv()

	port := strings.TrimSpace(v.GetString("port"))
	if port == "" {
		port = "8080"
	}

	listenAddr := strings.TrimSpace(v.GetString("listen_addr"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	sessionSecret := strings.TrimSpace(v.GetString("session_secret"))
	if sessionSecret == "" {
		sessionSecret = DefaultSessionSecret
	}

	jwtSecret := strings.TrimSpace(v.GetString("jwt_secret"))
	if jwtSecret == "" {
		jwtSecret = sessionSecret
	}

	jwtTTL := v.GetDuration("jwt_ttl")
	if jwtTTL <= 0 {
		jwtTTL = 7 * 24 * time.Hour
	}

	aiTimeout := v.GetDuration("ai_timeout")
	if aiTimeout <= 0 {
		aiTimeout = 60 * time.Second
	}

	lookback := v.GetInt("digest_lookback_days")
	if lookback <= 0 {
		lookback = 30
	}

	rateInterval := v.GetDuration("rate_limit_interval")
	if rateInterval < 0 {
		rateInterval = 0
	}

	return AppConfig{
		ListenAddr:        listenAddr,
		Port:              port,
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(v.GetString("database_driver"))),
		DatabasePath:      strings.TrimSpace(v.GetString("database_path")),
		DatabaseDSN:       strings.TrimSpace(v.GetString("database_dsn")),
		StoreDriver:       strings.ToLower(strings.TrimSpace(v.GetString("store_driver"))),
		SessionSecret:     sessionSecret,
		JWTSecret:         jwtSecret,
		JWTTTL:            jwtTTL,
		GinMode:           strings.TrimSpace(v.GetString("gin_mode")),
		LogMode:           strings.TrimSpace(v.GetString("log_mode")),
		SuperRootUserName: strings.TrimSpace(v.GetString("super_root_user_name")),
		SuperRootPassword: strings.TrimSpace(v.GetString("super_root_password")),
		AIProvider:        strings.ToLower(strings.TrimSpace(v.GetString("ai_provider"))),
		OpenAIAPIKey:      strings.TrimSpace(v.GetString("openai_api_key")),
		DeepSeekAPIKey:    strings.TrimSpace(v.GetString("deepseek_api_key")),
		GeminiAPIKey:      strings.TrimSpace(v.GetString("gemini_api_key")),
		AITimeout:         aiTimeout,
		DigestLookback:    lookback,
		Timezone:          strings.TrimSpace(v.GetString("timezone")),
		RedisAddr:         strings.TrimSpace(v.GetString("redis_addr")),
		RateLimitInterval: rateInterval,
		CORSOrigins:       splitList(v.GetString("cors_origins")),
	}, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
