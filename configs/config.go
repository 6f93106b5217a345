package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Port        string
	Environment string
	LogLevel    string
	LogFile     string

	// n8n ワークフロー（予測処理の委譲先）
	N8nWebhookURL    string
	N8nWebhookSecret string
	N8nTimeout       time.Duration

	// 認証プロバイダ
	AuthVerifyURL    string
	AuthStaticTokens string

	// ドキュメントストア（PostgreSQL）
	DatabaseURL string

	// オブジェクトストレージ（S3互換）
	S3 S3Config

	AdminUsername string
	AdminPassword string

	PredictRatePerMinute int
	SessionMaxAge        time.Duration
	CORSAllowOrigins     []string
}

// S3Config レポート保存先のS3設定
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
	PresignTTL      time.Duration
}

// Enabled はバケットが設定されているかどうかを返します。
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Port:                 getEnv("PORT", "8080"),
		Environment:          getEnv("ENVIRONMENT", "development"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFile:              getEnv("LOG_FILE", ""),
		N8nWebhookURL:        getEnv("N8N_WEBHOOK_URL", ""),
		N8nWebhookSecret:     getEnv("N8N_WEBHOOK_SECRET", ""),
		N8nTimeout:           time.Duration(getEnvInt("N8N_TIMEOUT_SECONDS", 120)) * time.Second,
		AuthVerifyURL:        getEnv("AUTH_VERIFY_URL", ""),
		AuthStaticTokens:     getEnv("AUTH_STATIC_TOKENS", ""),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		AdminUsername:        getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:        getEnv("ADMIN_PASSWORD", ""),
		PredictRatePerMinute: getEnvInt("PREDICT_RATE_PER_MINUTE", 6),
		SessionMaxAge:        time.Duration(getEnvInt("SESSION_MAX_AGE_HOURS", 24)) * time.Hour,
		CORSAllowOrigins:     splitList(getEnv("CORS_ALLOW_ORIGINS", "")),
		S3: S3Config{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			PathStyle:       getEnvBool("S3_PATH_STYLE", false),
			PresignTTL:      time.Duration(getEnvInt("S3_PRESIGN_TTL_MINUTES", 15)) * time.Minute,
		},
	}
}

// IsProduction 本番環境かどうか
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate は本番環境で必須となる設定が揃っているかを確認します。
func (c *Config) Validate() error {
	if !c.IsProduction() {
		return nil
	}
	var missing []string
	if c.N8nWebhookURL == "" {
		missing = append(missing, "N8N_WEBHOOK_URL")
	}
	if c.AuthVerifyURL == "" {
		missing = append(missing, "AUTH_VERIFY_URL")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(missing, ", "))
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
