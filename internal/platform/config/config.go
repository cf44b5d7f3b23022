package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// Redis設定（レスポンスキャッシュ用）
	Redis RedisConfig

	// OpenAI設定（Embeddings + 回答生成）
	OpenAI OpenAIConfig

	// HTTPサーバ設定
	Server ServerConfig

	// クエリ処理の制限値
	Query QueryConfig

	// ログ設定
	Log LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig はRedis接続設定
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// OpenAIConfig はOpenAI API設定（Embeddings + LLM）
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	ChatModel          string
}

// ServerConfig はHTTPサーバ設定
type ServerConfig struct {
	Addr string
}

// QueryConfig はクエリ処理の制限値を保持します
type QueryConfig struct {
	// 履歴トークン数の上限。超過した場合は履歴を要約して圧縮する
	TokenBudget int
	// セッションごとの直近1時間あたりのクエリ数上限
	MaxQueriesPerHour int
	// レスポンスキャッシュのTTL（秒）
	CacheTTLSeconds int
	// 回答生成の最大トークン数
	AnswerMaxTokens int
	// 履歴要約の最大トークン数
	SummaryMaxTokens int
	// 検索で採用する上位件数
	TopK int
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string // "debug" / "info" / "warn" / "error"
	Format string // "json" or "text"
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "knowledgechat"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "knowledgechat"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			ChatModel:          getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		},
		Server: ServerConfig{
			Addr: getEnv("SERVER_ADDR", ":8080"),
		},
		Query: QueryConfig{
			TokenBudget:       getEnvAsInt("QUERY_TOKEN_BUDGET", 3000),
			MaxQueriesPerHour: getEnvAsInt("QUERY_MAX_PER_HOUR", 100),
			CacheTTLSeconds:   getEnvAsInt("QUERY_CACHE_TTL_SECONDS", 3600),
			AnswerMaxTokens:   getEnvAsInt("QUERY_ANSWER_MAX_TOKENS", 500),
			SummaryMaxTokens:  getEnvAsInt("QUERY_SUMMARY_MAX_TOKENS", 300),
			TopK:              getEnvAsInt("QUERY_TOP_K", 3),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
