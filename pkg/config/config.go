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

	// OpenAI設定（Embeddings + 回答生成）
	OpenAI OpenAIConfig

	// インデックス設定
	Indexing IndexingConfig

	// 検索設定
	Search SearchConfig

	// 外部API呼び出しのレート制限（リクエスト/秒）
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Embeddingキャッシュのエントリ数上限（0 で無効）
	EmbeddingCacheSize int
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

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	LLMModel           string
	Temperature        float64
	MaxTokens          int
}

// IndexingConfig はインデックス処理の設定
type IndexingConfig struct {
	ChunkSize       int // 子チャンクの最大文字数
	ChunkOverlap    int // チャンク間のオーバーラップ文字数
	ParentChunkSize int // 親チャンクの最大文字数（Small-to-Big用）
	EmbedBatchSize  int // Embedding APIの1回あたりのチャンク数
	MaxConcurrency  int // インデックス処理の並列度
	ExtractEntities bool
}

// SearchConfig は検索の設定
type SearchConfig struct {
	TopK             int
	UseVector        bool
	UseKeyword       bool
	UseGraph         bool
	ExpandQuery      bool
	Rerank           bool
	CandidateCeiling int // リランク前の候補数上限
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
			User:     getEnv("DB_USER", "docrag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "docrag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			LLMModel:           getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
			Temperature:        getEnvAsFloat("OPENAI_TEMPERATURE", 0.1),
			MaxTokens:          getEnvAsInt("OPENAI_MAX_TOKENS", 1024),
		},
		Indexing: IndexingConfig{
			ChunkSize:       getEnvAsInt("INDEX_CHUNK_SIZE", 800),
			ChunkOverlap:    getEnvAsInt("INDEX_CHUNK_OVERLAP", 200),
			ParentChunkSize: getEnvAsInt("INDEX_PARENT_CHUNK_SIZE", 3200),
			EmbedBatchSize:  getEnvAsInt("INDEX_EMBED_BATCH_SIZE", 25),
			MaxConcurrency:  getEnvAsInt("INDEX_MAX_CONCURRENCY", 4),
			ExtractEntities: getEnvAsBool("INDEX_EXTRACT_ENTITIES", true),
		},
		Search: SearchConfig{
			TopK:             getEnvAsInt("SEARCH_TOP_K", 10),
			UseVector:        getEnvAsBool("SEARCH_USE_VECTOR", true),
			UseKeyword:       getEnvAsBool("SEARCH_USE_KEYWORD", true),
			UseGraph:         getEnvAsBool("SEARCH_USE_GRAPH", false),
			ExpandQuery:      getEnvAsBool("SEARCH_EXPAND_QUERY", false),
			Rerank:           getEnvAsBool("SEARCH_RERANK", false),
			CandidateCeiling: getEnvAsInt("SEARCH_CANDIDATE_CEILING", 40),
		},
		RateLimitPerSecond: getEnvAsFloat("API_RATE_LIMIT_PER_SECOND", 5),
		RateLimitBurst:     getEnvAsInt("API_RATE_LIMIT_BURST", 10),
		EmbeddingCacheSize: getEnvAsInt("EMBEDDING_CACHE_SIZE", 1024),
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

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
