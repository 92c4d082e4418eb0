package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Milvus    MilvusConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Document  DocumentConfig
	Chunking  ChunkingConfig
	Ingestion IngestionConfig
	Query     QueryConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type MilvusConfig struct {
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type LLMConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
}

// DocumentConfig bounds what uploads are accepted and where the original
// bytes are kept for later reprocessing.
type DocumentConfig struct {
	StoragePath  string
	MaxSize      int64
	AllowedTypes []string
}

type ChunkingConfig struct {
	ChunkSize             int
	ChunkOverlap          int
	MinChunkChars         int
	MinChunkLengthToEmbed int
	MaxChunks             int
	BatchSize             int
}

type IngestionConfig struct {
	Workers   int
	QueueSize int
}

type QueryConfig struct {
	MaxResults          int
	SimilarityThreshold float64
	MaxHistory          int
	MaxQuestionLength   int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/enterprise-kb")

	viper.SetEnvPrefix("KB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 52428800)

	viper.SetDefault("sqlite.path", "./data/knowledgebase.db")

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "kb_chunks")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlHours", 24)

	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-large")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)

	viper.SetDefault("document.storagePath", "./uploads")
	viper.SetDefault("document.maxSize", 52428800)
	viper.SetDefault("document.allowedTypes", []string{"pdf", "txt", "md", "html"})

	viper.SetDefault("chunking.chunkSize", 1000)
	viper.SetDefault("chunking.chunkOverlap", 200)
	viper.SetDefault("chunking.minChunkChars", 350)
	viper.SetDefault("chunking.minChunkLengthToEmbed", 5)
	viper.SetDefault("chunking.maxChunks", 10000)
	viper.SetDefault("chunking.batchSize", 10)

	viper.SetDefault("ingestion.workers", 2)
	viper.SetDefault("ingestion.queueSize", 100)

	viper.SetDefault("query.maxResults", 5)
	viper.SetDefault("query.similarityThreshold", 0.75)
	viper.SetDefault("query.maxHistory", 10)
	viper.SetDefault("query.maxQuestionLength", 1000)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
