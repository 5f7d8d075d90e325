package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	SQLite    SQLiteConfig
	Vector    VectorConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Ingest    IngestConfig
	Retrieval RetrievalConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

// AuthConfig carries the bearer token every API endpoint requires. The token
// is injected through the environment (DOCQUERY_AUTH_TOKEN); there is no
// default on purpose.
type AuthConfig struct {
	Token string
}

type SQLiteConfig struct {
	Path string
}

type VectorConfig struct {
	Backend        string // "local" or "milvus"
	IndexPath      string
	MetadataPath   string
	Dim            int
	Endpoint       string
	CollectionName string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

type IngestConfig struct {
	MinChunkSize   int
	MaxChunkSize   int
	OverlapSize    int
	FetchTimeout   int
	MaxUploadBytes int
}

type RetrievalConfig struct {
	TopK int
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
	viper.AddConfigPath("/etc/docquery")

	viper.SetEnvPrefix("DOCQUERY")
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

	if config.Auth.Token == "" {
		return nil, fmt.Errorf("auth.token is required (set DOCQUERY_AUTH_TOKEN)")
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 26214400)

	viper.SetDefault("sqlite.path", "./data/docquery.db")

	viper.SetDefault("vector.backend", "local")
	viper.SetDefault("vector.indexPath", "./data/vector_index.bin")
	viper.SetDefault("vector.metadataPath", "./data/chunk_metadata.json")
	viper.SetDefault("vector.dim", 1536)
	viper.SetDefault("vector.endpoint", "localhost:19530")
	viper.SetDefault("vector.collectionName", "doc_chunks")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.model", "gpt-4o")
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 1024)
	viper.SetDefault("llm.timeoutSec", 60)

	viper.SetDefault("ingest.minChunkSize", 500)
	viper.SetDefault("ingest.maxChunkSize", 1500)
	viper.SetDefault("ingest.overlapSize", 200)
	viper.SetDefault("ingest.fetchTimeout", 30)
	viper.SetDefault("ingest.maxUploadBytes", 26214400)

	viper.SetDefault("retrieval.topK", 5)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
