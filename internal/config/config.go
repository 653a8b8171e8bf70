// Package config provides configuration loading for chatd.
//
// Configuration is loaded from environment variables with sensible defaults.
// The orchestration core never reads configuration itself; adapters receive
// the relevant sub-struct at construction time and treat it as opaque.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Supported backends. Validation fails closed on anything else.
var (
	validProviders = map[string]bool{
		"openai": true, "openrouter": true, "litellm": true,
		"anthropic": true, "gemini": true, "local": true,
	}
	validVectorDBs = map[string]bool{"chromem": true, "qdrant": true}
	validEmbedders = map[string]bool{"openai": true, "fastembed": true}
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete chatd configuration.
type Config struct {
	Server   ServerConfig
	Logging  LoggingConfig
	Storage  StorageConfig
	Provider ProviderConfig
	Embedder EmbedderConfig
	VectorDB VectorDBConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

// LoggingConfig holds zap logger configuration.
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// StorageConfig holds filesystem and SQLite paths.
type StorageConfig struct {
	// Dir is the root storage directory for the SQLite database, the
	// chromem vector store and the vector cache.
	Dir string

	// DatabasePath overrides the SQLite file location. Empty means
	// Dir/chatd.db.
	DatabasePath string
}

// ProviderConfig holds the default LLM provider selection and vendor
// credentials. Workspaces may override provider and model per turn.
type ProviderConfig struct {
	// Name selects the completion backend: openai, openrouter, litellm,
	// anthropic, gemini, local.
	Name string

	// Model is the default model for the selected backend.
	Model string

	// APIKey is the vendor credential. Required by openai, openrouter,
	// anthropic and gemini.
	APIKey string

	// BaseURL overrides the vendor endpoint (required for litellm and
	// local, optional elsewhere).
	BaseURL string

	// TokenLimit overrides the model prompt window for backends that
	// cannot infer it (litellm, local).
	TokenLimit int

	// Temperature is the default sampling temperature.
	Temperature float64
}

// EmbedderConfig holds embedding backend configuration.
type EmbedderConfig struct {
	// Name selects the embedding backend: openai (OpenAI-compatible,
	// including TEI) or fastembed (local ONNX, requires CGO).
	Name string

	// BaseURL is the OpenAI-compatible endpoint.
	BaseURL string

	// Model is the embedding model name.
	Model string

	// APIKey is optional for TEI-style servers.
	APIKey string
}

// VectorDBConfig holds vector store backend configuration.
type VectorDBConfig struct {
	// Backend selects the vector store: chromem (embedded, default) or
	// qdrant (external gRPC).
	Backend string

	// ChromemPath is the persistence directory for the chromem backend.
	// Empty means Storage.Dir/vectorstore.
	ChromemPath string

	// QdrantHost and QdrantPort locate the qdrant gRPC endpoint
	// (6334, not the 6333 REST port).
	QdrantHost string
	QdrantPort int

	// QdrantTLS enables TLS on the gRPC connection.
	QdrantTLS bool

	// VectorSize must match the embedder output dimension.
	VectorSize int
}

// Load loads configuration from environment variables with defaults.
//
// Environment variables:
//   - SERVER_PORT: HTTP server port (default: 3301)
//   - SERVER_SHUTDOWN_TIMEOUT: graceful shutdown timeout (default: 10s)
//   - LOG_LEVEL: debug|info|warn|error (default: info)
//   - LOG_FORMAT: json|console (default: json)
//   - STORAGE_DIR: root storage directory (default: ./storage)
//   - DATABASE_PATH: SQLite file override (default: STORAGE_DIR/chatd.db)
//   - LLM_PROVIDER: completion backend (default: openai)
//   - LLM_MODEL: default model (backend-specific default)
//   - LLM_API_KEY: vendor credential
//   - LLM_BASE_URL: vendor endpoint override
//   - LLM_TOKEN_LIMIT: prompt window override (default: 0, backend decides)
//   - LLM_TEMPERATURE: default sampling temperature (default: 0.7)
//   - EMBEDDER: embedding backend (default: openai)
//   - EMBEDDING_BASE_URL: OpenAI-compatible endpoint (default: http://localhost:8080/v1)
//   - EMBEDDING_MODEL: embedding model (default: BAAI/bge-small-en-v1.5)
//   - EMBEDDING_API_KEY: optional credential for TEI-style servers
//   - VECTOR_DB: chromem|qdrant (default: chromem)
//   - CHROMEM_PATH: chromem persistence dir (default: STORAGE_DIR/vectorstore)
//   - QDRANT_HOST / QDRANT_PORT / QDRANT_TLS: qdrant gRPC endpoint (default: localhost:6334, no TLS)
//   - VECTOR_SIZE: embedding dimension (default: 384)
func Load() *Config {
	storageDir := getEnvString("STORAGE_DIR", "./storage")

	return &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 3301),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		Storage: StorageConfig{
			Dir:          storageDir,
			DatabasePath: getEnvString("DATABASE_PATH", ""),
		},
		Provider: ProviderConfig{
			Name:        getEnvString("LLM_PROVIDER", "openai"),
			Model:       getEnvString("LLM_MODEL", ""),
			APIKey:      getEnvString("LLM_API_KEY", ""),
			BaseURL:     getEnvString("LLM_BASE_URL", ""),
			TokenLimit:  getEnvInt("LLM_TOKEN_LIMIT", 0),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
		},
		Embedder: EmbedderConfig{
			Name:    getEnvString("EMBEDDER", "openai"),
			BaseURL: getEnvString("EMBEDDING_BASE_URL", "http://localhost:8080/v1"),
			Model:   getEnvString("EMBEDDING_MODEL", "BAAI/bge-small-en-v1.5"),
			APIKey:  getEnvString("EMBEDDING_API_KEY", ""),
		},
		VectorDB: VectorDBConfig{
			Backend:     getEnvString("VECTOR_DB", "chromem"),
			ChromemPath: getEnvString("CHROMEM_PATH", ""),
			QdrantHost:  getEnvString("QDRANT_HOST", "localhost"),
			QdrantPort:  getEnvInt("QDRANT_PORT", 6334),
			QdrantTLS:   getEnvBool("QDRANT_TLS", false),
			VectorSize:  getEnvInt("VECTOR_SIZE", 384),
		},
	}
}

// Validate checks backend selections and cross-field requirements.
func (c *Config) Validate() error {
	if !validProviders[c.Provider.Name] {
		return fmt.Errorf("%w: unknown LLM provider %q", ErrInvalidConfig, c.Provider.Name)
	}
	if !validVectorDBs[c.VectorDB.Backend] {
		return fmt.Errorf("%w: unknown vector DB backend %q", ErrInvalidConfig, c.VectorDB.Backend)
	}
	if !validEmbedders[c.Embedder.Name] {
		return fmt.Errorf("%w: unknown embedder %q", ErrInvalidConfig, c.Embedder.Name)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port %d", ErrInvalidConfig, c.Server.Port)
	}
	if c.VectorDB.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// DatabasePath returns the SQLite file location, applying the storage-dir
// default.
func (c *Config) DatabasePath() string {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath
	}
	return filepath.Join(c.Storage.Dir, "chatd.db")
}

// ChromemPath returns the chromem persistence directory, applying the
// storage-dir default.
func (c *Config) ChromemPath() string {
	if c.VectorDB.ChromemPath != "" {
		return c.VectorDB.ChromemPath
	}
	return filepath.Join(c.Storage.Dir, "vectorstore")
}

// VectorCachePath returns the content-addressed vector cache directory.
func (c *Config) VectorCachePath() string {
	return filepath.Join(c.Storage.Dir, "vector-cache")
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
