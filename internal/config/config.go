// Package config provides configuration management for Mnemo.
// It loads settings from environment variables with the MNEMO_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration settings for the Mnemo agent.
type Config struct {
	Storage    StorageConfig
	LLM        LLMConfig
	Pipeline   PipelineConfig
	Agent      AgentConfig
	Resilience ResilienceConfig
}

// StorageConfig contains memory store configuration.
type StorageConfig struct {
	StorageEngine      string // Storage engine: sqlite, postgres (default: sqlite)
	DataPath           string // Path to the data directory for sqlite (default: ./data)
	PostgresDSN        string // Postgres connection string, required when engine is postgres
	EmbeddingDimension int    // Facet vector dimension (default: 768, nomic-embed-text)
}

// LLMConfig contains language-model and embedding provider configuration.
type LLMConfig struct {
	LLMProvider          string // LLM provider: ollama, openai (default: ollama)
	OllamaURL            string // Ollama API URL (default: http://localhost:11434)
	OllamaModel          string // Ollama model for completion (default: qwen2.5:7b)
	OllamaAuxiliaryModel string // Ollama model for the reflective gate and reformulation (defaults to OllamaModel)
	OllamaEmbeddingModel string // Ollama model for embeddings (default: nomic-embed-text)
	OpenAIAPIKey         string // OpenAI API key
	OpenAIModel          string // OpenAI model name (default: gpt-4)
	OpenAIEmbeddingModel string // OpenAI embedding model (default: text-embedding-3-small)
}

// PipelineConfig contains pipeline executor configuration.
type PipelineConfig struct {
	ManifestDir       string // Directory of <id>.yaml pipeline manifests, empty uses the built-in default pipeline
	DefaultPipelineID string // Pipeline executed per turn (default: chat)
}

// AgentConfig contains turn-orchestration policy.
type AgentConfig struct {
	SystemPrompt     string  // System prompt prefixed to every model call
	MaxRegenerations int     // Rejected-draft retries per turn (default: 1)
	RetrievalTopK    int     // Associative memories consulted during planning (default: 5)
	RetrievalMin     float64 // Minimum similarity score during planning (default: 0)
	ReflectEnabled   bool    // Enable the reflective dispatch gate (default: true)
}

// ResilienceConfig contains the retry policy applied to every provider call.
type ResilienceConfig struct {
	MaxAttempts       int     // Attempts per call including the first (default: 3)
	CallTimeoutSec    int     // Overall per-call timeout in seconds (default: 120)
	RequestsPerSecond float64 // Outbound rate limit, 0 disables (default: 0)
}

const defaultSystemPrompt = "You are a helpful assistant with a long-term memory. " +
	"Use the provided memories and conversation history when they are relevant; " +
	"never invent memories."

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the MNEMO_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			StorageEngine:      getEnv("MNEMO_STORAGE_ENGINE", "sqlite"),
			DataPath:           getEnv("MNEMO_DATA_PATH", "./data"),
			PostgresDSN:        getEnv("MNEMO_POSTGRES_DSN", ""),
			EmbeddingDimension: getEnvInt("MNEMO_EMBEDDING_DIMENSION", 768),
		},
		LLM: LLMConfig{
			LLMProvider:          getEnv("MNEMO_LLM_PROVIDER", "ollama"),
			OllamaURL:            getEnv("MNEMO_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:          getEnv("MNEMO_OLLAMA_MODEL", "qwen2.5:7b"),
			OllamaAuxiliaryModel: getEnv("MNEMO_OLLAMA_AUXILIARY_MODEL", ""),
			OllamaEmbeddingModel: getEnv("MNEMO_EMBEDDING_MODEL", "nomic-embed-text"),
			OpenAIAPIKey:         getEnv("MNEMO_OPENAI_API_KEY", ""),
			OpenAIModel:          getEnv("MNEMO_OPENAI_MODEL", "gpt-4"),
			OpenAIEmbeddingModel: getEnv("MNEMO_OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Pipeline: PipelineConfig{
			ManifestDir:       getEnv("MNEMO_MANIFEST_DIR", ""),
			DefaultPipelineID: getEnv("MNEMO_PIPELINE_ID", "chat"),
		},
		Agent: AgentConfig{
			SystemPrompt:     getEnv("MNEMO_SYSTEM_PROMPT", defaultSystemPrompt),
			MaxRegenerations: getEnvInt("MNEMO_MAX_REGENERATIONS", 1),
			RetrievalTopK:    getEnvInt("MNEMO_RETRIEVAL_TOP_K", 5),
			RetrievalMin:     getEnvFloat("MNEMO_RETRIEVAL_MIN_SCORE", 0),
			ReflectEnabled:   getEnvBool("MNEMO_REFLECT_ENABLED", true),
		},
		Resilience: ResilienceConfig{
			MaxAttempts:       getEnvInt("MNEMO_RETRY_MAX_ATTEMPTS", 3),
			CallTimeoutSec:    getEnvInt("MNEMO_CALL_TIMEOUT_SEC", 120),
			RequestsPerSecond: getEnvFloat("MNEMO_REQUESTS_PER_SECOND", 0),
		},
	}
	if cfg.LLM.OllamaAuxiliaryModel == "" {
		cfg.LLM.OllamaAuxiliaryModel = cfg.LLM.OllamaModel
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: MNEMO_POSTGRES_DSN is required when MNEMO_STORAGE_ENGINE=postgres")
		}
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.StorageEngine)
	}

	switch c.LLM.LLMProvider {
	case "ollama":
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("config: MNEMO_OPENAI_API_KEY is required when MNEMO_LLM_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("config: unknown LLM provider %q", c.LLM.LLMProvider)
	}

	if c.Storage.EmbeddingDimension <= 0 {
		return fmt.Errorf("config: embedding dimension must be positive, got %d", c.Storage.EmbeddingDimension)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a
// default value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvFloat retrieves an environment variable as a float or returns a
// default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean or returns a
// default value. Accepts the strconv.ParseBool forms.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
