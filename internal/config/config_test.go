package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowmane/mnemo/internal/config"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.StorageEngine)
	assert.Equal(t, "./data", cfg.Storage.DataPath)
	assert.Equal(t, 768, cfg.Storage.EmbeddingDimension)
	assert.Equal(t, "ollama", cfg.LLM.LLMProvider)
	assert.Equal(t, "chat", cfg.Pipeline.DefaultPipelineID)
	assert.Equal(t, 1, cfg.Agent.MaxRegenerations)
	assert.True(t, cfg.Agent.ReflectEnabled)
	assert.Equal(t, 3, cfg.Resilience.MaxAttempts)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("MNEMO_OLLAMA_MODEL", "llama3:8b")
	t.Setenv("MNEMO_RETRIEVAL_TOP_K", "9")
	t.Setenv("MNEMO_REFLECT_ENABLED", "false")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "llama3:8b", cfg.LLM.OllamaModel)
	assert.Equal(t, 9, cfg.Agent.RetrievalTopK)
	assert.False(t, cfg.Agent.ReflectEnabled)
}

func TestLoadConfigAuxiliaryModelDefaultsToPrimary(t *testing.T) {
	t.Setenv("MNEMO_OLLAMA_MODEL", "qwen2.5:14b")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:14b", cfg.LLM.OllamaAuxiliaryModel)
}

func TestLoadConfigPostgresRequiresDSN(t *testing.T) {
	t.Setenv("MNEMO_STORAGE_ENGINE", "postgres")

	_, err := config.LoadConfig()
	assert.Error(t, err)

	t.Setenv("MNEMO_POSTGRES_DSN", "postgres://localhost/mnemo")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.StorageEngine)
}

func TestLoadConfigRejectsUnknownEngine(t *testing.T) {
	t.Setenv("MNEMO_STORAGE_ENGINE", "redis")

	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigUnparseableIntFallsBack(t *testing.T) {
	t.Setenv("MNEMO_RETRY_MAX_ATTEMPTS", "lots")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Resilience.MaxAttempts)
}
