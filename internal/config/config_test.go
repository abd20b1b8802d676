package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_MissingPathUsesEnvAndDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/memoryd")
	t.Setenv("LLM_BASE_URL", "http://localhost:1234")
	t.Setenv("LLM_CHAT_MODEL", "chat-model")
	t.Setenv("LLM_EMBEDDING_MODEL", "embed-model")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/memoryd", cfg.Database.URL)
	assert.Equal(t, 20, cfg.Segmentation.WindowBase)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "inprocess", cfg.Jobs.Backend)
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Jobs.DedupeTTL)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	path := writeConfig(t, `
database:
  url: postgres://yaml/db
llm:
  base_url: http://yaml
  chat_model: yaml-chat
  embedding_model: yaml-embed
  embedding_dims: 256
segmentation:
  window_base: 99
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://yaml/db", cfg.Database.URL)
	assert.Equal(t, 256, cfg.LLM.EmbeddingDims)
	assert.Equal(t, 99, cfg.Segmentation.WindowBase)
	assert.Equal(t, 40, cfg.Segmentation.WindowMax, "unset fields keep their default")
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://yaml/db
llm:
  base_url: http://yaml
  chat_model: yaml-chat
  embedding_model: yaml-embed
  embedding_dims: 256
`)
	t.Setenv("DATABASE_URL", "postgres://env/db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
}

func TestLoad_MissingRequiredFieldErrors(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://yaml/db
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_NonPositiveEmbeddingDimsErrors(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/memoryd")
	t.Setenv("LLM_BASE_URL", "http://localhost:1234")
	t.Setenv("LLM_CHAT_MODEL", "chat-model")
	t.Setenv("LLM_EMBEDDING_MODEL", "embed-model")

	path := writeConfig(t, `
llm:
  embedding_dims: 0
`)

	_, err := Load(path)
	require.Error(t, err)
}
