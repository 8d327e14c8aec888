package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ragsync/internal/errors"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "./pdfs", cfg.Sources.PDFDir)
	assert.Equal(t, "urls.txt", cfg.Sources.URLsFile)
	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
	assert.Equal(t, 200, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, "text-embedding-3-large", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.OpenAI.Model)
	assert.Equal(t, "marketo", cfg.VectorStore.Pinecone.Index)
	assert.Equal(t, 10000, cfg.Sync.ScanLimit)
	assert.True(t, cfg.Sync.ReplaceOnUpdate)
	assert.Equal(t, 1, cfg.Query.TopK)
	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverridesAndFillsSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragsync.yaml")
	yml := `
sources:
  pdf_dir: docs
embedder:
  type: hashing
llm:
  type: extractive
vector_store:
  type: sqlite
sync:
  replace_on_update: false
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "docs", cfg.Sources.PDFDir)
	assert.Equal(t, "*.pdf", cfg.Sources.Pattern)
	assert.Equal(t, 384, cfg.Embedder.Hashing.Dimensions)
	assert.Equal(t, 3, cfg.LLM.MaxSentences)
	assert.Equal(t, filepath.Join(".ragsync", "index.db"), cfg.VectorStore.SQLite.Path)
	assert.False(t, cfg.Sync.ReplaceOnUpdate)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources: [unclosed"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfig))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Server.Addr = ":9090"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", loaded.Server.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"unknown embedder", func(c *AppConfig) { c.Embedder.Type = "bert" }},
		{"unknown llm", func(c *AppConfig) { c.LLM.Type = "claude" }},
		{"unknown store", func(c *AppConfig) { c.VectorStore.Type = "faiss" }},
		{"zero chunk size", func(c *AppConfig) { c.Chunker.ChunkSize = 0 }},
		{"overlap too large", func(c *AppConfig) { c.Chunker.ChunkOverlap = 1000 }},
		{"empty pdf dir", func(c *AppConfig) { c.Sources.PDFDir = " " }},
		{"bad log format", func(c *AppConfig) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindConfig))
		})
	}
}

func TestCredential(t *testing.T) {
	t.Setenv("RAGSYNC_TEST_KEY", " sk-123 ")
	v, err := Credential("RAGSYNC_TEST_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-123", v)

	t.Setenv("RAGSYNC_TEST_KEY", "")
	_, err = Credential("RAGSYNC_TEST_KEY")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeMissingCredential, apperrors.GetCode(err))
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("RAGSYNC_ENV_PROBE=loaded\n"), 0o644))
	t.Setenv("RAGSYNC_ENV_PROBE", "")
	require.NoError(t, os.Unsetenv("RAGSYNC_ENV_PROBE"))

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "loaded", os.Getenv("RAGSYNC_ENV_PROBE"))
	assert.NoError(t, LoadEnv(filepath.Join(dir, "missing.env")))
}
