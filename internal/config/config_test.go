package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 2000, cfg.Ingestion.ChunkSize)
	assert.Equal(t, 200, cfg.Ingestion.ChunkOverlap)
	assert.Equal(t, 16, cfg.Embedding.BatchSize)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, 6, cfg.Store.ConnectRetries)
	assert.Equal(t, 1*time.Second, cfg.Store.ConnectRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.Store.ConnectRetryCap)
	assert.Equal(t, "RAG_CHUNKS", cfg.Store.ChunkTable)
	assert.Equal(t, "RAG_DOCUMENTS", cfg.Store.HeaderTable)
	assert.Equal(t, "RAG_IMAGES", cfg.Store.ImageTable)
	assert.Equal(t, 5, cfg.Vision.ImageStorageConcurrency)
	assert.Equal(t, 3, cfg.Vision.ImageStorageRetries)
	assert.True(t, cfg.Vision.EnableImageExtraction)
	assert.Equal(t, 3, cfg.Ingestion.SummaryInputMaxPages)
	assert.Equal(t, 4000, cfg.Ingestion.SummaryInputMaxChars)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "hana.example.com")
	t.Setenv("DB_PORT", "30015")
	t.Setenv("DB_USER", "CORPUS")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("CHUNK_TABLE", "MY_CHUNKS")
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("CHUNK_OVERLAP", "50")
	t.Setenv("EMBEDDING_BATCH_SIZE", "1")
	t.Setenv("ENABLE_IMAGE_EXTRACTION", "false")
	t.Setenv("MAX_IMAGE_PAGES", "2")
	t.Setenv("CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("IMAGE_STORAGE_RETRY_DELAY_MS", "250")
	t.Setenv("DEFAULT_TENANT_ID", "acme")
	t.Setenv("RESOURCE_GROUP", "rg-1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "hana.example.com", cfg.Store.Host)
	assert.Equal(t, 30015, cfg.Store.Port)
	assert.Equal(t, "MY_CHUNKS", cfg.Store.ChunkTable)
	assert.Equal(t, 500, cfg.Ingestion.ChunkSize)
	assert.Equal(t, 50, cfg.Ingestion.ChunkOverlap)
	assert.Equal(t, 1, cfg.Embedding.BatchSize)
	assert.False(t, cfg.Vision.EnableImageExtraction)
	assert.Equal(t, 2, cfg.Vision.MaxImagePages)
	assert.Equal(t, 5*time.Second, cfg.Store.ConnectTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Vision.ImageStorageRetryDelay)
	assert.Equal(t, "acme", cfg.Ingestion.DefaultTenant)
	assert.Equal(t, "rg-1", cfg.Gateway.ResourceGroup)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	t.Setenv("DB_HOST", "hana.example.com")
	t.Setenv("DB_USER", "CORPUS")
	t.Setenv("DB_PASSWORD", "secret")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("ingestion:\n  chunk_size: 1234\n  chunk_overlap: 10\nembedding:\n  dimension: 768\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1234, cfg.Ingestion.ChunkSize)
	assert.Equal(t, 10, cfg.Ingestion.ChunkOverlap)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	// untouched sections keep defaults
	assert.Equal(t, 16, cfg.Embedding.BatchSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Host = "hana.example.com"
	cfg.Store.User = "CORPUS"
	cfg.Store.Password = "secret"
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Server.Port = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Store.Host = ""
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Ingestion.ChunkOverlap = bad.Ingestion.ChunkSize
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Embedding.BatchSize = 0
	assert.Error(t, bad.Validate())
}
