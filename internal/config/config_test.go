package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataRoot = "/tmp/semantica-test"
	require.NoError(t, Validate(cfg))
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := NewLoader(dir).Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.MaxFileSizeMB)
	assert.True(t, cfg.FileTypes["pdf"])
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.Equal(t, filepath.Join(dir, ".semantica", "data"), cfg.Storage.DataRoot)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SEMANTICA_MAX_FILE_SIZE", "10")
	t.Setenv("SEMANTICA_EMBEDDING_ENDPOINT", "http://127.0.0.1:9999")

	cfg, err := NewLoader(dir).Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.MaxFileSizeMB)
	assert.Equal(t, "http://127.0.0.1:9999", cfg.Embedding.Endpoint)
}

func TestValidate_RejectsUnknownFileType(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataRoot = "/tmp/semantica-test"
	cfg.FileTypes["exe"] = true

	err := Validate(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownFileType)
}

func TestValidate_RejectsNonPositiveMaxFileSize(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataRoot = "/tmp/semantica-test"
	cfg.MaxFileSizeMB = 0

	err := Validate(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMaxFileSize)
}
