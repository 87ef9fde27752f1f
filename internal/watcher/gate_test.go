package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeanbovet/semantica/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.MaxFileSizeMB = 1
	return cfg
}

func TestGate_AllowsEnabledExtensionUnderSizeCap(t *testing.T) {
	g := NewGate(testConfig())
	assert.True(t, g.Allow("/docs/readme.txt", 1024))
}

func TestGate_RejectsDisabledExtension(t *testing.T) {
	cfg := testConfig()
	cfg.FileTypes["txt"] = false
	g := NewGate(cfg)
	assert.False(t, g.Allow("/docs/readme.txt", 10))
}

func TestGate_SizeBoundary(t *testing.T) {
	cfg := testConfig()
	g := NewGate(cfg)
	cap := int64(cfg.MaxFileSizeMB) * 1024 * 1024
	assert.True(t, g.Allow("/docs/a.txt", cap))
	assert.False(t, g.Allow("/docs/a.txt", cap+1))
}

func TestGate_RejectsBuiltinExcludes(t *testing.T) {
	g := NewGate(testConfig())
	assert.False(t, g.Allow("/repo/.git/objects/a.txt", 10))
	assert.False(t, g.Allow("/repo/node_modules/pkg/a.txt", 10))
}

func TestGate_RejectsDotfileComponent(t *testing.T) {
	g := NewGate(testConfig())
	assert.False(t, g.Allow("/docs/.hidden/a.txt", 10))
}

func TestGate_RejectsUserExcludePattern(t *testing.T) {
	cfg := testConfig()
	cfg.ExcludePatterns = append(cfg.ExcludePatterns, "drafts/**")
	g := NewGate(cfg)
	assert.False(t, g.Allow("drafts/a.txt", 10))
}
