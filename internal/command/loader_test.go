package command

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode-acp/internal/opencode"
)

func writeCommand(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoader_FileCommands(t *testing.T) {
	dir := t.TempDir()
	writeCommand(t, dir, "review.md", `---
description: Review the given file
argument-hint: <path>
---
Review {file} carefully.`)
	writeCommand(t, dir, "test/unit.md", `---
description: Run unit tests
---
Run the tests.`)

	loader := NewLoader([]string{dir})

	assert.True(t, loader.Has("review"))
	// Nested files become namespaced names.
	assert.True(t, loader.Has("test:unit"))
	assert.False(t, loader.Has("missing"))

	defs := loader.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "review", defs[0].Name)
	assert.Equal(t, "Review the given file", defs[0].Description)
	assert.Equal(t, "<path>", defs[0].ArgumentHint)
	assert.Equal(t, "file", defs[0].Source)
	assert.Equal(t, "test:unit", defs[1].Name)
}

func TestLoader_NoFrontmatter(t *testing.T) {
	dir := t.TempDir()
	writeCommand(t, dir, "plain.md", "Just a prompt body, no metadata.")

	loader := NewLoader([]string{dir})

	require.True(t, loader.Has("plain"))
	defs := loader.Definitions()
	assert.Equal(t, "", defs[0].Description)
}

func TestLoader_ConfigCommands(t *testing.T) {
	loader := NewLoader(nil)
	loader.SetConfig(map[string]opencode.CommandConfig{
		"compact": {Description: "Compact the conversation", Template: "..."},
	})

	assert.True(t, loader.Has("compact"))
	defs := loader.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "config", defs[0].Source)
}

func TestLoader_FileOverridesConfig(t *testing.T) {
	dir := t.TempDir()
	writeCommand(t, dir, "deploy.md", `---
description: File-based deploy
---
Deploy it.`)

	loader := NewLoader([]string{dir})
	loader.SetConfig(map[string]opencode.CommandConfig{
		"deploy": {Description: "Config-based deploy", Template: "..."},
	})

	defs := loader.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "File-based deploy", defs[0].Description)
	assert.Equal(t, "file", defs[0].Source)
}

func TestLoader_MissingDir(t *testing.T) {
	loader := NewLoader([]string{filepath.Join(t.TempDir(), "does-not-exist")})
	assert.Empty(t, loader.Definitions())
}

func TestLoader_Reload(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader([]string{dir})
	assert.False(t, loader.Has("late"))

	writeCommand(t, dir, "late.md", `---
description: Added after startup
---
Body.`)
	loader.Reload()
	assert.True(t, loader.Has("late"))
}
