// Package command discovers the slash commands a session can invoke:
// markdown files under .opencode/command directories plus commands declared
// in the server configuration.
package command

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode-acp/internal/logging"
	"github.com/opencode-ai/opencode-acp/internal/opencode"
)

// Definition is one discovered slash command.
type Definition struct {
	Name         string
	Description  string
	ArgumentHint string
	Source       string // "config" or "file"
}

// Loader owns the current command set. Reload rebuilds it from disk and the
// last known server config; the watcher calls Reload on file changes.
type Loader struct {
	dirs []string
	log  zerolog.Logger

	mu       sync.RWMutex
	config   map[string]opencode.CommandConfig
	commands map[string]Definition
}

// NewLoader creates a loader scanning the given command directories.
// Typical dirs are "<cwd>/.opencode/command" and the user-level config
// equivalent.
func NewLoader(dirs []string) *Loader {
	l := &Loader{
		dirs:     dirs,
		log:      logging.Component("command"),
		commands: make(map[string]Definition),
	}
	l.Reload()
	return l
}

// SetConfig installs the server-declared command set and rebuilds.
func (l *Loader) SetConfig(commands map[string]opencode.CommandConfig) {
	l.mu.Lock()
	l.config = commands
	l.mu.Unlock()
	l.Reload()
}

// Reload rebuilds the command table. File-based definitions override
// config-declared ones of the same name.
func (l *Loader) Reload() {
	next := make(map[string]Definition)

	l.mu.RLock()
	for name, cfg := range l.config {
		next[name] = Definition{Name: name, Description: cfg.Description, Source: "config"}
	}
	l.mu.RUnlock()

	for _, dir := range l.dirs {
		l.loadDir(dir, next)
	}

	l.mu.Lock()
	l.commands = next
	l.mu.Unlock()
	l.log.Debug().Int("count", len(next)).Msg("commands reloaded")
}

// loadDir scans one command directory for markdown definitions. Nested
// files become namespaced names: review/security.md -> review:security.
func (l *Loader) loadDir(dir string, out map[string]Definition) {
	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, "**/*.md")
	if err != nil {
		return
	}

	for _, match := range matches {
		def, err := parseFile(filepath.Join(dir, match))
		if err != nil {
			l.log.Warn().Err(err).Str("path", match).Msg("skipping command file")
			continue
		}
		name := strings.TrimSuffix(match, ".md")
		name = strings.ReplaceAll(name, "/", ":")
		def.Name = name
		def.Source = "file"
		out[name] = def
	}
}

// parseFile reads the frontmatter of a command markdown file. The body is
// the prompt template, expanded server-side; only the metadata matters here.
func parseFile(path string) (Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, err
	}

	var def Definition
	lines := strings.Split(string(content), "\n")
	inFrontmatter := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if i == 0 && trimmed == "---" {
			inFrontmatter = true
			continue
		}
		if inFrontmatter && trimmed == "---" {
			break
		}
		if !inFrontmatter {
			break
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "\"'")
		switch strings.TrimSpace(key) {
		case "description":
			def.Description = value
		case "argument-hint":
			def.ArgumentHint = value
		}
	}
	return def, nil
}

// Has reports whether a command with the given name exists.
func (l *Loader) Has(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.commands[name]
	return ok
}

// Definitions returns the current command set, sorted by name.
func (l *Loader) Definitions() []Definition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	defs := make([]Definition, 0, len(l.commands))
	for _, def := range l.commands {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Dirs returns the directories this loader scans.
func (l *Loader) Dirs() []string {
	return l.dirs
}
