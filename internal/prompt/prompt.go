// Package prompt loads agent system prompts from a prompts directory.
//
// Prompts live in markdown files named after the agent. A versioned file
// (e.g. "router_v2.md") takes precedence over the unversioned one
// ("router.md"), so prompt iterations can ship next to each other. When no
// file exists the compiled-in default is used.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Loader resolves agent prompts with caching. Safe for concurrent use.
type Loader struct {
	dir      string
	defaults map[string]string

	mu    sync.Mutex
	cache map[string]string
}

// NewLoader creates a loader reading from dir. defaults maps agent name to
// the compiled-in prompt used when no file is found; it may be nil.
func NewLoader(dir string, defaults map[string]string) *Loader {
	return &Loader{
		dir:      dir,
		defaults: defaults,
		cache:    make(map[string]string),
	}
}

// Load returns the prompt for the named agent. Resolution order: highest
// versioned file, unversioned file, compiled-in default.
func (l *Loader) Load(name string) (string, error) {
	l.mu.Lock()
	if p, ok := l.cache[name]; ok {
		l.mu.Unlock()
		return p, nil
	}
	l.mu.Unlock()

	p, err := l.resolve(name)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	l.cache[name] = p
	l.mu.Unlock()
	return p, nil
}

// resolve finds the prompt text without touching the cache.
func (l *Loader) resolve(name string) (string, error) {
	if l.dir != "" {
		if path := l.bestFile(name); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("prompt: read %s: %w", path, err)
			}
			return strings.TrimSpace(string(data)), nil
		}
	}
	if p, ok := l.defaults[name]; ok {
		return p, nil
	}
	return "", fmt.Errorf("prompt: no prompt found for agent %q", name)
}

// bestFile returns the path of the highest-versioned prompt file for name,
// or "" when none exists.
func (l *Loader) bestFile(name string) string {
	matches, err := filepath.Glob(filepath.Join(l.dir, name+"_v*.md"))
	if err == nil && len(matches) > 0 {
		best, bestVer := "", -1
		for _, m := range matches {
			base := strings.TrimSuffix(filepath.Base(m), ".md")
			verStr := strings.TrimPrefix(base, name+"_v")
			ver, err := strconv.Atoi(verStr)
			if err != nil {
				continue
			}
			if ver > bestVer {
				best, bestVer = m, ver
			}
		}
		if best != "" {
			return best
		}
	}

	plain := filepath.Join(l.dir, name+".md")
	if _, err := os.Stat(plain); err == nil {
		return plain
	}
	return ""
}

// Render substitutes {{key}} placeholders in template with values from vars.
// Unknown placeholders are left untouched.
func Render(template string, vars map[string]string) string {
	out := template
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}
