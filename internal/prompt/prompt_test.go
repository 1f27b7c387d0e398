package prompt_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/voxloop/voxloop/internal/prompt"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoader_PrefersHighestVersion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "router.md", "plain")
	writeFile(t, dir, "router_v1.md", "version one")
	writeFile(t, dir, "router_v2.md", "version two")

	l := prompt.NewLoader(dir, nil)
	got, err := l.Load("router")
	if err != nil {
		t.Fatal(err)
	}
	if got != "version two" {
		t.Errorf("got %q, want %q", got, "version two")
	}
}

func TestLoader_FallsBackToUnversioned(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "identity.md", "identity prompt")

	l := prompt.NewLoader(dir, nil)
	got, err := l.Load("identity")
	if err != nil {
		t.Fatal(err)
	}
	if got != "identity prompt" {
		t.Errorf("got %q", got)
	}
}

func TestLoader_FallsBackToDefault(t *testing.T) {
	l := prompt.NewLoader(t.TempDir(), map[string]string{"task_manager": "built in"})
	got, err := l.Load("task_manager")
	if err != nil {
		t.Fatal(err)
	}
	if got != "built in" {
		t.Errorf("got %q", got)
	}

	if _, err := l.Load("nonexistent"); err == nil {
		t.Error("expected error for unknown agent")
	}
}

func TestLoader_Caches(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "router.md", "first")

	l := prompt.NewLoader(dir, nil)
	if got, _ := l.Load("router"); got != "first" {
		t.Fatalf("got %q", got)
	}

	// A later file change must not affect the cached value.
	writeFile(t, dir, "router.md", "second")
	if got, _ := l.Load("router"); got != "first" {
		t.Errorf("cache miss: got %q", got)
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]string
		want     string
	}{
		{
			name:     "substitutes known keys",
			template: "Hello {{user_name}}, it is {{current_time}}.",
			vars:     map[string]string{"user_name": "Bob", "current_time": "now"},
			want:     "Hello Bob, it is now.",
		},
		{
			name:     "leaves unknown placeholders",
			template: "Hi {{missing}}",
			vars:     map[string]string{"user_name": "Bob"},
			want:     "Hi {{missing}}",
		},
		{
			name:     "empty template",
			template: "",
			vars:     map[string]string{"a": "b"},
			want:     "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := prompt.Render(tt.template, tt.vars); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
