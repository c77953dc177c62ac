package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/larkvm/vm"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lark.toml", `
[thread]
step-limit = 5000
allow-recursion = true
poll-interrupts = false
max-depth = 64

[loader]
paths = ["mods", "/opt/lark"]
store = "modules.db"
allow = ["math"]
deny = ["os"]

[log]
verbosity = 2
`)
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Thread.StepLimit != 5000 {
		t.Errorf("step-limit = %d, want 5000", c.Thread.StepLimit)
	}
	if !c.Thread.AllowRecursion {
		t.Error("allow-recursion = false, want true")
	}
	if c.Thread.PollInterrupts == nil || *c.Thread.PollInterrupts {
		t.Error("poll-interrupts should be false")
	}
	if c.Thread.MaxDepth != 64 {
		t.Errorf("max-depth = %d, want 64", c.Thread.MaxDepth)
	}
	if c.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", c.Log.Verbosity)
	}
	if c.Path != filepath.Join(c.Dir, "lark.toml") {
		t.Errorf("path = %q", c.Path)
	}

	paths := c.ModulePaths()
	if len(paths) != 2 || paths[0] != filepath.Join(c.Dir, "mods") || paths[1] != "/opt/lark" {
		t.Errorf("module paths = %v", paths)
	}
	if c.StorePath() != filepath.Join(c.Dir, "modules.db") {
		t.Errorf("store path = %q", c.StorePath())
	}

	p := c.Policy()
	if p == nil || !p.Allowed["math"] || !p.Denied["os"] {
		t.Errorf("policy = %+v", p)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lark.yaml", `
thread:
  step-limit: 10
loader:
  store: ":memory:"
`)
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Thread.StepLimit != 10 {
		t.Errorf("step-limit = %d, want 10", c.Thread.StepLimit)
	}
	if c.StorePath() != ":memory:" {
		t.Errorf("store path = %q", c.StorePath())
	}
	if c.Policy() != nil {
		t.Error("policy should be nil without allow or deny")
	}
}

func TestDefaults(t *testing.T) {
	c, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if c.Path != "" {
		t.Errorf("path = %q, want none", c.Path)
	}
	if len(c.Loader.Paths) != 1 || c.Loader.Paths[0] != "modules" {
		t.Errorf("default paths = %v", c.Loader.Paths)
	}
	if c.Thread.PollInterrupts == nil || !*c.Thread.PollInterrupts {
		t.Error("interrupt polling should default to on")
	}
	if c.Thread.MaxDepth != vm.DefaultMaxDepth {
		t.Errorf("max-depth = %d, want %d", c.Thread.MaxDepth, vm.DefaultMaxDepth)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		data string
		ext  string
		want string
	}{
		{"[thread]\nstep-limt = 3\n", ".toml", "unknown key thread.step-limt"},
		{"thread:\n  bogus: 1\n", ".yaml", "bogus"},
		{"[thread\n", ".toml", ""},
		{"[thread]\nmax-depth = -1\n", ".toml", "must not be negative"},
		{"", ".ini", "unsupported config format"},
	}
	for _, tt := range tests {
		_, err := Parse([]byte(tt.data), tt.ext)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Parse(%q, %s) error = %v, want %q", tt.data, tt.ext, err, tt.want)
		}
	}
}

func TestThreadOptions(t *testing.T) {
	c, err := Parse([]byte("[thread]\nstep-limit = 7\nmax-depth = 3\n"), ".toml")
	if err != nil {
		t.Fatal(err)
	}
	th := vm.NewThread("cfg", c.ThreadOptions()...)
	if th.StepLimit() != 7 {
		t.Errorf("StepLimit = %d, want 7", th.StepLimit())
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "lark.toml", "[log]\nverbosity = 1\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatal(err)
	}
	if c.Log.Verbosity != 1 {
		t.Errorf("verbosity = %d, want 1", c.Log.Verbosity)
	}
	if c.ModulePaths()[0] != filepath.Join(c.Dir, "modules") {
		t.Errorf("module path not resolved against config dir: %v", c.ModulePaths())
	}
}
