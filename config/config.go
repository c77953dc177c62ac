// Package config handles lark.toml (or lark.yaml) runtime configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/chazu/larkvm/vm"
	"github.com/chazu/larkvm/vm/dist"
)

// File names searched for, in order.
var FileNames = []string{"lark.toml", "lark.yaml", "lark.yml"}

// Config represents a lark configuration file.
type Config struct {
	Thread Thread `toml:"thread" yaml:"thread"`
	Loader Loader `toml:"loader" yaml:"loader"`
	Log    Log    `toml:"log" yaml:"log"`

	// Dir is the directory containing the file (set at load time).
	Dir string `toml:"-" yaml:"-"`
	// Path is the file the configuration was read from, if any.
	Path string `toml:"-" yaml:"-"`
}

// Thread configures evaluation threads.
type Thread struct {
	StepLimit      uint64 `toml:"step-limit" yaml:"step-limit"`
	AllowRecursion bool   `toml:"allow-recursion" yaml:"allow-recursion"`
	PollInterrupts *bool  `toml:"poll-interrupts" yaml:"poll-interrupts"`
	MaxDepth       int    `toml:"max-depth" yaml:"max-depth"`
}

// Loader configures module resolution.
type Loader struct {
	Paths []string `toml:"paths" yaml:"paths"`
	Store string   `toml:"store" yaml:"store"`
	Allow []string `toml:"allow" yaml:"allow"`
	Deny  []string `toml:"deny" yaml:"deny"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity" yaml:"verbosity"`
	File      string `toml:"file" yaml:"file"`
}

// Default returns the configuration used when no file is present.
func Default(dir string) *Config {
	c := &Config{Dir: dir}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if len(c.Loader.Paths) == 0 {
		c.Loader.Paths = []string{"modules"}
	}
	if c.Thread.PollInterrupts == nil {
		on := true
		c.Thread.PollInterrupts = &on
	}
	if c.Thread.MaxDepth == 0 {
		c.Thread.MaxDepth = vm.DefaultMaxDepth
	}
}

// Load parses the configuration file in dir. A directory without one
// yields the defaults.
func Load(dir string) (*Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	for _, name := range FileNames {
		path := filepath.Join(abs, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
		c, err := Parse(data, filepath.Ext(name))
		if err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
		c.Dir, c.Path = abs, path
		return c, nil
	}
	return Default(abs), nil
}

// FindAndLoad walks up from startDir to find a configuration file and loads
// it. Without one it returns the defaults for startDir.
func FindAndLoad(startDir string) (*Config, error) {
	start, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for dir := start; ; {
		for _, name := range FileNames {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return Load(dir)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(start), nil
		}
		dir = parent
	}
}

// Parse decodes a configuration in the format named by ext (".toml",
// ".yaml" or ".yml"). Unknown keys are errors.
func Parse(data []byte, ext string) (*Config, error) {
	var c Config
	switch strings.ToLower(ext) {
	case ".toml":
		md, err := toml.Decode(string(data), &c)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown key %s", undecoded[0])
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if c.Thread.MaxDepth < 0 {
		return nil, fmt.Errorf("thread.max-depth must not be negative")
	}
	c.applyDefaults()
	return &c, nil
}

// ThreadOptions converts the thread section to vm options.
func (c *Config) ThreadOptions() []vm.ThreadOption {
	opts := []vm.ThreadOption{
		vm.WithRecursion(c.Thread.AllowRecursion),
		vm.WithMaxDepth(c.Thread.MaxDepth),
	}
	if c.Thread.StepLimit > 0 {
		opts = append(opts, vm.WithStepLimit(c.Thread.StepLimit))
	}
	if c.Thread.PollInterrupts != nil {
		opts = append(opts, vm.WithInterruptPolling(*c.Thread.PollInterrupts))
	}
	return opts
}

// ModulePaths returns absolute paths for the configured module directories.
func (c *Config) ModulePaths() []string {
	var paths []string
	for _, p := range c.Loader.Paths {
		paths = append(paths, c.resolve(p))
	}
	return paths
}

// StorePath returns the absolute module store path, or "" if none is
// configured.
func (c *Config) StorePath() string {
	if c.Loader.Store == "" || c.Loader.Store == ":memory:" {
		return c.Loader.Store
	}
	return c.resolve(c.Loader.Store)
}

// Policy returns the load policy described by the allow and deny lists, or
// nil when neither is set.
func (c *Config) Policy() *dist.LoadPolicy {
	if c.Loader.Allow == nil && len(c.Loader.Deny) == 0 {
		return nil
	}
	p := dist.NewPermissivePolicy()
	if c.Loader.Allow != nil {
		p = dist.NewRestrictedPolicy(c.Loader.Allow)
	}
	for _, name := range c.Loader.Deny {
		p.Deny(name)
	}
	return p
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}
