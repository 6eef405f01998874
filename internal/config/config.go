package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the project configuration file looked up in the project root.
const FileName = ".elysium.toml"

const (
	PluginInitDeps = "init-deps"
	PluginHooks    = "hooks"
)

var ErrUnknownPlugin = errors.New("unknown plugin")

type Macros struct {
	InitTarget string `json:"init_target" toml:"init_target"`
	Hook       string `json:"hook"        toml:"hook"`
	HookRun    string `json:"hook_run"    toml:"hook_run"`
}

type Hooks struct {
	AllowMultipleDefinitions bool `json:"allow_multiple_definitions" toml:"allow_multiple_definitions"`
}

type Config struct {
	Plugins          []string `json:"plugins"           toml:"plugins"`
	Extensions       []string `json:"extensions"        toml:"extensions"`
	RespectGitignore bool     `json:"respect_gitignore" toml:"respect_gitignore"`
	Watch            bool     `json:"watch"             toml:"watch"`
	ScanJobs         int      `json:"scan_jobs"         toml:"scan_jobs"`
	MaxDiagnostics   int      `json:"max_diagnostics"   toml:"max_diagnostics"`
	LogLevel         string   `json:"log_level"         toml:"log_level"`
	Macros           Macros   `json:"macros"            toml:"macros"`
	Hooks            Hooks    `json:"hooks"             toml:"hooks"`
}

var defaultConfig = Config{
	Plugins:          []string{PluginInitDeps, PluginHooks},
	Extensions:       []string{".c"},
	RespectGitignore: true,
	ScanJobs:         8,
	MaxDiagnostics:   100,
	LogLevel:         "info",
	Macros: Macros{
		InitTarget: "INIT_TARGET",
		Hook:       "HOOK",
		HookRun:    "HOOK_RUN",
	},
}

func Default() Config {
	cfg := defaultConfig
	cfg.Plugins = slices.Clone(defaultConfig.Plugins)
	cfg.Extensions = slices.Clone(defaultConfig.Extensions)
	return cfg
}

// Overlay returns c with every field present in v overwritten.
func (c Config) Overlay(v any) (Config, error) {
	if v == nil {
		return c, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Config{}, fmt.Errorf("failed to marshal source: %w", err)
	}

	cfg := c
	cfg.Plugins = slices.Clone(c.Plugins)
	cfg.Extensions = slices.Clone(c.Extensions)
	// only fields present in v will overwrite.
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal into Config: %w", err)
	}
	return cfg, nil
}

// DecodeJSON overlays the JSON object read from r on c. Unknown keys are
// rejected.
func (c Config) DecodeJSON(r io.Reader) (Config, error) {
	cfg := c
	cfg.Plugins = slices.Clone(c.Plugins)
	cfg.Extensions = slices.Clone(c.Extensions)

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the file at path on c. Files ending in .json are read
// as JSON, anything else as TOML.
func (c Config) LoadFile(path string) (Config, error) {
	if filepath.Ext(path) == ".json" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, err
		}
		defer f.Close()
		cfg, err := c.DecodeJSON(f)
		if err != nil {
			return Config{}, fmt.Errorf("%s: failed to parse JSON: %w", path, err)
		}
		return cfg, nil
	}

	cfg := c
	cfg.Plugins = slices.Clone(c.Plugins)
	cfg.Extensions = slices.Clone(c.Extensions)

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Discover loads FileName from root on top of the defaults. A missing file
// is not an error.
func Discover(root string) (Config, bool, error) {
	path := filepath.Join(root, FileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), false, nil
		}
		return Config{}, false, fmt.Errorf("failed to stat %q: %w", path, err)
	}
	cfg, err := Default().LoadFile(path)
	return cfg, true, err
}

func (c Config) Validate() error {
	if len(c.Plugins) == 0 {
		return errors.New("no plugins enabled")
	}
	for _, name := range c.Plugins {
		if name != PluginInitDeps && name != PluginHooks {
			return fmt.Errorf("%w: %q", ErrUnknownPlugin, name)
		}
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	if c.ScanJobs < 1 {
		return fmt.Errorf("scan_jobs must be positive, got %d", c.ScanJobs)
	}
	if c.MaxDiagnostics < 0 {
		return fmt.Errorf("max_diagnostics must not be negative, got %d", c.MaxDiagnostics)
	}
	if c.Macros.InitTarget == "" || c.Macros.Hook == "" || c.Macros.HookRun == "" {
		return errors.New("macro names must not be empty")
	}
	return nil
}
