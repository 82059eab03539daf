// Package config loads vlbdb.toml, the per-project engine and tracing
// settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"vlbdb/internal/ir"
	"vlbdb/internal/jit"
	"vlbdb/internal/trace"
	"vlbdb/internal/vlbdb"
)

// FileName is the configuration file looked up from the working directory
// upwards.
const FileName = "vlbdb.toml"

// Config mirrors vlbdb.toml.
type Config struct {
	// Path is the file the configuration was read from, empty for defaults.
	Path   string       `toml:"-"`
	Engine EngineConfig `toml:"engine"`
	Trace  TraceConfig  `toml:"trace"`
}

type EngineConfig struct {
	DefaultBudget int      `toml:"default_budget"`
	Inline        string   `toml:"inline"`
	Passes        []string `toml:"passes"`
	MaxCallDepth  int      `toml:"max_call_depth"`
	MaxNesting    int      `toml:"max_nesting"`
}

type TraceConfig struct {
	Level    string `toml:"level"`
	Mode     string `toml:"mode"`
	Output   string `toml:"output"`
	Format   string `toml:"format"`
	RingSize int    `toml:"ring_size"`
}

// Default returns the settings used when no file is found.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Inline:       vlbdb.InlineConservative.String(),
			Passes:       append([]string(nil), ir.DefaultPasses...),
			MaxCallDepth: jit.DefaultMaxDepth,
			MaxNesting:   vlbdb.DefaultMaxNesting,
		},
		Trace: TraceConfig{
			Level:  trace.LevelOff.String(),
			Mode:   trace.ModeStream.String(),
			Output: "-",
			Format: "auto",
		},
	}
}

// Find walks up from startDir looking for vlbdb.toml.
func Find(startDir string) (path string, ok bool, err error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Discover loads the nearest vlbdb.toml above startDir, or the defaults when
// there is none.
func Discover(startDir string) (Config, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Default(), nil
	}
	return Load(path)
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value; unknown keys are errors.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Engine.DefaultBudget < 0 {
		errs = append(errs, fmt.Errorf("[engine].default_budget must not be negative, got %d", c.Engine.DefaultBudget))
	}
	if _, err := vlbdb.ParseInlinePolicy(c.Engine.Inline); err != nil {
		errs = append(errs, fmt.Errorf("[engine].inline: %w", err))
	}
	if err := ir.CheckPasses(c.Engine.Passes); err != nil {
		errs = append(errs, fmt.Errorf("[engine].passes: %w", err))
	}
	if c.Engine.MaxCallDepth <= 0 {
		errs = append(errs, fmt.Errorf("[engine].max_call_depth must be positive, got %d", c.Engine.MaxCallDepth))
	}
	if c.Engine.MaxNesting <= 0 {
		errs = append(errs, fmt.Errorf("[engine].max_nesting must be positive, got %d", c.Engine.MaxNesting))
	}
	if _, err := trace.ParseLevel(c.Trace.Level); err != nil {
		errs = append(errs, fmt.Errorf("[trace].level: %w", err))
	}
	if _, err := trace.ParseMode(c.Trace.Mode); err != nil {
		errs = append(errs, fmt.Errorf("[trace].mode: %w", err))
	}
	if _, err := trace.ParseFormat(c.Trace.Format); err != nil {
		errs = append(errs, fmt.Errorf("[trace].format: %w", err))
	}
	if c.Trace.RingSize < 0 {
		errs = append(errs, fmt.Errorf("[trace].ring_size must not be negative, got %d", c.Trace.RingSize))
	}
	return errors.Join(errs...)
}

// UnitOptions translates the engine section into Unit options.
func (c Config) UnitOptions() ([]vlbdb.Option, error) {
	policy, err := vlbdb.ParseInlinePolicy(c.Engine.Inline)
	if err != nil {
		return nil, err
	}
	return []vlbdb.Option{
		vlbdb.WithInlinePolicy(policy),
		vlbdb.WithPasses(c.Engine.Passes...),
		vlbdb.WithMaxCallDepth(c.Engine.MaxCallDepth),
		vlbdb.WithMaxNesting(c.Engine.MaxNesting),
	}, nil
}

// TracerConfig translates the trace section.
func (c Config) TracerConfig() (trace.Config, error) {
	level, err := trace.ParseLevel(c.Trace.Level)
	if err != nil {
		return trace.Config{}, err
	}
	mode, err := trace.ParseMode(c.Trace.Mode)
	if err != nil {
		return trace.Config{}, err
	}
	format, err := trace.ParseFormat(c.Trace.Format)
	if err != nil {
		return trace.Config{}, err
	}
	return trace.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: c.Trace.Output,
		RingSize:   c.Trace.RingSize,
	}, nil
}
