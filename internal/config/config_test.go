package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"vlbdb/internal/config"
	"vlbdb/internal/ir"
	"vlbdb/internal/trace"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, config.FileName)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDiscover_WalksUp(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, root, `
[engine]
default_budget = 2
inline = "aggressive"
passes = ["sccp", "adce"]

[trace]
level = "phase"
output = "trace.ndjson"
`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Discover(nested)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Path != path {
		t.Fatalf("Path = %q, want %q", cfg.Path, path)
	}
	if cfg.Engine.DefaultBudget != 2 || cfg.Engine.Inline != "aggressive" || !slices.Equal(cfg.Engine.Passes, []string{"sccp", "adce"}) {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	// unset keys keep their defaults
	if cfg.Engine.MaxCallDepth != config.Default().Engine.MaxCallDepth || cfg.Trace.Mode != "stream" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	tc, err := cfg.TracerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if tc.Level != trace.LevelPhase || tc.OutputPath != "trace.ndjson" || tc.Format != trace.FormatAuto {
		t.Fatalf("tracer config = %+v", tc)
	}
	opts, err := cfg.UnitOptions()
	if err != nil || len(opts) == 0 {
		t.Fatalf("UnitOptions = %d, %v", len(opts), err)
	}
}

func TestDiscover_Defaults(t *testing.T) {
	dir := t.TempDir()
	if _, ok, err := config.Find(dir); err != nil || ok {
		// a stray vlbdb.toml above the temp dir would make this ambiguous
		t.Skipf("config found above %s", dir)
	}
	cfg, err := config.Discover(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Path != "" || !slices.Equal(cfg.Engine.Passes, ir.DefaultPasses) || cfg.Engine.Inline != "conservative" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"syntax", "[engine\n", []string{"failed to parse TOML"}},
		{"unknown key", "[engine]\nturbo = true\n", []string{"unknown keys", "engine.turbo"}},
		{"enums", "[engine]\ninline = \"eager\"\n[trace]\nlevel = \"loud\"\nmode = \"tape\"\n",
			[]string{"[engine].inline", "[trace].level", "[trace].mode"}},
		{"pass", "[engine]\npasses = [\"sccp\", \"licm\"]\n", []string{"unknown pass \"licm\""}},
		{"ranges", "[engine]\ndefault_budget = -1\nmax_call_depth = 0\n", []string{"default_budget", "max_call_depth"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			_, err := config.Load(path)
			if err == nil {
				t.Fatalf("Load succeeded")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Fatalf("error %q lacks %q", err, w)
				}
			}
		})
	}
}
