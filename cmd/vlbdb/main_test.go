package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const arithSrc = `
define i64 @add(i64 %x, i64 %y) {
entry:
  %r = add i64 %x, %y
  ret i64 %r
}
`

func writeFixture(t *testing.T) (dir, module, cfg string) {
	t.Helper()
	dir = t.TempDir()
	module = filepath.Join(dir, "arith.vir")
	if err := os.WriteFile(module, []byte(arithSrc), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg = filepath.Join(dir, "vlbdb.toml")
	if err := os.WriteFile(cfg, []byte("[engine]\ninline = \"conservative\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir, module, cfg
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	_, module, cfg := writeFixture(t)
	out, err := execute(t, "run", module, "--config", cfg, "--color", "off",
		"--func", "add", "--bind", "%d", "--arg", "42", "--call", "5")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "47" {
		t.Fatalf("output = %q, want 47", out)
	}
}

func TestSpecializeCommand(t *testing.T) {
	_, module, cfg := writeFixture(t)
	out, err := execute(t, "specialize", module, "--config", cfg, "--color", "off",
		"--func", "add", "--bind", "%d", "--arg", "42")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "define") || !strings.Contains(out, "42") {
		t.Fatalf("residual IR missing:\n%s", out)
	}
}

func TestAsmDis(t *testing.T) {
	dir, module, cfg := writeFixture(t)
	vbc := filepath.Join(dir, "out.vbc")
	if _, err := execute(t, "asm", module, "-o", vbc, "--config", cfg); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "dis", vbc, "--config", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "define i64 @add(") {
		t.Fatalf("dis output:\n%s", out)
	}
}

func TestParseToggle(t *testing.T) {
	tests := []struct {
		in      string
		want    toggle
		wantErr bool
	}{
		{"", toggleAuto, false},
		{"AUTO", toggleAuto, false},
		{" on ", toggleOn, false},
		{"off", toggleOff, false},
		{"sometimes", toggleAuto, true},
	}
	for _, tt := range tests {
		got, err := parseToggle("ui", tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseToggle(%q) = %v, %v", tt.in, got, err)
		}
	}
	if !toggleOn.enabled() || toggleOff.enabled() {
		t.Fatal("explicit modes ignored")
	}
}

func TestVersionJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := newBuildReport(true, false).write(&buf, "json"); err != nil {
		t.Fatal(err)
	}
	var got buildReport
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Tool != "vlbdb" || got.Commit == "" || got.Built != "" || got.Inline != "conservative" || len(got.Passes) == 0 {
		t.Fatalf("report = %+v", got)
	}
	if err := newBuildReport(false, false).write(&buf, "yaml"); err == nil {
		t.Fatal("unknown format accepted")
	}
}
