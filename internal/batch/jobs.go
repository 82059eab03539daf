// Package batch runs independent specialization jobs described in a TOML
// file, one unit per job.
package batch

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"vlbdb/internal/bindf"
)

// File is a parsed jobs file.
type File struct {
	Path string `toml:"-"`
	// Workers caps parallelism; zero means GOMAXPROCS.
	Workers int   `toml:"workers"`
	Jobs    []Job `toml:"job"`
}

// Job specializes one function and optionally calls the result. Budget
// overrides Options.DefaultBudget. Call holds the arguments of the residual
// call; no call is made when it is absent.
type Job struct {
	Name   string   `toml:"name"`
	Module string   `toml:"module"`
	Func   string   `toml:"func"`
	Budget *int     `toml:"budget"`
	Bind   string   `toml:"bind"`
	Args   []string `toml:"args"`
	Call   []string `toml:"call"`
	Expect *int64   `toml:"expect"`
	Dump   bool     `toml:"dump"`
}

// LoadFile reads a jobs file. Module paths are resolved against the file's
// directory.
func LoadFile(path string) (*File, error) {
	var f File
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	f.Path = path
	base := filepath.Dir(path)
	for i := range f.Jobs {
		if m := f.Jobs[i].Module; m != "" && !filepath.IsAbs(m) {
			f.Jobs[i].Module = filepath.Join(base, filepath.FromSlash(m))
		}
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}

// Validate reports every malformed job.
func (f *File) Validate() error {
	var errs []error
	if f.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", f.Workers))
	}
	if len(f.Jobs) == 0 {
		errs = append(errs, errors.New("no [[job]] entries"))
	}
	seen := make(map[string]bool, len(f.Jobs))
	for i, j := range f.Jobs {
		label := fmt.Sprintf("job %d", i+1)
		if j.Name != "" {
			label = fmt.Sprintf("job %q", j.Name)
		}
		switch {
		case j.Name == "":
			errs = append(errs, fmt.Errorf("%s: missing name", label))
		case seen[j.Name]:
			errs = append(errs, fmt.Errorf("%s: duplicate name", label))
		}
		seen[j.Name] = true
		if j.Module == "" {
			errs = append(errs, fmt.Errorf("%s: missing module", label))
		}
		if j.Func == "" {
			errs = append(errs, fmt.Errorf("%s: missing func", label))
		}
		if j.Budget != nil && *j.Budget < 0 {
			errs = append(errs, fmt.Errorf("%s: negative budget", label))
		}
		if _, err := bindf.ParseArgs(j.Bind, j.Args); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
		if j.Expect != nil && j.Call == nil {
			errs = append(errs, fmt.Errorf("%s: expect without call", label))
		}
	}
	return errors.Join(errs...)
}

// Names lists the job names in file order.
func (f *File) Names() []string {
	out := make([]string, len(f.Jobs))
	for i, j := range f.Jobs {
		out[i] = j.Name
	}
	return out
}
