package main

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"vlbdb/internal/ir"
	"vlbdb/internal/version"
	"vlbdb/internal/vlbdb"
)

const versionTagline = "bind early, run fast"

// buildReport is what `vlbdb version` prints. Commit and Built stay empty
// unless requested.
type buildReport struct {
	Tool    string   `json:"tool"`
	Version string   `json:"version"`
	Tagline string   `json:"tagline"`
	Go      string   `json:"go"`
	Inline  string   `json:"inline"`
	Passes  []string `json:"passes"`
	Commit  string   `json:"git_commit,omitempty"`
	Built   string   `json:"build_date,omitempty"`
}

func newBuildReport(withCommit, withDate bool) buildReport {
	r := buildReport{
		Tool:    "vlbdb",
		Version: strings.TrimSpace(version.Version),
		Tagline: versionTagline,
		Go:      runtime.Version(),
		Inline:  vlbdb.InlineConservative.String(),
		Passes:  ir.DefaultPasses,
	}
	if r.Version == "" {
		r.Version = "dev"
	}
	if withCommit {
		r.Commit = orUnknown(version.GitCommit)
	}
	if withDate {
		r.Built = orUnknown(version.BuildDate)
	}
	return r
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "unknown"
	}
	return s
}

var toolColor = color.New(color.FgMagenta, color.Bold)

func (r buildReport) write(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "pretty", "":
	default:
		return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
	}
	fmt.Fprintf(w, "%s %s: %s\n", toolColor.Sprint(r.Tool), version.Colored(), r.Tagline)
	rows := [][2]string{
		{"go", r.Go},
		{"inline", r.Inline},
		{"passes", strings.Join(r.Passes, ",")},
		{"commit", r.Commit},
		{"built", r.Built},
	}
	for _, row := range rows {
		if row[1] != "" {
			fmt.Fprintf(w, "  %s %s\n", statsLabel.Sprintf("%-7s", row[0]), row[1])
		}
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show vlbdb build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()
		full, _ := flags.GetBool("full")
		hash, _ := flags.GetBool("hash")
		date, _ := flags.GetBool("date")
		format, _ := flags.GetString("format")
		return newBuildReport(hash || full, date || full).write(cmd.OutOrStdout(), format)
	},
}

func init() {
	versionCmd.Flags().Bool("hash", false, "include git commit hash")
	versionCmd.Flags().Bool("date", false, "include build timestamp")
	versionCmd.Flags().Bool("full", false, "include all build metadata")
	versionCmd.Flags().String("format", "pretty", "output format (pretty|json)")
}
