package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"vlbdb/internal/batch"
)

var batchCmd = &cobra.Command{
	Use:   "batch [flags] <jobs.toml>",
	Short: "Run independent specialization jobs in parallel",
	Long: `Run every [[job]] of a jobs file on its own unit. Each job names a module,
a function, a bind format with its arguments and, optionally, the arguments
of a residual call and the expected result:

  workers = 4

  [[job]]
  name = "add42"
  module = "arith.vir"
  func = "add"
  bind = "%d"
  args = ["42"]
  call = ["5"]
  expect = 47`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntP("jobs", "j", 0, "max parallel jobs (default: file setting, then GOMAXPROCS)")
	batchCmd.Flags().String("ui", "auto", "progress UI mode (auto|on|off)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	workers, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return err
	}
	uiFlag, err := cmd.Flags().GetString("ui")
	if err != nil {
		return err
	}
	ui, err := parseToggle("ui", uiFlag)
	if err != nil {
		return err
	}

	f, err := batch.LoadFile(args[0])
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.cleanup()

	opts := s.opts
	opts.Workers = workers
	var results []batch.Result
	if ui.enabled() {
		results, err = runBatchWithUI(cmd.Context(), filepath.Base(args[0]), f, opts)
	} else {
		opts.Progress = newLineSink(cmd.ErrOrStderr())
		results, err = batch.Run(cmd.Context(), f, opts)
	}
	if err != nil {
		return err
	}
	if err := batch.WriteReport(cmd.OutOrStdout(), results); err != nil {
		return err
	}
	if n := batch.Failed(results); n > 0 {
		return fmt.Errorf("%d of %d jobs failed", n, len(results))
	}
	return nil
}
