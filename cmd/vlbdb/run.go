package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"vlbdb/internal/batch"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <module>",
	Short: "Specialize a function and call the result",
	Long: `Load a module (.vir text or .vbc bitcode), register its functions, bind the
leading arguments of --func from --bind/--arg and call the specialization
with the --call arguments.

Argument values accept integers, floats, "@name" for the address of a module
function and "str:text" for the address of a copy of text.`,
	Example: `  vlbdb run arith.vir --func add --bind %d --arg 42 --call 5`,
	Args:    cobra.ExactArgs(1),
	RunE:    runRun,
}

var specializeCmd = &cobra.Command{
	Use:     "specialize [flags] <module>",
	Short:   "Specialize a function and print the residual IR",
	Args:    cobra.ExactArgs(1),
	Example: `  vlbdb specialize pow.vir --func pow --bind "%d" --arg 5`,
	RunE:    runSpecialize,
}

func init() {
	for _, cmd := range []*cobra.Command{runCmd, specializeCmd} {
		cmd.Flags().String("func", "", "function to specialize")
		cmd.Flags().String("bind", "", "printf-style format of the bound arguments")
		cmd.Flags().StringArray("arg", nil, "value of a bound argument (repeatable)")
		cmd.Flags().StringArray("call", nil, "argument of the residual call (repeatable)")
		cmd.Flags().Int("budget", 0, "auto-specialization budget of --func (default from config)")
		cmd.Flags().Bool("stats", false, "print engine counters")
		cmd.Flags().Bool("timings", false, "print stage timings")
		_ = cmd.MarkFlagRequired("func")
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	return execJob(cmd, args[0], false)
}

func runSpecialize(cmd *cobra.Command, args []string) error {
	return execJob(cmd, args[0], true)
}

func execJob(cmd *cobra.Command, module string, dump bool) error {
	job, err := jobFromFlags(cmd, module)
	if err != nil {
		return err
	}
	job.Dump = dump
	if !dump && job.Call == nil {
		job.Call = []string{}
	}
	showStats, err := cmd.Flags().GetBool("stats")
	if err != nil {
		return err
	}
	showTimings, err := cmd.Flags().GetBool("timings")
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.cleanup()

	res := batch.RunJob(job, s.opts)
	out := cmd.OutOrStdout()
	if showTimings {
		defer res.Timings.WriteTo(cmd.ErrOrStderr()) //nolint:errcheck
	}
	if res.Residual != "" {
		fmt.Fprint(out, res.Residual)
	}
	if res.Output != "" {
		fmt.Fprint(out, res.Output)
	}
	if res.Err != nil {
		return res.Err
	}
	if res.Called {
		if dump {
			fmt.Fprintf(out, "; result: %d\n", int64(res.Value)) //nolint:gosec // G115: two's complement reinterpretation
		} else {
			fmt.Fprintln(out, int64(res.Value)) //nolint:gosec // G115: two's complement reinterpretation
		}
	}
	if showStats {
		writeStats(cmd.ErrOrStderr(), res)
	}
	return nil
}

func jobFromFlags(cmd *cobra.Command, module string) (batch.Job, error) {
	job := batch.Job{Name: module, Module: module}
	var err error
	if job.Func, err = cmd.Flags().GetString("func"); err != nil {
		return job, err
	}
	if job.Bind, err = cmd.Flags().GetString("bind"); err != nil {
		return job, err
	}
	if job.Args, err = cmd.Flags().GetStringArray("arg"); err != nil {
		return job, err
	}
	if cmd.Flags().Changed("call") {
		if job.Call, err = cmd.Flags().GetStringArray("call"); err != nil {
			return job, err
		}
	}
	if cmd.Flags().Changed("budget") {
		budget, err := cmd.Flags().GetInt("budget")
		if err != nil {
			return job, err
		}
		if budget < 0 {
			return job, fmt.Errorf("--budget must not be negative, got %d", budget)
		}
		job.Budget = &budget
	}
	return job, nil
}

var statsLabel = color.New(color.FgCyan)

func writeStats(w io.Writer, res batch.Result) {
	st := res.Stats
	rows := []struct {
		name  string
		value int
	}{
		{"registered", st.Registered},
		{"cache hits", st.Hits},
		{"cache misses", st.Misses},
		{"clones", st.Clones},
		{"folds", st.Folds},
		{"load folds", st.LoadFolds},
		{"calls rewritten", st.CallsRewritten},
		{"inlines", st.Inlines},
		{"compiled", st.Compiled},
		{"interned blobs", st.InternedBlobs},
		{"frozen ranges", st.FrozenRanges},
	}
	fmt.Fprintf(w, "%s %s\n", statsLabel.Sprintf("%-16s", "unit"), res.UnitID)
	for _, r := range rows {
		fmt.Fprintf(w, "%s %d\n", statsLabel.Sprintf("%-16s", r.name), r.value)
	}
	fmt.Fprintln(w, batch.ReportLine(res))
}
