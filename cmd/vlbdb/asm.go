package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"vlbdb/internal/bitcode"
	"vlbdb/internal/ir"
	"vlbdb/internal/loader"
)

var asmCmd = &cobra.Command{
	Use:   "asm [flags] <module.vir>",
	Short: "Assemble a text module into bitcode",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsm,
}

var disCmd = &cobra.Command{
	Use:   "dis [flags] <module.vbc>",
	Short: "Print a module as text",
	Args:  cobra.ExactArgs(1),
	RunE:  runDis,
}

func init() {
	asmCmd.Flags().StringP("output", "o", "", "output path (default: input with .vbc extension)")
	disCmd.Flags().StringP("output", "o", "", "output path (default: stdout)")
}

func runAsm(cmd *cobra.Command, args []string) error {
	in := args[0]
	out, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	if out == "" {
		out = strings.TrimSuffix(in, filepath.Ext(in)) + ".vbc"
	}
	if filepath.Clean(out) == filepath.Clean(in) {
		return fmt.Errorf("output %q would overwrite the input", out)
	}
	mod, err := loader.Load(in)
	if err != nil {
		return err
	}
	if err := bitcode.WriteFile(out, mod); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	return nil
}

func runDis(cmd *cobra.Command, args []string) error {
	mod, err := loader.Load(args[0])
	if err != nil {
		return err
	}
	out, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	if out == "" {
		return ir.Print(cmd.OutOrStdout(), mod)
	}
	if err := os.WriteFile(out, []byte(ir.ModuleString(mod)), 0o644); err != nil { //nolint:gosec // module text is not secret
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	return nil
}
