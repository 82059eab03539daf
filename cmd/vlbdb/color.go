package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// toggle is an auto|on|off flag value; auto follows whether stdout is a
// terminal.
type toggle uint8

const (
	toggleAuto toggle = iota
	toggleOn
	toggleOff
)

func parseToggle(flag, value string) (toggle, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "auto":
		return toggleAuto, nil
	case "on":
		return toggleOn, nil
	case "off":
		return toggleOff, nil
	}
	return toggleAuto, fmt.Errorf("invalid --%s value %q (expected auto|on|off)", flag, value)
}

func (t toggle) enabled() bool {
	if t == toggleAuto {
		return isTerminal(os.Stdout)
	}
	return t == toggleOn
}

// applyColor sets fatih/color's global switch from --color.
func applyColor(cmd *cobra.Command, _ []string) error {
	value, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return err
	}
	t, err := parseToggle("color", value)
	if err != nil {
		return err
	}
	color.NoColor = !t.enabled()
	return nil
}
