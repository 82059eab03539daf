// Package loader reads a module from disk in either the textual or the
// bitcode format.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vlbdb/internal/bitcode"
	"vlbdb/internal/ir"
	"vlbdb/internal/irtext"
)

// Format identifies a module encoding.
type Format uint8

const (
	FormatText Format = iota
	FormatBitcode
)

func (f Format) String() string {
	if f == FormatBitcode {
		return "bitcode"
	}
	return "text"
}

// Detect picks the format of a module file. The magic wins over the
// extension.
func Detect(path string, data []byte) Format {
	if bitcode.IsBitcode(data) {
		return FormatBitcode
	}
	if strings.EqualFold(filepath.Ext(path), ".vbc") {
		return FormatBitcode
	}
	return FormatText
}

// Load reads and validates the module stored at path.
func Load(path string) (*ir.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m *ir.Module
	switch Detect(path, data) {
	case FormatBitcode:
		m, err = bitcode.Decode(bytes.NewReader(data))
		if err != nil {
			err = fmt.Errorf("%s: %w", path, err)
		}
	default:
		base := filepath.Base(path)
		m, err = irtext.Parse(strings.TrimSuffix(base, filepath.Ext(base)), data)
		var se *irtext.SyntaxError
		if errors.As(err, &se) {
			se.File = path
		}
	}
	if err != nil {
		return nil, err
	}
	if err := ir.Validate(m); err != nil {
		return nil, fmt.Errorf("%s: invalid module: %w", path, err)
	}
	return m, nil
}
