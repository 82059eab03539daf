package jit

import (
	"bytes"
	"fmt"
	"io"

	"vlbdb/internal/mem"
)

// maxCString bounds NUL-terminated string reads.
const maxCString = 1 << 16

// BindStandardHosts binds a small libc-like set of functions writing to w:
// putchar, puts, print_i64 and abort.
func (e *Engine) BindStandardHosts(w io.Writer) {
	e.BindHost("putchar", func(_ *Engine, args []uint64) (uint64, error) {
		_, err := w.Write([]byte{byte(args[0])})
		return args[0] & 0xffffffff, err
	})
	e.BindHost("puts", func(e *Engine, args []uint64) (uint64, error) {
		s, err := e.ReadCString(args[0])
		if err != nil {
			return 0, err
		}
		_, err = fmt.Fprintln(w, s)
		return 0, err
	})
	e.BindHost("print_i64", func(_ *Engine, args []uint64) (uint64, error) {
		_, err := fmt.Fprintln(w, int64(args[0])) //nolint:gosec // G115: two's complement reinterpretation
		return 0, err
	})
	e.BindHost("abort", func(_ *Engine, _ []uint64) (uint64, error) {
		return 0, &Fault{Reason: "abort called"}
	})
}

// ReadCString reads a NUL-terminated string at addr.
func (e *Engine) ReadCString(addr mem.Addr) (string, error) {
	var buf bytes.Buffer
	for i := range mem.Addr(maxCString) {
		b, err := e.space.LoadUint(addr+i, 1)
		if err != nil {
			return "", err
		}
		if b == 0 {
			return buf.String(), nil
		}
		buf.WriteByte(byte(b))
	}
	return "", fmt.Errorf("string at %#x exceeds %d bytes", addr, maxCString)
}
