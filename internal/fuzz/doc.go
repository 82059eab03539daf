// Package fuzztests houses Go fuzz harnesses for the input surfaces of the
// engine: the IR text parser, the bitcode decoder and bind format strings.
// They guard against panics and hangs on arbitrary input and check that
// anything accepted survives a round trip.
package fuzztests
