// Package bitcode stores modules in a compact binary container: a four byte
// magic followed by a msgpack encoded payload.
package bitcode

import "vlbdb/internal/ir"

// Magic opens every bitcode file.
const Magic = "VBC\x00"

// SchemaVersion is bumped whenever the payload layout changes.
const SchemaVersion uint16 = 1

type payload struct {
	Schema  uint16       `msgpack:"v"`
	Name    string       `msgpack:"n"`
	Globals []globalData `msgpack:"g"`
	Funcs   []funcData   `msgpack:"f"`
}

type globalData struct {
	Name     string `msgpack:"n"`
	Data     []byte `msgpack:"d"`
	Constant bool   `msgpack:"c"`
	Internal bool   `msgpack:"i"`
}

type typeData struct {
	Kind uint8 `msgpack:"k"`
	Bits uint8 `msgpack:"b"`
}

type sigData struct {
	Params   []typeData `msgpack:"p"`
	Result   typeData   `msgpack:"r"`
	Variadic bool       `msgpack:"v"`
}

type funcData struct {
	Name     string      `msgpack:"n"`
	Internal bool        `msgpack:"i"`
	Sig      sigData     `msgpack:"s"`
	Params   []string    `msgpack:"p"`
	Blocks   []blockData `msgpack:"b"`
}

type blockData struct {
	Label  string      `msgpack:"l"`
	Instrs []instrData `msgpack:"i"`
	Term   termData    `msgpack:"t"`
}

type instrData struct {
	Op       uint8         `msgpack:"o"`
	Ty       typeData      `msgpack:"t"`
	Label    string        `msgpack:"l,omitempty"`
	Pred     uint8         `msgpack:"p,omitempty"`
	Args     []operandData `msgpack:"a"`
	Callee   *operandData  `msgpack:"c,omitempty"`
	Sig      *sigData      `msgpack:"s,omitempty"`
	Incoming []int         `msgpack:"in,omitempty"`
}

type termData struct {
	Kind  uint8        `msgpack:"k"`
	Value *operandData `msgpack:"v,omitempty"`
	Then  int          `msgpack:"t"`
	Else  int          `msgpack:"e"`
}

const (
	operandParam uint8 = iota
	operandInstr
	operandConst
)

// operandData names a value: a parameter index, an instruction index in
// layout order, or an inline constant.
type operandData struct {
	Kind  uint8      `msgpack:"k"`
	Index int        `msgpack:"i,omitempty"`
	Const *constData `msgpack:"c,omitempty"`
}

type constData struct {
	Kind   uint8      `msgpack:"k"`
	Ty     typeData   `msgpack:"t"`
	Bits   uint64     `msgpack:"b,omitempty"`
	Symbol string     `msgpack:"s,omitempty"`
	Offset int64      `msgpack:"o,omitempty"`
	Op     uint8      `msgpack:"op,omitempty"`
	Inner  *constData `msgpack:"in,omitempty"`
}

func encodeType(t ir.Type) typeData { return typeData{Kind: uint8(t.Kind), Bits: t.Bits} }

func decodeType(t typeData) ir.Type { return ir.Type{Kind: ir.TypeKind(t.Kind), Bits: t.Bits} }

func encodeSig(s ir.Signature) sigData {
	out := sigData{Result: encodeType(s.Result), Variadic: s.Variadic}
	for _, p := range s.Params {
		out.Params = append(out.Params, encodeType(p))
	}
	return out
}

func decodeSig(s sigData) ir.Signature {
	out := ir.Signature{Result: decodeType(s.Result), Variadic: s.Variadic}
	for _, p := range s.Params {
		out.Params = append(out.Params, decodeType(p))
	}
	return out
}
