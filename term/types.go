// Package term implements the Erlang external term format: the tagged
// variant type that represents every value that can cross the
// distribution wire, and a streaming codec for the binary encoding
// defined by http://erlang.org/doc/apps/erts/erl_ext_dist.html.
package term

import (
	"fmt"
	"math/big"
)

// Term is implemented by every value the codec can encode or decode.
// It carries no behaviour beyond identifying itself for Equal/Compare;
// callers type-switch on the concrete type they expect.
type Term interface {
	fmt.Stringer
	isTerm()
}

// Atom is an Erlang atom: a name of at most 255 characters. Its UTF-8
// encoding may be longer than 255 bytes.
type Atom string

// Int is a machine-width signed integer. Values that do not fit are
// represented as BigInt instead.
type Int int64

// BigInt is an arbitrary-precision integer, used when a value exceeds
// the int64 range or when decoding a wire bignum tag.
type BigInt struct {
	*big.Int
}

// Float is an IEEE-754 64-bit float (wire tag 70, "NEW_FLOAT_EXT").
type Float float64

// Binary is an Erlang binary: an arbitrary byte sequence with no
// associated bit-length remainder.
type Binary []byte

// Bitstring is a binary whose last byte is only partially used.
// Bits is the number of significant bits in the final byte, 1..8;
// BitStringExt with Bits==8 is equivalent to a Binary, but the codec
// still encodes every Bitstring with the BIT_BINARY_EXT tag.
type Bitstring struct {
	Data []byte
	Bits uint8
}

// String is a bare Erlang string: on the wire, indistinguishable from
// a proper list of small integers (code points 0..255) except that the
// STRING_EXT tag is usually shorter. A STRING_EXT on the wire always
// decodes to a String; a LIST_EXT decodes to a String only when
// DecodeIntListsAsStrings is set. Encoding a List always uses the list
// tags, never STRING_EXT.
type String string

// List is an ordered sequence of terms with an optional improper tail.
// Tail is Nil (the empty list atom "[]"... represented here by the
// dedicated Nil type) for a proper list.
type List struct {
	Elements []Term
	Tail     Term
}

// Nil is the empty list, "[]". It is its own type rather than an empty
// List so that Nil round-trips through the dedicated NIL_EXT tag.
type Nil struct{}

// Tuple is a fixed-arity ordered sequence of terms.
type Tuple []Term

// Element returns the term at 1-based position i, matching Erlang
// tuple element numbering. It panics if i is out of range, mirroring
// the teacher's direct-index tuple access.
func (t Tuple) Element(i int) Term {
	return t[i-1]
}

// Map is an Erlang map. Key order is insignificant semantically but
// the codec must emit a stable order for a given Go map iteration, so
// Map stores keys and values as parallel slices built in encounter
// order (decode) or in a caller-supplied deterministic order (encode
// helpers sort by encoded key bytes, see encode.go).
type Map struct {
	Keys   []Term
	Values []Term
}

// Pid identifies a process: a node, a 15/28-bit id, a serial counter,
// and a creation tag distinguishing node incarnations.
type Pid struct {
	Node     Atom
	Id       uint32
	Serial   uint32
	Creation uint32
}

// Port identifies a port (a non-process I/O driver) on a node.
type Port struct {
	Node     Atom
	Id       uint32
	Creation uint32
}

// Ref is an Erlang reference: up to 3 id words plus a creation tag.
type Ref struct {
	Node     Atom
	Id       []uint32
	Creation uint32
}

// Fun is a closure reference (wire tags FUN_EXT/NEW_FUN_EXT).
type Fun struct {
	Pid     Pid
	Module  Atom
	Index   int32
	OldIndex int32
	Uniq    int32
	Arity   uint8
	MD5     [16]byte
	FreeVars []Term
}

// ExternalFun is a remote function reference by {module, function,
// arity}, wire tag EXPORT_EXT.
type ExternalFun struct {
	Module   Atom
	Function Atom
	Arity    uint8
}

func (Atom) isTerm()        {}
func (Int) isTerm()         {}
func (BigInt) isTerm()      {}
func (Float) isTerm()       {}
func (Binary) isTerm()      {}
func (Bitstring) isTerm()   {}
func (String) isTerm()      {}
func (List) isTerm()        {}
func (Nil) isTerm()         {}
func (Tuple) isTerm()       {}
func (Map) isTerm()         {}
func (Pid) isTerm()         {}
func (Port) isTerm()        {}
func (Ref) isTerm()         {}
func (Fun) isTerm()         {}
func (ExternalFun) isTerm() {}

func (a Atom) String() string { return string(a) }
func (i Int) String() string  { return fmt.Sprintf("%d", int64(i)) }
func (b BigInt) String() string {
	if b.Int == nil {
		return "0"
	}
	return b.Int.String()
}
func (f Float) String() string { return fmt.Sprintf("%g", float64(f)) }
func (b Binary) String() string { return fmt.Sprintf("<<%d bytes>>", len(b)) }
func (b Bitstring) String() string {
	return fmt.Sprintf("<<%d bytes, %d bits>>", len(b.Data), b.Bits)
}
func (s String) String() string { return string(s) }
func (l List) String() string {
	return fmt.Sprintf("%v", append(append([]Term{}, l.Elements...), l.Tail))
}
func (Nil) String() string { return "[]" }
func (t Tuple) String() string {
	return fmt.Sprintf("%v", []Term(t))
}
func (m Map) String() string { return fmt.Sprintf("#{%v => %v}", m.Keys, m.Values) }
func (p Pid) String() string {
	return fmt.Sprintf("<%s.%d.%d.%d>", p.Node, p.Creation, p.Id, p.Serial)
}
func (p Port) String() string {
	return fmt.Sprintf("#Port<%s.%d.%d>", p.Node, p.Creation, p.Id)
}
func (r Ref) String() string {
	return fmt.Sprintf("#Ref<%s.%v>", r.Node, r.Id)
}
func (f Fun) String() string {
	return fmt.Sprintf("#Fun<%s.%d.%d>", f.Module, f.Index, f.Uniq)
}
func (e ExternalFun) String() string {
	return fmt.Sprintf("fun %s:%s/%d", e.Module, e.Function, e.Arity)
}

// NewList builds a proper list from the given elements.
func NewList(elems ...Term) List {
	return List{Elements: elems, Tail: Nil{}}
}

// NewBigInt wraps a *big.Int as a Term.
func NewBigInt(v *big.Int) BigInt {
	return BigInt{Int: new(big.Int).Set(v)}
}
