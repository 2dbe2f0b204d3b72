package term

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"sort"
	"unicode/utf8"

	"github.com/klauspost/compress/flate"
)

// Encoder accumulates the wire bytes for one or more top-level terms.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns an Encoder with an empty buffer.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the accumulated wire bytes.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

// Encode writes a version tag followed by t's wire representation.
func (e *Encoder) Encode(t Term) error {
	e.buf.WriteByte(tagVersion)
	return e.encodeTerm(t)
}

// Encode is a convenience wrapper producing a standalone versioned
// payload for t.
func Encode(t Term) ([]byte, error) {
	enc := NewEncoder()
	if err := enc.Encode(t); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

// Decode parses a single versioned term from buf, returning the term
// and the number of bytes consumed.
func Decode(buf []byte, decodeIntListsAsStrings bool) (Term, int, error) {
	d := NewDecoder(buf)
	d.DecodeIntListsAsStrings = decodeIntListsAsStrings
	t, err := d.Decode()
	if err != nil {
		return nil, 0, err
	}
	return t, d.pos, nil
}

func (e *Encoder) writeUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) encodeTerm(t Term) error {
	switch v := t.(type) {
	case Atom:
		return e.encodeAtom(v)
	case Int:
		return e.encodeInt(int64(v))
	case BigInt:
		return e.encodeBig(v.Int)
	case Float:
		e.buf.WriteByte(tagNewFloat)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(float64(v)))
		e.buf.Write(b[:])
		return nil
	case Binary:
		e.buf.WriteByte(tagBinary)
		e.writeUint32(uint32(len(v)))
		e.buf.Write(v)
		return nil
	case Bitstring:
		e.buf.WriteByte(tagBitBinary)
		e.writeUint32(uint32(len(v.Data)))
		e.buf.WriteByte(v.Bits)
		e.buf.Write(v.Data)
		return nil
	case String:
		return e.encodeString(v)
	case List:
		return e.encodeList(v)
	case Nil:
		e.buf.WriteByte(tagNil)
		return nil
	case Tuple:
		return e.encodeTuple(v)
	case Map:
		return e.encodeMap(v)
	case Pid:
		return e.encodePid(v)
	case Port:
		return e.encodePort(v)
	case Ref:
		return e.encodeRef(v)
	case Fun:
		return e.encodeFun(v)
	case ExternalFun:
		return e.encodeExport(v)
	default:
		return fmt.Errorf("term: cannot encode %T", t)
	}
}

func (e *Encoder) encodeAtom(a Atom) error {
	s := string(a)
	if utf8.RuneCountInString(s) > 255 {
		return fmt.Errorf("term: atom %q exceeds 255 characters", s)
	}
	b := []byte(s)
	if len(b) < 256 {
		e.buf.WriteByte(tagSmallAtomUTF8)
		e.buf.WriteByte(byte(len(b)))
	} else {
		e.buf.WriteByte(tagAtomUTF8)
		e.writeUint16(uint16(len(b)))
	}
	e.buf.Write(b)
	return nil
}

// encodeInt picks the narrowest legal tag: small-int for 0..255, int
// for values that fit a signed 32-bit, otherwise a bignum (spec.md §8
// "Integer narrowing").
func (e *Encoder) encodeInt(n int64) error {
	switch {
	case n >= 0 && n <= 255:
		e.buf.WriteByte(tagSmallInt)
		e.buf.WriteByte(byte(n))
		return nil
	case n >= math.MinInt32 && n <= math.MaxInt32:
		e.buf.WriteByte(tagInt)
		e.writeUint32(uint32(int32(n)))
		return nil
	default:
		return e.encodeBig(big.NewInt(n))
	}
}

func (e *Encoder) encodeBig(v *big.Int) error {
	sign := byte(0)
	mag := new(big.Int).Set(v)
	if mag.Sign() < 0 {
		sign = 1
		mag.Neg(mag)
	}
	be := mag.Bytes() // big-endian, no leading zero byte beyond value
	le := make([]byte, len(be))
	for i, b := range be {
		le[len(be)-1-i] = b
	}
	if len(le) < 256 {
		e.buf.WriteByte(tagSmallBig)
		e.buf.WriteByte(byte(len(le)))
	} else {
		e.buf.WriteByte(tagLargeBig)
		e.writeUint32(uint32(len(le)))
	}
	e.buf.WriteByte(sign)
	e.buf.Write(le)
	return nil
}

func (e *Encoder) encodeString(s String) error {
	b := []byte(string(s))
	if len(b) > math.MaxUint16 {
		// STRING_EXT length is a 16-bit field; fall back to a list of
		// small integers, which has no such limit.
		elems := make([]Term, len(b))
		for i, c := range b {
			elems[i] = Int(c)
		}
		return e.encodeList(List{Elements: elems, Tail: Nil{}})
	}
	e.buf.WriteByte(tagString)
	e.writeUint16(uint16(len(b)))
	e.buf.Write(b)
	return nil
}

func (e *Encoder) encodeList(l List) error {
	if len(l.Elements) == 0 {
		if _, isNil := l.Tail.(Nil); isNil || l.Tail == nil {
			e.buf.WriteByte(tagNil)
			return nil
		}
	}
	e.buf.WriteByte(tagList)
	e.writeUint32(uint32(len(l.Elements)))
	for _, el := range l.Elements {
		if err := e.encodeTerm(el); err != nil {
			return err
		}
	}
	tail := l.Tail
	if tail == nil {
		tail = Nil{}
	}
	return e.encodeTerm(tail)
}

func (e *Encoder) encodeTuple(t Tuple) error {
	if len(t) < 256 {
		e.buf.WriteByte(tagSmallTuple)
		e.buf.WriteByte(byte(len(t)))
	} else {
		e.buf.WriteByte(tagLargeTuple)
		e.writeUint32(uint32(len(t)))
	}
	for _, el := range t {
		if err := e.encodeTerm(el); err != nil {
			return err
		}
	}
	return nil
}

// encodeMap writes pairs ordered by each key's own encoded byte
// representation, so that the same logical map always serializes
// identically regardless of the order Keys/Values were populated in
// (spec.md §8, "Encoding the map {...} twice yields byte-identical
// output").
func (e *Encoder) encodeMap(m Map) error {
	type pair struct {
		k, v []byte
	}
	pairs := make([]pair, len(m.Keys))
	for i := range m.Keys {
		kb, err := Encode(m.Keys[i])
		if err != nil {
			return err
		}
		vb, err := Encode(m.Values[i])
		if err != nil {
			return err
		}
		pairs[i] = pair{k: kb, v: vb}
	}
	sort.Slice(pairs, func(i, j int) bool {
		return bytes.Compare(pairs[i].k, pairs[j].k) < 0
	})
	e.buf.WriteByte(tagMap)
	e.writeUint32(uint32(len(pairs)))
	for _, p := range pairs {
		// strip the per-key version tag added by Encode() above; only
		// the outermost payload carries one.
		e.buf.Write(p.k[1:])
		e.buf.Write(p.v[1:])
	}
	return nil
}

func (e *Encoder) writeCreation(v uint32, wide bool) {
	if wide {
		e.writeUint32(v)
	} else {
		e.buf.WriteByte(byte(v))
	}
}

func (e *Encoder) encodePid(p Pid) error {
	e.buf.WriteByte(tagNewPid)
	if err := e.encodeAtom(p.Node); err != nil {
		return err
	}
	e.writeUint32(p.Id)
	e.writeUint32(p.Serial)
	e.writeCreation(p.Creation, true)
	return nil
}

func (e *Encoder) encodePort(p Port) error {
	e.buf.WriteByte(tagNewPort)
	if err := e.encodeAtom(p.Node); err != nil {
		return err
	}
	e.writeUint32(p.Id)
	e.writeCreation(p.Creation, true)
	return nil
}

func (e *Encoder) encodeRef(r Ref) error {
	e.buf.WriteByte(tagNewerReference)
	if err := e.encodeAtom(r.Node); err != nil {
		return err
	}
	e.writeUint16(uint16(len(r.Id)))
	for _, id := range r.Id {
		e.writeUint32(id)
	}
	e.writeCreation(r.Creation, true)
	return nil
}

func (e *Encoder) encodeFun(f Fun) error {
	e.buf.WriteByte(tagNewFun)
	// placeholder size, patched below
	sizePos := e.buf.Len()
	e.writeUint32(0)
	e.buf.WriteByte(f.Arity)
	e.buf.Write(f.MD5[:])
	e.writeUint32(uint32(f.Index))
	e.writeUint32(uint32(len(f.FreeVars)))
	if err := e.encodeAtom(f.Module); err != nil {
		return err
	}
	if err := e.encodeInt(int64(f.OldIndex)); err != nil {
		return err
	}
	if err := e.encodeInt(int64(f.Uniq)); err != nil {
		return err
	}
	if err := e.encodePid(f.Pid); err != nil {
		return err
	}
	for _, fv := range f.FreeVars {
		if err := e.encodeTerm(fv); err != nil {
			return err
		}
	}
	total := e.buf.Len() - sizePos + 1 // +1 for the tag byte already written
	b := e.buf.Bytes()
	binary.BigEndian.PutUint32(b[sizePos:sizePos+4], uint32(total))
	return nil
}

func (e *Encoder) encodeExport(f ExternalFun) error {
	e.buf.WriteByte(tagExport)
	if err := e.encodeAtom(f.Module); err != nil {
		return err
	}
	if err := e.encodeAtom(f.Function); err != nil {
		return err
	}
	return e.encodeInt(int64(f.Arity))
}

// EncodeCompressed writes a COMPRESSED_TERM wrapper (tag 80) around t,
// using DEFLATE at the given level (see compress/flate level
// constants). Used when a caller wants to shrink a large payload
// before handing it to the connection writer.
func EncodeCompressed(t Term, level int) ([]byte, error) {
	inner, err := Encode(t)
	if err != nil {
		return nil, err
	}
	// Strip the version byte Encode() adds; COMPRESSED_TERM's inflated
	// body is itself a bare term, no version tag of its own.
	inner = inner[1:]

	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(inner); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}

	out := make([]byte, 0, 6+buf.Len())
	out = append(out, tagVersion, tagCompressed)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(inner)))
	out = append(out, lenBuf[:]...)
	out = append(out, buf.Bytes()...)
	return out, nil
}
