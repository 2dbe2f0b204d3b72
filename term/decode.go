package term

import (
	"encoding/binary"
	"io"
	"math"
	"math/big"

	"github.com/klauspost/compress/flate"
)

// Decoder reads Erlang terms from an in-memory buffer. The distribution
// connection frames messages with a length prefix before handing the
// body to the decoder, so the codec itself
// only needs slice-relative mark/reset rather than a general seekable
// stream.
type Decoder struct {
	buf []byte
	pos int

	// DecodeIntListsAsStrings makes Decode prefer the String variant
	// when a list tag (108) decodes to a proper list containing only
	// byte-sized integers. Otherwise the elements, already decoded in
	// the same pass, are returned as a List (spec.md §4.1, §8).
	DecodeIntListsAsStrings bool
}

// NewDecoder wraps buf for decoding. buf is not copied; callers must
// not mutate it while decoding is in progress.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining reports how many bytes have not yet been consumed.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

// Decode reads one top-level term, consuming a leading version tag
// (131) if present.
func (d *Decoder) Decode() (Term, error) {
	if d.Remaining() > 0 && d.buf[d.pos] == tagVersion {
		d.pos++
	}
	return d.decodeTerm()
}

// Mark returns the current read position, for later Reset. This is the
// "mark/reset facility" spec.md §4.1 requires of the reader.
func (d *Decoder) Mark() int { return d.pos }

// Reset rewinds the decoder to a position previously returned by Mark.
func (d *Decoder) Reset(pos int) { d.pos = pos }

func (d *Decoder) readByte() (byte, error) {
	if d.Remaining() < 1 {
		return 0, io.ErrUnexpectedEOF
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) readN(n int) ([]byte, error) {
	if d.Remaining() < n {
		return nil, io.ErrUnexpectedEOF
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) readUint16() (uint16, error) {
	b, err := d.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *Decoder) readUint32() (uint32, error) {
	b, err := d.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *Decoder) decodeTerm() (Term, error) {
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagSmallInt:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return Int(b), nil

	case tagInt:
		b, err := d.readN(4)
		if err != nil {
			return nil, err
		}
		return Int(int32(binary.BigEndian.Uint32(b))), nil

	case tagSmallBig, tagLargeBig:
		return d.decodeBig(tag)

	case tagNewFloat:
		b, err := d.readN(8)
		if err != nil {
			return nil, err
		}
		bits := binary.BigEndian.Uint64(b)
		return Float(math.Float64frombits(bits)), nil

	case tagAtom:
		n, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		b, err := d.readN(int(n))
		if err != nil {
			return nil, err
		}
		return Atom(latin1ToUTF8(b)), nil

	case tagAtomUTF8:
		n, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		b, err := d.readN(int(n))
		if err != nil {
			return nil, err
		}
		return Atom(string(b)), nil

	case tagSmallAtomUTF8:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		b, err := d.readN(int(n))
		if err != nil {
			return nil, err
		}
		return Atom(string(b)), nil

	case tagSmallTuple, tagLargeTuple:
		return d.decodeTuple(tag)

	case tagNil:
		return Nil{}, nil

	case tagString:
		n, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		b, err := d.readN(int(n))
		if err != nil {
			return nil, err
		}
		return String(latin1ToUTF8(b)), nil

	case tagList:
		return d.decodeList()

	case tagBinary:
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		b, err := d.readN(int(n))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return Binary(out), nil

	case tagBitBinary:
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		bits, err := d.readByte()
		if err != nil {
			return nil, err
		}
		b, err := d.readN(int(n))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return Bitstring{Data: out, Bits: bits}, nil

	case tagMap:
		return d.decodeMap()

	case tagPid, tagNewPid:
		return d.decodePid(tag)

	case tagPort, tagNewPort:
		return d.decodePort(tag)

	case tagReference, tagNewReference, tagNewerReference:
		return d.decodeRef(tag)

	case tagFun:
		return d.decodeFun()

	case tagNewFun:
		return d.decodeNewFun()

	case tagExport:
		return d.decodeExport()

	case tagCompressed:
		return d.decodeCompressed()

	default:
		return nil, newDecodeError(tag, "unknown tag")
	}
}

func (d *Decoder) decodeBig(tag byte) (Term, error) {
	var arity int
	if tag == tagSmallBig {
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		arity = int(b)
	} else {
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		arity = int(n)
	}
	sign, err := d.readByte()
	if err != nil {
		return nil, err
	}
	mag, err := d.readN(arity)
	if err != nil {
		return nil, err
	}
	// Wire magnitude is little-endian; big.Int wants big-endian.
	be := make([]byte, arity)
	for i, b := range mag {
		be[arity-1-i] = b
	}
	v := new(big.Int).SetBytes(be)
	if sign != 0 {
		v.Neg(v)
	}
	return normalizeBig(v), nil
}

// normalizeBig returns an Int when the value fits in an int64, else a
// BigInt, so small bignums round-trip through the narrowest Go type
// while the wire form (small-big/large-big) is still whatever the
// sender chose.
func normalizeBig(v *big.Int) Term {
	if v.IsInt64() {
		return Int(v.Int64())
	}
	return NewBigInt(v)
}

func (d *Decoder) decodeTuple(tag byte) (Term, error) {
	var arity int
	if tag == tagSmallTuple {
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		arity = int(b)
	} else {
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		arity = int(n)
	}
	elems := make(Tuple, arity)
	for i := 0; i < arity; i++ {
		t, err := d.decodeTerm()
		if err != nil {
			return nil, err
		}
		elems[i] = t
	}
	return elems, nil
}

func (d *Decoder) decodeList() (Term, error) {
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	elems := make([]Term, n)
	allByte := true
	for i := 0; i < int(n); i++ {
		t, err := d.decodeTerm()
		if err != nil {
			return nil, err
		}
		elems[i] = t
		if iv, ok := t.(Int); !ok || iv < 0 || iv > 255 {
			allByte = false
		}
	}
	tail, err := d.decodeTerm()
	if err != nil {
		return nil, err
	}
	if d.DecodeIntListsAsStrings && allByte {
		if _, isNil := tail.(Nil); isNil {
			b := make([]byte, n)
			for i, t := range elems {
				b[i] = byte(t.(Int))
			}
			return String(string(b)), nil
		}
	}
	return List{Elements: elems, Tail: tail}, nil
}

func (d *Decoder) decodeMap() (Term, error) {
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	keys := make([]Term, n)
	values := make([]Term, n)
	for i := 0; i < int(n); i++ {
		k, err := d.decodeTerm()
		if err != nil {
			return nil, err
		}
		v, err := d.decodeTerm()
		if err != nil {
			return nil, err
		}
		keys[i] = k
		values[i] = v
	}
	return Map{Keys: keys, Values: values}, nil
}

func (d *Decoder) readCreation(wide bool) (uint32, error) {
	if wide {
		return d.readUint32()
	}
	b, err := d.readByte()
	if err != nil {
		return 0, err
	}
	return uint32(b), nil
}

func (d *Decoder) decodePid(tag byte) (Term, error) {
	node, err := d.decodeTerm()
	if err != nil {
		return nil, err
	}
	nodeAtom, ok := node.(Atom)
	if !ok {
		return nil, newDecodeError(tag, "pid node is not an atom")
	}
	id, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	serial, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	creation, err := d.readCreation(tag == tagNewPid)
	if err != nil {
		return nil, err
	}
	return Pid{Node: nodeAtom, Id: id, Serial: serial, Creation: creation}, nil
}

func (d *Decoder) decodePort(tag byte) (Term, error) {
	node, err := d.decodeTerm()
	if err != nil {
		return nil, err
	}
	nodeAtom, ok := node.(Atom)
	if !ok {
		return nil, newDecodeError(tag, "port node is not an atom")
	}
	id, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	creation, err := d.readCreation(tag == tagNewPort)
	if err != nil {
		return nil, err
	}
	return Port{Node: nodeAtom, Id: id, Creation: creation}, nil
}

func (d *Decoder) decodeRef(tag byte) (Term, error) {
	node, err := d.decodeTerm()
	if err != nil {
		return nil, err
	}
	nodeAtom, ok := node.(Atom)
	if !ok {
		return nil, newDecodeError(tag, "ref node is not an atom")
	}
	var numIds int
	switch tag {
	case tagReference:
		numIds = 1
	default:
		n, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		numIds = int(n)
	}
	wide := tag == tagNewerReference
	ids := make([]uint32, numIds)
	for i := 0; i < numIds; i++ {
		ids[i], err = d.readUint32()
		if err != nil {
			return nil, err
		}
	}
	creation, err := d.readCreation(wide)
	if err != nil {
		return nil, err
	}
	return Ref{Node: nodeAtom, Id: ids, Creation: creation}, nil
}

func (d *Decoder) decodeFun() (Term, error) {
	numFree, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	pidTerm, err := d.decodeTerm()
	if err != nil {
		return nil, err
	}
	pid, ok := pidTerm.(Pid)
	if !ok {
		return nil, newDecodeError(tagFun, "fun creator is not a pid")
	}
	moduleTerm, err := d.decodeTerm()
	if err != nil {
		return nil, err
	}
	module, _ := moduleTerm.(Atom)
	indexTerm, err := d.decodeTerm()
	if err != nil {
		return nil, err
	}
	uniqTerm, err := d.decodeTerm()
	if err != nil {
		return nil, err
	}
	free := make([]Term, numFree)
	for i := range free {
		free[i], err = d.decodeTerm()
		if err != nil {
			return nil, err
		}
	}
	oldIndex, err := ToInt32(indexTerm)
	if err != nil {
		return nil, err
	}
	uniq, err := ToInt32(uniqTerm)
	if err != nil {
		return nil, err
	}
	return Fun{
		Pid:      pid,
		Module:   module,
		OldIndex: oldIndex,
		Uniq:     uniq,
		FreeVars: free,
	}, nil
}

func (d *Decoder) decodeNewFun() (Term, error) {
	_, err := d.readUint32() // total size, recomputed on encode
	if err != nil {
		return nil, err
	}
	arity, err := d.readByte()
	if err != nil {
		return nil, err
	}
	var md5 [16]byte
	b, err := d.readN(16)
	if err != nil {
		return nil, err
	}
	copy(md5[:], b)
	index, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	numFree, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	moduleTerm, err := d.decodeTerm()
	if err != nil {
		return nil, err
	}
	module, _ := moduleTerm.(Atom)
	oldIndexTerm, err := d.decodeTerm()
	if err != nil {
		return nil, err
	}
	uniqTerm, err := d.decodeTerm()
	if err != nil {
		return nil, err
	}
	pidTerm, err := d.decodeTerm()
	if err != nil {
		return nil, err
	}
	pid, _ := pidTerm.(Pid)
	free := make([]Term, numFree)
	for i := range free {
		free[i], err = d.decodeTerm()
		if err != nil {
			return nil, err
		}
	}
	oldIndex, err := ToInt32(oldIndexTerm)
	if err != nil {
		return nil, err
	}
	uniq, err := ToInt32(uniqTerm)
	if err != nil {
		return nil, err
	}
	return Fun{
		Pid:      pid,
		Module:   module,
		Index:    int32(index),
		OldIndex: oldIndex,
		Uniq:     uniq,
		Arity:    arity,
		MD5:      md5,
		FreeVars: free,
	}, nil
}

func (d *Decoder) decodeExport() (Term, error) {
	moduleTerm, err := d.decodeTerm()
	if err != nil {
		return nil, err
	}
	funcTerm, err := d.decodeTerm()
	if err != nil {
		return nil, err
	}
	arityTerm, err := d.decodeTerm()
	if err != nil {
		return nil, err
	}
	module, _ := moduleTerm.(Atom)
	function, _ := funcTerm.(Atom)
	arity, err := ToUint8(arityTerm)
	if err != nil {
		return nil, err
	}
	return ExternalFun{Module: module, Function: function, Arity: arity}, nil
}

func (d *Decoder) decodeCompressed() (Term, error) {
	uncompressedLen, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	rest := d.buf[d.pos:]
	fr := flate.NewReader(&byteReader{rest})
	out := make([]byte, uncompressedLen)
	if _, err := io.ReadFull(fr, out); err != nil {
		return nil, newDecodeError(tagCompressed, "inflate: %v", err)
	}
	fr.Close()
	inner := NewDecoder(out)
	inner.DecodeIntListsAsStrings = d.DecodeIntListsAsStrings
	t, err := inner.decodeTerm()
	if err != nil {
		return nil, err
	}
	// advance outer position past however much of rest the flate
	// reader actually consumed; since distribution frames are
	// self-contained, the compressed term is always the remainder of
	// the buffer, so advance to the end.
	d.pos = len(d.buf)
	return t, nil
}

// byteReader adapts a []byte to io.Reader without copying, for the
// flate reader which reads sequentially and never seeks. Read must
// have a pointer receiver: it advances r.b between calls, and a value
// receiver would mutate only its own copy, silently re-reading the
// same bytes once bufio.Reader (which flate.NewReader wraps non-
// io.ByteReader sources in) issues a second Read past its 4096-byte
// buffer.
type byteReader struct{ b []byte }

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}

func latin1ToUTF8(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}
