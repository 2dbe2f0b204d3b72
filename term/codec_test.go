package term

import (
	"math"
	"math/big"
	"testing"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v Term) Term {
	t.Helper()
	buf, err := Encode(v)
	require.NoError(t, err)
	got, n, err := Decode(buf, false)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	return got
}

func TestRoundTripAtomsAndInts(t *testing.T) {
	cases := []Term{
		Atom("ok"),
		Atom(""),
		Int(0),
		Int(255),
		Int(256),
		Int(-1),
		Int(1<<31 - 1),
		Int(-(1 << 31)),
	}
	for _, c := range cases {
		got := roundTrip(t, c)
		require.True(t, Equal(c, got), "round trip mismatch for %v, got %v", c, got)
	}
}

func TestRoundTripUTF8Atom(t *testing.T) {
	a := Atom("cyclone\U0001F300")
	got := roundTrip(t, a)
	require.True(t, Equal(a, got))
	buf, err := Encode(a)
	require.NoError(t, err)
	require.Contains(t, []byte{tagSmallAtomUTF8, tagAtomUTF8}, buf[1])
}

func TestBignumBoundary(t *testing.T) {
	for _, bits := range []int{8 * 254, 8 * 255, 8 * 256, 1000, 2040} {
		for _, sign := range []int{1, -1} {
			v := new(big.Int).Lsh(big.NewInt(1), uint(bits))
			v.Mul(v, big.NewInt(int64(sign)))
			got := roundTrip(t, NewBigInt(v))
			var gv *big.Int
			switch x := got.(type) {
			case BigInt:
				gv = x.Int
			case Int:
				gv = big.NewInt(int64(x))
			default:
				t.Fatalf("unexpected type %T", got)
			}
			require.Zero(t, v.Cmp(gv), "bit width %d sign %d: want %v got %v", bits, sign, v, gv)
		}
	}
}

func TestIntegerNarrowing(t *testing.T) {
	check := func(n int64, wantTag byte) {
		buf, err := Encode(Int(n))
		require.NoError(t, err)
		require.Equal(t, wantTag, buf[1], "n=%d", n)
	}
	check(0, tagSmallInt)
	check(255, tagSmallInt)
	check(256, tagInt)
	check(-1, tagInt)
	check(math.MaxInt32, tagInt)
	check(math.MinInt32, tagInt)

	big1 := new(big.Int).Lsh(big.NewInt(1), 40)
	buf, err := Encode(NewBigInt(big1))
	require.NoError(t, err)
	require.Equal(t, tagSmallBig, buf[1])
}

func TestListOfBytesDecodeIntListsAsStrings(t *testing.T) {
	elems := make([]Term, 256)
	for i := range elems {
		elems[i] = Int(0)
	}
	l := List{Elements: elems, Tail: Nil{}}
	buf, err := Encode(l)
	require.NoError(t, err)
	require.Equal(t, tagList, buf[1])

	gotOff, _, err := Decode(buf, false)
	require.NoError(t, err)
	if _, ok := gotOff.(List); !ok {
		t.Fatalf("expected List with flag off, got %T", gotOff)
	}

	gotOn, _, err := Decode(buf, true)
	require.NoError(t, err)
	s, ok := gotOn.(String)
	require.True(t, ok, "expected String with flag on, got %T", gotOn)

	reenc, err := Encode(s)
	require.NoError(t, err)
	back, _, err := Decode(reenc, false)
	require.NoError(t, err)
	require.True(t, Equal(l, back))
}

func TestMapEncodingIsStable(t *testing.T) {
	m := Map{
		Keys:   []Term{Int(1), String("a")},
		Values: []Term{String("a"), Int(1)},
	}
	a, err := Encode(m)
	require.NoError(t, err)
	b, err := Encode(m)
	require.NoError(t, err)
	require.Equal(t, a, b)

	// Same logical map, keys supplied in the opposite order, must
	// still produce byte-identical output.
	m2 := Map{
		Keys:   []Term{String("a"), Int(1)},
		Values: []Term{Int(1), String("a")},
	}
	c, err := Encode(m2)
	require.NoError(t, err)
	require.Equal(t, a, c)
}

func TestTuplePidRoundTrip(t *testing.T) {
	p := Pid{Node: Atom("a@host"), Id: 42, Serial: 1, Creation: 7}
	tup := Tuple{Atom("hello"), p, NewList(Int(1), Int(2), Int(3))}
	got := roundTrip(t, tup)
	if diff := deep.Equal(tup, got); diff != nil {
		t.Errorf("diff: %v", diff)
	}
}

func TestCompressedTermRoundTrip(t *testing.T) {
	elems := make([]Term, 512)
	for i := range elems {
		elems[i] = Atom("same_atom_over_and_over")
	}
	l := NewList(elems...)
	buf, err := EncodeCompressed(l, 6)
	require.NoError(t, err)
	require.Equal(t, byte(tagCompressed), buf[1])

	got, _, err := Decode(buf, false)
	require.NoError(t, err)
	require.True(t, Equal(l, got))
}

func TestBinaryAndBitstring(t *testing.T) {
	b := Binary([]byte{1, 2, 3, 4})
	got := roundTrip(t, b)
	require.True(t, Equal(b, got))

	bs := Bitstring{Data: []byte{0xFF, 0x80}, Bits: 3}
	got2 := roundTrip(t, bs)
	require.True(t, Equal(bs, got2))
}

func TestCompareAgreesWithEqual(t *testing.T) {
	terms := []Term{Int(1), Int(2), Atom("a"), Atom("b"), String("x"), Binary([]byte{1})}
	for _, a := range terms {
		for _, b := range terms {
			if Equal(a, b) {
				require.Zero(t, Compare(a, b))
			} else {
				require.NotZero(t, Compare(a, b))
			}
		}
	}
}
