package term

import "bytes"

// Equal reports whether a and b are structurally identical terms.
// Equal is recursive and, per spec.md §4.1, treats a List of
// byte-sized integers as equal to the semantically-equivalent String
// and vice versa, since the codec may choose either representation
// for the same logical value.
func Equal(a, b Term) bool {
	if sa, ok := asStringLike(a); ok {
		if sb, ok := asStringLike(b); ok {
			return sa == sb
		}
	}
	switch av := a.(type) {
	case Atom:
		bv, ok := b.(Atom)
		return ok && av == bv
	case Int:
		switch bv := b.(type) {
		case Int:
			return av == bv
		case BigInt:
			return bv.IsInt64() && bv.Int64() == int64(av)
		}
		return false
	case BigInt:
		switch bv := b.(type) {
		case Int:
			return av.IsInt64() && av.Int64() == int64(bv)
		case BigInt:
			return av.Cmp(bv.Int) == 0
		}
		return false
	case Float:
		bv, ok := b.(Float)
		return ok && av == bv
	case Binary:
		bv, ok := b.(Binary)
		return ok && bytes.Equal(av, bv)
	case Bitstring:
		bv, ok := b.(Bitstring)
		return ok && av.Bits == bv.Bits && bytes.Equal(av.Data, bv.Data)
	case List:
		bv, ok := b.(List)
		if !ok || len(av.Elements) != len(bv.Elements) {
			return false
		}
		for i := range av.Elements {
			if !Equal(av.Elements[i], bv.Elements[i]) {
				return false
			}
		}
		return Equal(defaultTail(av.Tail), defaultTail(bv.Tail))
	case Nil:
		switch b.(type) {
		case Nil:
			return true
		case List:
			return Equal(List{Elements: nil, Tail: Nil{}}, b)
		}
		return false
	case Tuple:
		bv, ok := b.(Tuple)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		bv, ok := b.(Map)
		if !ok || len(av.Keys) != len(bv.Keys) {
			return false
		}
		for i, k := range av.Keys {
			j := indexOfKey(bv.Keys, k)
			if j < 0 || !Equal(av.Values[i], bv.Values[j]) {
				return false
			}
		}
		return true
	case Pid:
		bv, ok := b.(Pid)
		return ok && av == bv
	case Port:
		bv, ok := b.(Port)
		return ok && av == bv
	case Ref:
		bv, ok := b.(Ref)
		if !ok || av.Node != bv.Node || av.Creation != bv.Creation || len(av.Id) != len(bv.Id) {
			return false
		}
		for i := range av.Id {
			if av.Id[i] != bv.Id[i] {
				return false
			}
		}
		return true
	case Fun:
		bv, ok := b.(Fun)
		if !ok || av.Pid != bv.Pid || av.Module != bv.Module || av.Index != bv.Index ||
			av.OldIndex != bv.OldIndex || av.Uniq != bv.Uniq || av.Arity != bv.Arity ||
			av.MD5 != bv.MD5 || len(av.FreeVars) != len(bv.FreeVars) {
			return false
		}
		for i := range av.FreeVars {
			if !Equal(av.FreeVars[i], bv.FreeVars[i]) {
				return false
			}
		}
		return true
	case ExternalFun:
		bv, ok := b.(ExternalFun)
		return ok && av == bv
	}
	return false
}

func defaultTail(t Term) Term {
	if t == nil {
		return Nil{}
	}
	return t
}

func indexOfKey(keys []Term, k Term) int {
	for i, kk := range keys {
		if Equal(kk, k) {
			return i
		}
	}
	return -1
}

func asStringLike(t Term) (string, bool) {
	switch v := t.(type) {
	case String:
		return string(v), true
	case List:
		if len(v.Elements) == 0 {
			if _, ok := defaultTail(v.Tail).(Nil); ok {
				return "", true
			}
			return "", false
		}
		b := make([]byte, len(v.Elements))
		for i, el := range v.Elements {
			iv, ok := el.(Int)
			if !ok || iv < 0 || iv > 255 {
				return "", false
			}
			b[i] = byte(iv)
		}
		if _, ok := defaultTail(v.Tail).(Nil); !ok {
			return "", false
		}
		return string(b), true
	case Nil:
		return "", true
	}
	return "", false
}

// order assigns each term kind a rank used by Compare. It need not
// match Erlang's full canonical term order (spec.md §4.1 only
// requires a deterministic total order for map-key comparison), but
// groups numbers first and collections last.
func order(t Term) int {
	switch t.(type) {
	case Int, BigInt:
		return 0
	case Float:
		return 1
	case Atom:
		return 2
	case Ref:
		return 3
	case Fun, ExternalFun:
		return 4
	case Port:
		return 5
	case Pid:
		return 6
	case Tuple:
		return 7
	case Map:
		return 8
	case Nil, List:
		return 9
	case Binary, Bitstring, String:
		return 10
	}
	return 11
}

// Compare returns -1, 0, or 1 for a total order over Term that agrees
// with Equal (Compare(a, b) == 0 iff Equal(a, b)). The encoder does
// not use it: encodeMap orders keys by their encoded bytes.
func Compare(a, b Term) int {
	if Equal(a, b) {
		return 0
	}
	oa, ob := order(a), order(b)
	if oa != ob {
		if oa < ob {
			return -1
		}
		return 1
	}
	ab, _ := Encode(a)
	bb, _ := Encode(b)
	return bytes.Compare(ab, bb)
}
