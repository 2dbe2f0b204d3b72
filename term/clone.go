package term

import "math/big"

// Clone returns a deep copy of t. Same-node mailbox delivery clones
// the payload before enqueueing it so the sender and receiver never
// share mutable backing arrays (spec.md §9, "Shared mutable term
// objects").
func Clone(t Term) Term {
	switch v := t.(type) {
	case Binary:
		out := make(Binary, len(v))
		copy(out, v)
		return out
	case Bitstring:
		out := make([]byte, len(v.Data))
		copy(out, v.Data)
		return Bitstring{Data: out, Bits: v.Bits}
	case BigInt:
		return NewBigInt(new(big.Int).Set(v.Int))
	case List:
		elems := make([]Term, len(v.Elements))
		for i, el := range v.Elements {
			elems[i] = Clone(el)
		}
		return List{Elements: elems, Tail: Clone(v.Tail)}
	case Tuple:
		out := make(Tuple, len(v))
		for i, el := range v {
			out[i] = Clone(el)
		}
		return out
	case Map:
		keys := make([]Term, len(v.Keys))
		values := make([]Term, len(v.Values))
		for i := range v.Keys {
			keys[i] = Clone(v.Keys[i])
			values[i] = Clone(v.Values[i])
		}
		return Map{Keys: keys, Values: values}
	case Fun:
		free := make([]Term, len(v.FreeVars))
		for i, fv := range v.FreeVars {
			free[i] = Clone(fv)
		}
		out := v
		out.FreeVars = free
		return out
	case Ref:
		ids := make([]uint32, len(v.Id))
		copy(ids, v.Id)
		return Ref{Node: v.Node, Id: ids, Creation: v.Creation}
	default:
		// Atom, Int, Float, String, Nil, Pid, Port, ExternalFun
		// are value types with no shared backing storage.
		return t
	}
}
