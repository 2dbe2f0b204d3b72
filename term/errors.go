package term

import (
	"fmt"
	"math"
)

// DecodeError reports that wire bytes do not match the external term
// format. It is always fatal to whatever connection produced the
// bytes (spec.md §7).
type DecodeError struct {
	Tag    byte
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("term: decode error at tag %d: %s", e.Tag, e.Reason)
}

func newDecodeError(tag byte, format string, args ...interface{}) error {
	return &DecodeError{Tag: tag, Reason: fmt.Sprintf(format, args...)}
}

// RangeError reports that a bignum does not fit the fixed-width
// integer type the caller requested. Never fatal to a connection.
type RangeError struct {
	Value *BigIntLike
	Want  string
}

// BigIntLike avoids importing math/big into the error's exported
// surface while still letting callers format the offending value.
type BigIntLike struct {
	Text string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("term: value %s does not fit in %s", e.Value.Text, e.Want)
}

func newRangeError(text, want string) error {
	return &RangeError{Value: &BigIntLike{Text: text}, Want: want}
}

// ToInt64 converts an Int or BigInt term to a signed 64-bit integer,
// returning a RangeError if a BigInt's magnitude does not fit (spec.md
// §4.1 "converting to a fixed-width integer fails with RangeError if
// the value does not fit").
func ToInt64(t Term) (int64, error) {
	switch v := t.(type) {
	case Int:
		return int64(v), nil
	case BigInt:
		if !v.IsInt64() {
			return 0, newRangeError(v.String(), "int64")
		}
		return v.Int64(), nil
	default:
		return 0, fmt.Errorf("term: %T is not an integer", t)
	}
}

// ToInt32 narrows t to a signed 32-bit integer, returning a RangeError
// if it does not fit.
func ToInt32(t Term) (int32, error) {
	n, err := ToInt64(t)
	if err != nil {
		return 0, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, newRangeError(fmt.Sprintf("%d", n), "int32")
	}
	return int32(n), nil
}

// ToUint8 narrows t to an unsigned 8-bit integer, returning a
// RangeError if it does not fit. Used for wire fields like fun/export
// arity that are a single byte on the wire but may decode from a
// bignum tag.
func ToUint8(t Term) (uint8, error) {
	n, err := ToInt64(t)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 255 {
		return 0, newRangeError(fmt.Sprintf("%d", n), "uint8")
	}
	return uint8(n), nil
}
