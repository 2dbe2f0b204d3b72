package dist

import (
	"fmt"

	"github.com/reganheath/eclus/term"
)

// passThroughTag precedes every control/payload frame sent after the
// handshake completes (spec.md §4.5).
const passThroughTag = 112

// Control message tags, the first element of the control tuple
// (spec.md §4.5). Tags 11..18 are trace-token variants of 1..8 and
// are normalized to their base value on decode.
type Op int

const (
	OpLink    Op = 1
	OpSend    Op = 2
	OpExit    Op = 3
	OpUnlink  Op = 4
	OpRegSend Op = 6
	OpExit2   Op = 8
)

// Control is a decoded control tuple. Payload is set whenever the
// frame carried a payload term after the control tuple, whatever the
// op; SEND and REG_SEND frames always carry one.
type Control struct {
	Op      Op
	From    term.Pid
	To      term.Pid
	ToName  term.Atom
	Reason  term.Term
	Payload term.Term
}

func decodeControl(tup term.Tuple, payload term.Term, havePayload bool) (Control, error) {
	if len(tup) == 0 {
		return Control{}, &ProtocolError{Reason: "empty control tuple"}
	}
	tagTerm, ok := tup[0].(term.Int)
	if !ok {
		return Control{}, &ProtocolError{Reason: "control tag is not an integer"}
	}
	op := Op(tagTerm)
	if op >= 11 && op <= 18 {
		op -= 10
	}
	c := Control{Op: op}
	if havePayload {
		c.Payload = payload
	}
	switch op {
	case OpLink: // {1, FromPid, Cookie, ToPid}
		if len(tup) < 4 {
			return c, &ProtocolError{Reason: "malformed LINK"}
		}
		c.From, _ = tup[1].(term.Pid)
		c.To, _ = tup[3].(term.Pid)
	case OpSend: // {2, Cookie, ToPid}
		if len(tup) < 3 {
			return c, &ProtocolError{Reason: "malformed SEND"}
		}
		c.To, _ = tup[2].(term.Pid)
	case OpExit, OpExit2: // {3|8, FromPid, ToPid, Reason}
		if len(tup) < 4 {
			return c, &ProtocolError{Reason: "malformed EXIT"}
		}
		c.From, _ = tup[1].(term.Pid)
		c.To, _ = tup[2].(term.Pid)
		c.Reason = tup[3]
	case OpUnlink: // {4, FromPid, Cookie, ToPid}
		if len(tup) < 4 {
			return c, &ProtocolError{Reason: "malformed UNLINK"}
		}
		c.From, _ = tup[1].(term.Pid)
		c.To, _ = tup[3].(term.Pid)
	case OpRegSend: // {6, FromPid, Cookie, ToName}
		if len(tup) < 4 {
			return c, &ProtocolError{Reason: "malformed REG_SEND"}
		}
		c.From, _ = tup[1].(term.Pid)
		c.ToName, _ = tup[3].(term.Atom)
	default:
		return c, fmt.Errorf("dist: unhandled control op %d", op)
	}
	return c, nil
}

func encodeLink(from, to term.Pid) term.Tuple {
	return term.Tuple{term.Int(OpLink), from, term.Atom(""), to}
}

func encodeSend(to term.Pid) term.Tuple {
	return term.Tuple{term.Int(OpSend), term.Atom(""), to}
}

func encodeExit(from, to term.Pid, reason term.Term) term.Tuple {
	return term.Tuple{term.Int(OpExit), from, to, reason}
}

func encodeExit2(from, to term.Pid, reason term.Term) term.Tuple {
	return term.Tuple{term.Int(OpExit2), from, to, reason}
}

func encodeUnlink(from, to term.Pid) term.Tuple {
	return term.Tuple{term.Int(OpUnlink), from, term.Atom(""), to}
}

func encodeRegSend(from term.Pid, toName term.Atom) term.Tuple {
	return term.Tuple{term.Int(OpRegSend), from, term.Atom(""), toName}
}
