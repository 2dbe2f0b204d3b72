package mailbox

import (
	"fmt"
	"time"

	"github.com/reganheath/eclus/term"
)

// BadRPCError is raised when an RPC reply tuple's first element is not
// the atom rex (spec.md §4.7 "RPC").
type BadRPCError struct {
	Got term.Term
}

func (e *BadRPCError) Error() string {
	return fmt.Sprintf("mailbox: badrpc: unexpected reply %v", e.Got)
}

// Call performs a strict gen_call: it sends {'$gen_call', {self, Ref},
// request} to name on node and waits up to timeout for a 2-tuple whose
// first element equals the minted reference, returning its second
// element. Messages that arrive meanwhile but do not match the
// reference are put back on the queue rather than discarded -- the
// stricter of the two behaviors the reference-matching question
// allows, chosen because a mailbox fielding concurrent gen_calls must
// not silently swallow a reply meant for a different caller.
func (m *Mailbox) Call(node string, name term.Atom, request term.Term, timeout time.Duration) (term.Term, error) {
	ref := m.router.NewRef()
	envelope := term.Tuple{term.Atom("$gen_call"), term.Tuple{m.self, ref}, request}
	if err := m.SendToNode(node, name, envelope); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrEmpty
		}
		msg, err := m.ReceiveTimeout(remaining)
		if err != nil {
			return nil, err
		}
		tup, ok := msg.(term.Tuple)
		if ok && len(tup) == 2 && term.Equal(tup[0], ref) {
			return tup[1], nil
		}
		_ = m.push(signal{msg: msg})
	}
}

// Cast performs a fire-and-forget gen_cast: the envelope is sent and
// no reply is awaited.
func (m *Mailbox) Cast(node string, name term.Atom, request term.Term) error {
	return m.SendToNode(node, name, term.Tuple{term.Atom("$gen_cast"), request})
}

// Info sends a bare info message, bypassing the gen_call/gen_cast
// envelope entirely (spec.md §4.7 "gen_cast / info").
func (m *Mailbox) Info(node string, name term.Atom, msg term.Term) error {
	return m.SendToNode(node, name, msg)
}

// Ping emulates net_adm:ping/1 against node: yes/no liveness check
// answered by the peer's net_kernel (spec.md §4.6 "Net-kernel
// emulation").
func (m *Mailbox) Ping(node string, timeout time.Duration) (bool, error) {
	reply, err := m.Call(node, term.Atom("net_kernel"), term.Tuple{term.Atom("is_auth"), term.Atom(node)}, timeout)
	if err != nil {
		return false, err
	}
	atom, ok := reply.(term.Atom)
	return ok && atom == "yes", nil
}

// RPC sends {self, {call, Module, Function, Args, user}} to the rex
// process on node and waits for the single {rex, Result} reply; any
// other shape or tag is a BadRPCError (spec.md §4.7 "RPC").
func (m *Mailbox) RPC(node string, module, function term.Atom, args term.List, timeout time.Duration) (term.Term, error) {
	envelope := term.Tuple{m.self, term.Tuple{term.Atom("call"), module, function, args, term.Atom("user")}}
	if err := m.SendToNode(node, term.Atom("rex"), envelope); err != nil {
		return nil, err
	}
	reply, err := m.ReceiveTimeout(timeout)
	if err != nil {
		return nil, err
	}
	tup, ok := reply.(term.Tuple)
	if !ok || len(tup) != 2 {
		return nil, &BadRPCError{Got: reply}
	}
	tag, ok := tup[0].(term.Atom)
	if !ok || tag != "rex" {
		return nil, &BadRPCError{Got: reply}
	}
	return tup[1], nil
}
