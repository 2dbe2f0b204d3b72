package node

import (
	"github.com/reganheath/eclus/internal/elog"
	"github.com/reganheath/eclus/mailbox"
	"github.com/reganheath/eclus/term"
)

// startNetKernel registers the net_kernel mailbox and answers the one
// message shape that matters to a foreign node: net_adm:ping/1's
// is_auth gen_call (spec.md §6 "Net-kernel emulation").
func (n *Node) startNetKernel() {
	mb := n.CreateMailbox()
	n.Register(term.Atom("net_kernel"), mb)
	go runNetKernel(mb)
}

func runNetKernel(mb *mailbox.Mailbox) {
	for {
		msg, err := mb.Receive()
		if err != nil {
			return
		}
		from, ref, ok := matchIsAuthCall(msg)
		if !ok {
			continue
		}
		if err := mb.Send(from, term.Tuple{ref, term.Atom("yes")}); err != nil {
			elog.With(nil).Warnf("node: net_kernel reply to %s failed: %v", from, err)
		}
	}
}

// matchIsAuthCall recognizes {'$gen_call', {FromPid, Ref}, {is_auth, _}}.
func matchIsAuthCall(msg term.Term) (from term.Pid, ref term.Term, ok bool) {
	tup, isTuple := msg.(term.Tuple)
	if !isTuple || len(tup) != 3 {
		return term.Pid{}, nil, false
	}
	tag, _ := tup[0].(term.Atom)
	if tag != "$gen_call" {
		return term.Pid{}, nil, false
	}
	fromRef, ok := tup[1].(term.Tuple)
	if !ok || len(fromRef) != 2 {
		return term.Pid{}, nil, false
	}
	fromPid, ok := fromRef[0].(term.Pid)
	if !ok {
		return term.Pid{}, nil, false
	}
	request, ok := tup[2].(term.Tuple)
	if !ok || len(request) != 2 {
		return term.Pid{}, nil, false
	}
	reqTag, _ := request[0].(term.Atom)
	if reqTag != "is_auth" {
		return term.Pid{}, nil, false
	}
	return fromPid, fromRef[1], true
}
