// Package mailbox is the engine's analogue of an Erlang process: a
// pid, a registered name, a FIFO signal queue, and a link set
// (spec.md §4.7).
package mailbox

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reganheath/eclus/term"
)

// Router is the facade a Mailbox uses to reach the owning node without
// mailbox importing node (which imports mailbox), and to keep a
// Mailbox ignorant of whether a destination pid is local or remote
// (spec.md §4.7 "Send").
type Router interface {
	NodeName() string
	SendPid(to term.Pid, msg term.Term) error
	SendRegistered(from term.Pid, toNode string, name term.Atom, msg term.Term) error
	Link(self, to term.Pid) error
	Unlink(self, to term.Pid) error
	// NewRef mints a fresh, node-unique reference for gen_call-style
	// request/response correlation.
	NewRef() term.Ref
	// NotifyClosed tells the node this mailbox is gone so every linked
	// peer gets an exit signal and the registry entry (by pid and by
	// name) is dropped eagerly -- this engine's explicit-lifecycle
	// substitute for weak references (spec.md §9).
	NotifyClosed(pid term.Pid, reason term.Term)
}

// ErrEmpty is returned by ReceiveTimeout when no message arrived
// before the deadline. It is distinct from a delivered message whose
// payload happens to be absent (spec.md §4.7).
var ErrEmpty = errors.New("mailbox: empty")

// ErrClosed is returned by Send/Receive operations on a mailbox that
// has already been closed.
var ErrClosed = errors.New("mailbox: closed")

// ExitSignal is surfaced by Receive when the next queued item is an
// EXIT/EXIT2 signal rather than an ordinary message (spec.md §7).
type ExitSignal struct {
	Reason term.Term
	From   term.Pid
}

func (e *ExitSignal) Error() string {
	return fmt.Sprintf("mailbox: exit from %s: %v", e.From, e.Reason)
}

type signal struct {
	exit   bool
	msg    term.Term
	reason term.Term
	from   term.Pid
}

// Mailbox owns a pid, an optional registered name, and a FIFO queue of
// incoming signals.
type Mailbox struct {
	self   term.Pid
	router Router

	queue chan signal
	done  chan struct{}

	mu     sync.Mutex
	name   term.Atom
	links  map[term.Pid]struct{}
	closed bool
}

// New constructs a Mailbox for self, routed through router. chanSize
// sets the queue's buffer, mirroring the teacher's per-process
// chan-size option (default 100 there; this engine defaults larger
// since a mailbox often proxies many concurrent senders).
func New(self term.Pid, router Router, chanSize int) *Mailbox {
	if chanSize <= 0 {
		chanSize = 1024
	}
	return &Mailbox{
		self:   self,
		router: router,
		queue:  make(chan signal, chanSize),
		done:   make(chan struct{}),
		links:  make(map[term.Pid]struct{}),
	}
}

// Self returns this mailbox's pid.
func (m *Mailbox) Self() term.Pid { return m.self }

// Name returns the registered name, or "" if unnamed.
func (m *Mailbox) Name() term.Atom {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// SetName records the registered name locally; the node's registry is
// the source of truth for lookups, this is purely so Name() can answer
// without a round trip.
func (m *Mailbox) SetName(name term.Atom) {
	m.mu.Lock()
	m.name = name
	m.mu.Unlock()
}

// deliver enqueues a plain message. Used by the node for both local
// SEND/REG_SEND delivery and (after cloning) same-node sends.
func (m *Mailbox) deliver(msg term.Term) error {
	return m.push(signal{msg: msg})
}

// deliverExit enqueues an EXIT/EXIT2 signal.
func (m *Mailbox) deliverExit(from term.Pid, reason term.Term) error {
	return m.push(signal{exit: true, from: from, reason: reason})
}

func (m *Mailbox) push(s signal) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()
	select {
	case m.queue <- s:
		return nil
	default:
		// Queue is full: block until the consumer makes room rather
		// than drop, since
		// spec.md §5 guarantees per-sender FIFO and silently dropping
		// would violate it for a slow consumer under burst load.
		m.queue <- s
		return nil
	}
}

func signalResult(s signal) (term.Term, error) {
	if s.exit {
		return nil, &ExitSignal{Reason: s.reason, From: s.from}
	}
	return s.msg, nil
}

// Receive blocks until a message or exit signal arrives. If the
// mailbox is closed and its queue has drained, Receive returns
// ErrClosed rather than blocking forever (spec.md §5: "Closing a
// mailbox or node wakes all waiters with the shutdown signal").
// Queued-but-unread signals remain readable across a Close, since the
// queue channel itself, not done, is what Receive drains first.
func (m *Mailbox) Receive() (term.Term, error) {
	select {
	case s := <-m.queue:
		return signalResult(s)
	default:
	}
	select {
	case s := <-m.queue:
		return signalResult(s)
	case <-m.done:
		select {
		case s := <-m.queue:
			return signalResult(s)
		default:
			return nil, ErrClosed
		}
	}
}

// ReceiveTimeout blocks up to timeout for a message or exit signal,
// returning ErrEmpty if none arrives in time, or ErrClosed if the
// mailbox closes first and its queue has drained.
func (m *Mailbox) ReceiveTimeout(timeout time.Duration) (term.Term, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s := <-m.queue:
		return signalResult(s)
	default:
	}
	select {
	case s := <-m.queue:
		return signalResult(s)
	case <-m.done:
		select {
		case s := <-m.queue:
			return signalResult(s)
		default:
			return nil, ErrClosed
		}
	case <-timer.C:
		return nil, ErrEmpty
	}
}

// Send delivers msg to pid, locally or remotely as the router decides.
func (m *Mailbox) Send(to term.Pid, msg term.Term) error {
	return m.router.SendPid(to, msg)
}

// SendName delivers msg to a registered name on this node.
func (m *Mailbox) SendName(name term.Atom, msg term.Term) error {
	return m.router.SendRegistered(m.self, m.router.NodeName(), name, msg)
}

// SendToNode delivers msg to a registered name on a (possibly remote)
// node.
func (m *Mailbox) SendToNode(node string, name term.Atom, msg term.Term) error {
	return m.router.SendRegistered(m.self, node, name, msg)
}

// Link establishes a bidirectional link with to. Linking twice is a
// no-op (spec.md §4.7, §3 "Link").
func (m *Mailbox) Link(to term.Pid) error {
	m.mu.Lock()
	if _, ok := m.links[to]; ok {
		m.mu.Unlock()
		return nil
	}
	m.links[to] = struct{}{}
	m.mu.Unlock()
	return m.router.Link(m.self, to)
}

// Unlink removes the link with to in both directions.
func (m *Mailbox) Unlink(to term.Pid) error {
	m.mu.Lock()
	delete(m.links, to)
	m.mu.Unlock()
	return m.router.Unlink(m.self, to)
}

// Linked reports whether to is currently linked to this mailbox.
func (m *Mailbox) Linked(to term.Pid) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[to]
	return ok
}

// links snapshot for node use when tearing down on Close.
func (m *Mailbox) linkedPeers() []term.Pid {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]term.Pid, 0, len(m.links))
	for p := range m.links {
		out = append(out, p)
	}
	return out
}

// Close tears the mailbox down: every linked peer receives {exit,
// reason}, the node registry drops both entries, and the queue is
// marked closed. Already-queued messages remain readable until
// Receive drains them (spec.md §4.6 "Shutdown").
func (m *Mailbox) Close(reason term.Term) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.done)

	if reason == nil {
		reason = term.Atom("normal")
	}
	m.router.NotifyClosed(m.self, reason)
}

// DeliverExit is called by the node when a peer's connection or
// mailbox tells us this mailbox is linked to something that died.
func (m *Mailbox) DeliverExit(from term.Pid, reason term.Term) error {
	return m.deliverExit(from, reason)
}

// Deliver is called by the node to enqueue a plain message that
// arrived by pid or by name.
func (m *Mailbox) Deliver(msg term.Term) error {
	return m.deliver(msg)
}

// LinkedPeers exposes a snapshot of linked pids, used by the node when
// propagating exit signals on close.
func (m *Mailbox) LinkedPeers() []term.Pid { return m.linkedPeers() }

// HasLink reports whether to is linked, used when deciding whether an
// inbound LINK control message is already satisfied (idempotent link).
func (m *Mailbox) HasLink(to term.Pid) bool { return m.Linked(to) }

// AddLinkPassive records a link the peer initiated (an inbound LINK
// control message) without sending a LINK frame back out.
func (m *Mailbox) AddLinkPassive(to term.Pid) {
	m.mu.Lock()
	m.links[to] = struct{}{}
	m.mu.Unlock()
}

// RemoveLinkPassive removes a link without sending an UNLINK frame,
// used for inbound UNLINK control messages.
func (m *Mailbox) RemoveLinkPassive(to term.Pid) {
	m.mu.Lock()
	delete(m.links, to)
	m.mu.Unlock()
}
