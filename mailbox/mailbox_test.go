package mailbox

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/reganheath/eclus/term"
	"github.com/stretchr/testify/require"
)

// fakeRouter is an in-memory Router good enough to exercise Mailbox
// without a real node: it owns a fixed set of mailboxes keyed by pid
// and by name, all addressed as the same "node".
type fakeRouter struct {
	nodeName string

	mu    sync.Mutex
	boxes map[term.Pid]*Mailbox
	names map[term.Atom]term.Pid
	refID uint32
}

func newFakeRouter(nodeName string) *fakeRouter {
	return &fakeRouter{
		nodeName: nodeName,
		boxes:    make(map[term.Pid]*Mailbox),
		names:    make(map[term.Atom]term.Pid),
	}
}

func (r *fakeRouter) NodeName() string { return r.nodeName }

func (r *fakeRouter) spawn(id uint32) *Mailbox {
	pid := term.Pid{Node: term.Atom(r.nodeName), Id: id, Creation: 1}
	mb := New(pid, r, 0)
	r.mu.Lock()
	r.boxes[pid] = mb
	r.mu.Unlock()
	return mb
}

func (r *fakeRouter) register(name term.Atom, mb *Mailbox) {
	r.mu.Lock()
	r.names[name] = mb.Self()
	r.mu.Unlock()
	mb.SetName(name)
}

func (r *fakeRouter) SendPid(to term.Pid, msg term.Term) error {
	r.mu.Lock()
	mb, ok := r.boxes[to]
	r.mu.Unlock()
	if !ok {
		return errors.New("fakeRouter: no such pid")
	}
	return mb.Deliver(term.Clone(msg))
}

func (r *fakeRouter) SendRegistered(from term.Pid, toNode string, name term.Atom, msg term.Term) error {
	r.mu.Lock()
	pid, ok := r.names[name]
	r.mu.Unlock()
	if !ok {
		return errors.New("fakeRouter: no such name")
	}
	return r.SendPid(pid, msg)
}

func (r *fakeRouter) Link(self, to term.Pid) error {
	r.mu.Lock()
	mb, ok := r.boxes[to]
	r.mu.Unlock()
	if ok {
		mb.AddLinkPassive(self)
	}
	return nil
}

func (r *fakeRouter) Unlink(self, to term.Pid) error {
	r.mu.Lock()
	mb, ok := r.boxes[to]
	r.mu.Unlock()
	if ok {
		mb.RemoveLinkPassive(self)
	}
	return nil
}

func (r *fakeRouter) NewRef() term.Ref {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refID++
	return term.Ref{Node: term.Atom(r.nodeName), Id: []uint32{r.refID}, Creation: 1}
}

func (r *fakeRouter) NotifyClosed(pid term.Pid, reason term.Term) {
	r.mu.Lock()
	mb, ok := r.boxes[pid]
	if ok {
		delete(r.boxes, pid)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, peer := range mb.LinkedPeers() {
		r.mu.Lock()
		peerMb, ok := r.boxes[peer]
		r.mu.Unlock()
		if ok {
			_ = peerMb.DeliverExit(pid, reason)
		}
	}
}

func TestSendReceiveFIFO(t *testing.T) {
	r := newFakeRouter("a@host")
	a := r.spawn(1)
	b := r.spawn(2)

	require.NoError(t, a.Send(b.Self(), term.Int(1)))
	require.NoError(t, a.Send(b.Self(), term.Int(2)))
	require.NoError(t, a.Send(b.Self(), term.Int(3)))

	for i := 1; i <= 3; i++ {
		msg, err := b.ReceiveTimeout(time.Second)
		require.NoError(t, err)
		require.Equal(t, term.Int(i), msg)
	}
}

func TestReceiveTimeoutEmpty(t *testing.T) {
	r := newFakeRouter("a@host")
	a := r.spawn(1)
	_, err := a.ReceiveTimeout(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestCloseWakesBlockedReceive(t *testing.T) {
	r := newFakeRouter("a@host")
	a := r.spawn(1)

	done := make(chan error, 1)
	go func() {
		_, err := a.Receive()
		done <- err
	}()

	a.Close(term.Atom("normal"))

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake up on Close")
	}
}

func TestLinkPropagatesExitOnClose(t *testing.T) {
	r := newFakeRouter("a@host")
	a := r.spawn(1)
	b := r.spawn(2)

	require.NoError(t, a.Link(b.Self()))
	require.True(t, a.Linked(b.Self()))
	require.True(t, b.Linked(a.Self()))

	b.Close(term.Atom("shutdown"))

	_, err := a.ReceiveTimeout(time.Second)
	var exit *ExitSignal
	require.True(t, errors.As(err, &exit))
	require.Equal(t, term.Atom("shutdown"), exit.Reason)
	require.Equal(t, b.Self(), exit.From)
}

func TestCallMatchesReferenceAndRequeuesOthers(t *testing.T) {
	r := newFakeRouter("a@host")
	client := r.spawn(1)
	server := r.spawn(2)
	r.register(term.Atom("srv"), server)

	go func() {
		msg, err := server.ReceiveTimeout(time.Second)
		if err != nil {
			return
		}
		tup := msg.(term.Tuple)
		fromRef := tup[1].(term.Tuple)
		from := fromRef[0].(term.Pid)
		ref := fromRef[1]
		// An unrelated message arrives first...
		_ = server.Send(from, term.Atom("unrelated"))
		// ...then the real reply.
		_ = server.Send(from, term.Tuple{ref, term.Atom("pong")})
	}()

	reply, err := client.Call("a@host", term.Atom("srv"), term.Atom("ping"), time.Second)
	require.NoError(t, err)
	require.Equal(t, term.Atom("pong"), reply)

	// The unrelated message should still be in the queue afterward.
	leftover, err := client.ReceiveTimeout(100 * time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, term.Atom("unrelated"), leftover)
}

func TestRPCBadReplyTag(t *testing.T) {
	r := newFakeRouter("a@host")
	client := r.spawn(1)
	server := r.spawn(2)
	r.register(term.Atom("rex"), server)

	go func() {
		msg, err := server.ReceiveTimeout(time.Second)
		if err != nil {
			return
		}
		tup := msg.(term.Tuple)
		from := tup[0].(term.Pid)
		_ = server.Send(from, term.Tuple{term.Atom("oops"), term.Atom("boom")})
	}()

	_, err := client.RPC("a@host", term.Atom("lists"), term.Atom("reverse"), term.NewList(term.Int(1)), time.Second)
	var bad *BadRPCError
	require.True(t, errors.As(err, &bad))
}
