package dist

import (
	"sync"
	"sync/atomic"

	"github.com/reganheath/eclus/internal/elog"
	"github.com/reganheath/eclus/term"
	"github.com/reganheath/eclus/transport"
)

// State is a Connection's position in the lifecycle spec.md §4.5
// names: Connecting -> Handshaking -> Connected -> Closing -> Closed.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateConnected
	StateClosing
	StateClosed
)

// Handler receives dispatched control messages and the terminal
// close notification. The node implements Handler; a Connection never
// reaches back into node internals directly (spec.md §4.6, §7).
type Handler interface {
	HandleSend(to term.Pid, msg term.Term)
	HandleRegSend(from term.Pid, toName term.Atom, msg term.Term)
	HandleLink(from, to term.Pid)
	HandleUnlink(from, to term.Pid)
	HandleExit(from, to term.Pid, reason term.Term)
	HandleExit2(from, to term.Pid, reason term.Term)
	// HandleClosed is called exactly once, when the connection's
	// reader loop exits for any reason (spec.md §4.5 "Failure model").
	HandleClosed(peerName string, err error)
}

// Connection is one peer-to-peer distribution connection: a completed
// handshake plus a single-writer framed stream dispatching control
// messages to a Handler.
type Connection struct {
	t     transport.StreamTransport
	local Ident
	peer  Peer

	state int32 // State, accessed atomically

	writeMu sync.Mutex
	closeOnce sync.Once

	handler Handler
}

// PeerName is the remote node's alive@host name, known once the
// handshake completes.
func (c *Connection) PeerName() string { return c.peer.Name }

func (c *Connection) State() State { return State(atomic.LoadInt32(&c.state)) }

func (c *Connection) setState(s State) { atomic.StoreInt32(&c.state, int32(s)) }

// Outbound performs the initiator side of the handshake over t and, on
// success, starts the reader loop dispatching to handler.
func Outbound(t transport.StreamTransport, local Ident, handler Handler) (*Connection, error) {
	c := &Connection{t: t, local: local, handler: handler}
	c.setState(StateHandshaking)
	peer, err := handshakeOutbound(t, local)
	if err != nil {
		t.Close()
		c.setState(StateClosed)
		return nil, err
	}
	c.peer = peer
	c.setState(StateConnected)
	go c.readLoop()
	return c, nil
}

// Inbound performs the responder side of the handshake over t.
func Inbound(t transport.StreamTransport, local Ident, handler Handler) (*Connection, error) {
	c := &Connection{t: t, local: local, handler: handler}
	c.setState(StateHandshaking)
	peer, err := handshakeInbound(t, local)
	if err != nil {
		t.Close()
		c.setState(StateClosed)
		return nil, err
	}
	c.peer = peer
	c.setState(StateConnected)
	go c.readLoop()
	return c, nil
}

// Close transitions to Closing and shuts down the socket, which
// unblocks the reader loop and triggers exactly one HandleClosed call.
func (c *Connection) Close() error {
	c.setState(StateClosing)
	return c.t.Close()
}

func (c *Connection) writeFrame(ctrl term.Tuple, payload term.Term) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	body := []byte{passThroughTag}
	ctrlBytes, err := term.Encode(ctrl)
	if err != nil {
		return err
	}
	body = append(body, ctrlBytes...)
	if payload != nil {
		payloadBytes, err := term.Encode(payload)
		if err != nil {
			return err
		}
		body = append(body, payloadBytes...)
	}
	return ioErr("write frame", transport.WriteFramed4(c.t, body))
}

// Send dispatches a SEND control message: {2, Cookie, ToPid} + payload.
func (c *Connection) Send(to term.Pid, msg term.Term) error {
	return c.writeFrame(encodeSend(to), msg)
}

// RegSend dispatches REG_SEND: {6, FromPid, Cookie, ToName} + payload.
func (c *Connection) RegSend(from term.Pid, toName term.Atom, msg term.Term) error {
	return c.writeFrame(encodeRegSend(from, toName), msg)
}

// Link dispatches LINK: {1, FromPid, Cookie, ToPid}.
func (c *Connection) Link(from, to term.Pid) error {
	return c.writeFrame(encodeLink(from, to), nil)
}

// Unlink dispatches UNLINK: {4, FromPid, Cookie, ToPid}.
func (c *Connection) Unlink(from, to term.Pid) error {
	return c.writeFrame(encodeUnlink(from, to), nil)
}

// Exit dispatches EXIT: {3, FromPid, ToPid, Reason}.
func (c *Connection) Exit(from, to term.Pid, reason term.Term) error {
	return c.writeFrame(encodeExit(from, to, reason), nil)
}

// Exit2 dispatches EXIT2: {8, FromPid, ToPid, Reason}.
func (c *Connection) Exit2(from, to term.Pid, reason term.Term) error {
	return c.writeFrame(encodeExit2(from, to, reason), nil)
}

// readLoop is the single reader task for this connection (spec.md §5:
// "reader tasks never share stream state"). It runs until the
// transport errors or a protocol violation is observed, then reports
// exactly once to the handler and closes the socket.
func (c *Connection) readLoop() {
	var closeErr error
	defer func() {
		c.setState(StateClosed)
		c.t.Close()
		c.closeOnce.Do(func() {
			c.handler.HandleClosed(c.peer.Name, closeErr)
		})
	}()

	for {
		frame, err := transport.ReadFramed4(c.t)
		if err != nil {
			closeErr = ioErr("read frame", err)
			return
		}
		if len(frame) == 0 {
			// Keepalive tick: echo a zero-length frame (spec.md §4.5).
			c.writeMu.Lock()
			err := transport.WriteFramed4(c.t, nil)
			c.writeMu.Unlock()
			if err != nil {
				closeErr = ioErr("keepalive reply", err)
				return
			}
			continue
		}
		if frame[0] != passThroughTag {
			closeErr = &ProtocolError{Reason: "frame missing pass-through tag"}
			return
		}
		if err := c.dispatch(frame[1:]); err != nil {
			closeErr = err
			return
		}
	}
}

func (c *Connection) dispatch(body []byte) error {
	ctrlTerm, n, err := term.Decode(body, false)
	if err != nil {
		return err
	}
	ctrlTuple, ok := ctrlTerm.(term.Tuple)
	if !ok {
		return &ProtocolError{Reason: "control message is not a tuple"}
	}

	var payload term.Term
	havePayload := false
	if n < len(body) {
		payload, _, err = term.Decode(body[n:], false)
		if err != nil {
			return err
		}
		havePayload = true
	}

	ctrl, err := decodeControl(ctrlTuple, payload, havePayload)
	if err != nil {
		elog.With(nil).Warnf("dist: dropping unhandled frame from %s: %v", c.peer.Name, err)
		return nil
	}

	switch ctrl.Op {
	case OpLink:
		c.handler.HandleLink(ctrl.From, ctrl.To)
	case OpSend:
		c.handler.HandleSend(ctrl.To, ctrl.Payload)
	case OpRegSend:
		c.handler.HandleRegSend(ctrl.From, ctrl.ToName, ctrl.Payload)
	case OpUnlink:
		c.handler.HandleUnlink(ctrl.From, ctrl.To)
	case OpExit:
		c.handler.HandleExit(ctrl.From, ctrl.To, ctrl.Reason)
	case OpExit2:
		c.handler.HandleExit2(ctrl.From, ctrl.To, ctrl.Reason)
	}
	return nil
}
