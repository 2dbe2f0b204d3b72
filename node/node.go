// Package node is the local node model: pid generator, mailbox
// registry, link graph, outbound connection cache, and the accept loop
// that installs inbound connections (spec.md §6).
package node

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/reganheath/eclus/dist"
	"github.com/reganheath/eclus/epmd"
	"github.com/reganheath/eclus/internal/elog"
	"github.com/reganheath/eclus/mailbox"
	"github.com/reganheath/eclus/term"
	"github.com/reganheath/eclus/transport"
)

// Config is the caller-supplied identity of a Node.
type Config struct {
	Name      string // "alive@host"
	Cookie    string
	EPMDHost  string // defaults to "localhost"
	EPMDPort  int    // defaults to epmd.DefaultPort
	Hidden    bool
	Observer  Observer
}

// Node is one running distribution-engine node: it owns every mailbox
// and connection local to this process (spec.md §6 "Responsibilities").
type Node struct {
	fullName string
	alive    string
	domain   string
	cookie   string
	hidden   bool

	epmdClient *epmd.Client
	epmdPort   int
	reg        *epmd.Registration
	creation   uint32

	ln transport.ServerTransport

	pids pidAllocator
	refs refAllocator

	mu        sync.Mutex
	mailboxes map[term.Pid]*mailbox.Mailbox
	names     map[term.Atom]term.Pid
	conns     map[string]*dist.Connection
	// remoteLinks tracks, per peer node, which local pid is linked to
	// which remote pid over that connection, so a severed connection
	// can deliver a noconnection exit the same way a peer's own death
	// would (spec.md §9 "connection severed" case).
	remoteLinks map[string]map[term.Pid]term.Pid
	closed      bool

	observer Observer
}

// New constructs a Node without publishing it. Call Listen to accept
// peers and Publish to register with EPMD.
func New(cfg Config) (*Node, error) {
	parts := strings.SplitN(cfg.Name, "@", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("node: name %q must be alive@host", cfg.Name)
	}
	host := cfg.EPMDHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.EPMDPort
	if port == 0 {
		port = epmd.DefaultPort
	}
	obs := cfg.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	n := &Node{
		fullName:    cfg.Name,
		alive:       parts[0],
		domain:      parts[1],
		cookie:      cfg.Cookie,
		hidden:      cfg.Hidden,
		epmdClient:  epmd.NewClient(host, port),
		epmdPort:    port,
		mailboxes:   make(map[term.Pid]*mailbox.Mailbox),
		names:       make(map[term.Atom]term.Pid),
		conns:       make(map[string]*dist.Connection),
		remoteLinks: make(map[string]map[term.Pid]term.Pid),
		observer:    obs,
	}
	return n, nil
}

// Name returns this node's full "alive@host" name.
func (n *Node) Name() string { return n.fullName }

// NodeName satisfies mailbox.Router.
func (n *Node) NodeName() string { return n.fullName }

func (n *Node) ident() dist.Ident {
	flags := dist.BaselineFlags
	if !n.hidden {
		flags |= dist.FlagPublished
	}
	return dist.Ident{Name: n.fullName, Cookie: n.cookie, Creation: n.creation, Flags: flags}
}

// Listen opens a TCP listener on port (0 picks an ephemeral port) and
// starts the accept loop. Call before Publish so EPMD advertises a
// live port.
func (n *Node) Listen(port int) (int, error) {
	ln, err := transport.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return 0, err
	}
	n.ln = ln
	go n.acceptLoop()
	_, p, _ := net.SplitHostPort(ln.Addr().String())
	actual, _ := strconv.Atoi(p)
	return actual, nil
}

// Publish registers this node with EPMD at the port Listen opened.
// Once published, Creation() reflects the incarnation EPMD assigned
// (spec.md §4.3, §3 "Creation").
func (n *Node) Publish(port int) error {
	info := epmd.NodeInfo{
		FullName: n.fullName,
		Name:     n.alive,
		Domain:   n.domain,
		Port:     uint16(port),
		Type:     77,
		Protocol: 0,
		HighVsn:  6,
		LowVsn:   6,
	}
	if n.hidden {
		info.Type = 72
	}
	reg, err := n.epmdClient.Publish(info)
	if err != nil {
		n.observer.LocalStatus(n.fullName, false, err.Error())
		return err
	}
	n.reg = reg
	n.creation = reg.Creation
	n.observer.LocalStatus(n.fullName, true, "published")
	n.startNetKernel()
	return nil
}

// Unpublish closes the EPMD registration, making this node invisible
// to new lookups (spec.md §4.3 "Close unpublishes").
func (n *Node) Unpublish() {
	if n.reg != nil {
		n.reg.Close()
		n.observer.LocalStatus(n.fullName, false, "unpublished")
	}
}

// Creation returns the creation tag EPMD assigned on Publish.
func (n *Node) Creation() uint32 { return n.creation }

func (n *Node) acceptLoop() {
	for {
		t, err := n.ln.Accept()
		if err != nil {
			return
		}
		go n.acceptOne(t)
	}
}

func (n *Node) acceptOne(t transport.StreamTransport) {
	conn, err := dist.Inbound(t, n.ident(), n)
	if err != nil {
		n.observer.ConnAttempt("", true, err)
		return
	}
	peer := conn.PeerName()
	n.mu.Lock()
	if existing, ok := n.conns[peer]; ok {
		n.mu.Unlock()
		// Simultaneous connect: spec.md §5 says the concurrent winner is
		// honored and the loser discarded. An inbound connection that
		// loses to an already-cached outbound one is simply closed; the
		// peer will observe its own connection staying live.
		_ = existing
		conn.Close()
		return
	}
	n.conns[peer] = conn
	n.mu.Unlock()
	n.observer.ConnAttempt(peer, true, nil)
	n.observer.RemoteStatus(peer, true, "inbound")
}

// CreateMailbox allocates a pid, registers its mailbox, and returns it
// unnamed. The caller may Register it afterward.
func (n *Node) CreateMailbox() *mailbox.Mailbox {
	id, serial := n.pids.next()
	pid := term.Pid{Node: term.Atom(n.fullName), Id: id, Serial: serial, Creation: n.creation}
	mb := mailbox.New(pid, n, 0)
	n.mu.Lock()
	n.mailboxes[pid] = mb
	n.mu.Unlock()
	return mb
}

// Register binds name to mb's pid in the local registry. Re-registering
// an already-bound name overwrites it, mirroring the teacher's map
// assignment in Register.
func (n *Node) Register(name term.Atom, mb *mailbox.Mailbox) {
	n.mu.Lock()
	n.names[name] = mb.Self()
	n.mu.Unlock()
	mb.SetName(name)
}

// Registered lists every locally registered name.
func (n *Node) Registered() []term.Atom {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]term.Atom, 0, len(n.names))
	for name := range n.names {
		out = append(out, name)
	}
	return out
}

// Whereis resolves a registered name to a pid, the zero Pid if unbound.
func (n *Node) Whereis(name term.Atom) (term.Pid, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	pid, ok := n.names[name]
	return pid, ok
}

func (n *Node) mailboxFor(pid term.Pid) (*mailbox.Mailbox, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	mb, ok := n.mailboxes[pid]
	return mb, ok
}

// NotifyClosed satisfies mailbox.Router: it tears the registry entry
// down and delivers an exit signal to every peer this mailbox was
// linked to (spec.md §9 "explicit lifecycle" in place of a GC weak
// reference).
func (n *Node) NotifyClosed(pid term.Pid, reason term.Term) {
	n.mu.Lock()
	mb, ok := n.mailboxes[pid]
	if ok {
		delete(n.mailboxes, pid)
		if name := mb.Name(); name != "" {
			if n.names[name] == pid {
				delete(n.names, name)
			}
		}
	}
	n.mu.Unlock()
	if !ok {
		return
	}
	for _, peer := range mb.LinkedPeers() {
		n.deliverExit(pid, peer, reason)
	}
}

// deliverExit routes an EXIT signal from->to, locally or over the wire.
func (n *Node) deliverExit(from, to term.Pid, reason term.Term) {
	if string(to.Node) == n.fullName {
		if mb, ok := n.mailboxFor(to); ok {
			_ = mb.DeliverExit(from, reason)
		}
		return
	}
	conn, err := n.getOrCreateConn(string(to.Node))
	if err != nil {
		return
	}
	_ = conn.Exit(from, to, reason)
}

// SendPid implements the unified send(pid, term): local delivery
// clones the payload first so sender and receiver never share mutable
// state; remote delivery routes through the connection cache (spec.md
// §6 "Send").
func (n *Node) SendPid(to term.Pid, msg term.Term) error {
	if string(to.Node) == n.fullName {
		mb, ok := n.mailboxFor(to)
		if !ok {
			return fmt.Errorf("node: no such process %s", to)
		}
		return mb.Deliver(term.Clone(msg))
	}
	conn, err := n.getOrCreateConn(string(to.Node))
	if err != nil {
		return err
	}
	return conn.Send(to, msg)
}

// SendRegistered implements send-by-name, local or remote.
func (n *Node) SendRegistered(from term.Pid, toNode string, name term.Atom, msg term.Term) error {
	if toNode == n.fullName {
		pid, ok := n.Whereis(name)
		if !ok {
			return fmt.Errorf("node: no process registered as %s", name)
		}
		mb, ok := n.mailboxFor(pid)
		if !ok {
			return fmt.Errorf("node: no such process %s", pid)
		}
		return mb.Deliver(term.Clone(msg))
	}
	conn, err := n.getOrCreateConn(toNode)
	if err != nil {
		return err
	}
	return conn.RegSend(from, name, msg)
}

// Link implements mailbox.Router.Link: record locally and, for a
// remote peer, send the LINK control message. Linking to a
// non-existent local pid fails immediately by delivering an exit
// signal back to self rather than returning an error (spec.md §4.7
// "Link / Unlink").
func (n *Node) Link(self, to term.Pid) error {
	if string(to.Node) == n.fullName {
		mb, ok := n.mailboxFor(to)
		if !ok {
			if selfMb, ok := n.mailboxFor(self); ok {
				_ = selfMb.DeliverExit(to, term.Atom("noproc"))
			}
			return nil
		}
		mb.AddLinkPassive(self)
		return nil
	}
	conn, err := n.getOrCreateConn(string(to.Node))
	if err != nil {
		return err
	}
	if err := conn.Link(self, to); err != nil {
		return err
	}
	peer := string(to.Node)
	n.mu.Lock()
	if n.remoteLinks[peer] == nil {
		n.remoteLinks[peer] = make(map[term.Pid]term.Pid)
	}
	n.remoteLinks[peer][self] = to
	n.mu.Unlock()
	return nil
}

// NewRef implements mailbox.Router.NewRef.
func (n *Node) NewRef() term.Ref {
	return term.Ref{Node: term.Atom(n.fullName), Id: []uint32{n.refs.nextID()}, Creation: n.creation}
}

// Unlink implements mailbox.Router.Unlink.
func (n *Node) Unlink(self, to term.Pid) error {
	if string(to.Node) == n.fullName {
		if mb, ok := n.mailboxFor(to); ok {
			mb.RemoveLinkPassive(self)
		}
		return nil
	}
	conn, err := n.getOrCreateConn(string(to.Node))
	if err != nil {
		return err
	}
	if err := conn.Unlink(self, to); err != nil {
		return err
	}
	peer := string(to.Node)
	n.mu.Lock()
	if peers, ok := n.remoteLinks[peer]; ok {
		delete(peers, self)
	}
	n.mu.Unlock()
	return nil
}

// getOrCreateConn returns the cached connection to peer, dialing one
// on demand. The lock is held only for the map check and the final
// publish; dialing (EPMD lookup + handshake) happens unlocked, and a
// concurrent winner is honored while this call's own connection is
// discarded if it loses the race (spec.md §5 "Connection cache").
func (n *Node) getOrCreateConn(peer string) (*dist.Connection, error) {
	n.mu.Lock()
	if c, ok := n.conns[peer]; ok {
		n.mu.Unlock()
		return c, nil
	}
	n.mu.Unlock()

	conn, err := n.dialPeer(peer)
	if err != nil {
		n.observer.ConnAttempt(peer, false, err)
		return nil, err
	}

	n.mu.Lock()
	if existing, ok := n.conns[peer]; ok {
		n.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	n.conns[peer] = conn
	n.mu.Unlock()
	n.observer.ConnAttempt(peer, false, nil)
	n.observer.RemoteStatus(peer, true, "outbound")
	return conn, nil
}

func (n *Node) dialPeer(peer string) (*dist.Connection, error) {
	parts := strings.SplitN(peer, "@", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("node: malformed peer name %q", peer)
	}
	host := parts[1]
	info, err := epmd.NewClient(host, n.epmdPort).LookupPort(parts[0])
	if err != nil {
		return nil, err
	}
	if info.Port == 0 {
		return nil, fmt.Errorf("node: %s not registered", peer)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(int(info.Port)))
	return dist.Dial(addr, n.ident(), n)
}

// HandleSend implements dist.Handler: deliver to a local mailbox by
// pid.
func (n *Node) HandleSend(to term.Pid, msg term.Term) {
	if mb, ok := n.mailboxFor(to); ok {
		_ = mb.Deliver(msg)
	}
}

// HandleRegSend implements dist.Handler: deliver to a local mailbox by
// registered name.
func (n *Node) HandleRegSend(from term.Pid, toName term.Atom, msg term.Term) {
	pid, ok := n.Whereis(toName)
	if !ok {
		elog.With(nil).Warnf("node: REG_SEND to unknown name %s", toName)
		return
	}
	if mb, ok := n.mailboxFor(pid); ok {
		_ = mb.Deliver(msg)
	}
}

// HandleLink implements dist.Handler: a remote peer linked to a local
// pid.
func (n *Node) HandleLink(from, to term.Pid) {
	if mb, ok := n.mailboxFor(to); ok {
		mb.AddLinkPassive(from)
	}
}

// HandleUnlink implements dist.Handler.
func (n *Node) HandleUnlink(from, to term.Pid) {
	if mb, ok := n.mailboxFor(to); ok {
		mb.RemoveLinkPassive(from)
	}
}

// HandleExit implements dist.Handler: deliver the exit signal to the
// local mailbox it targets.
func (n *Node) HandleExit(from, to term.Pid, reason term.Term) {
	if mb, ok := n.mailboxFor(to); ok {
		_ = mb.DeliverExit(from, reason)
	}
}

// HandleExit2 implements dist.Handler identically to HandleExit; the
// distinction between EXIT and EXIT2 is in how the sender derived the
// reason (spec.md §4.5), not in local delivery.
func (n *Node) HandleExit2(from, to term.Pid, reason term.Term) {
	n.HandleExit(from, to, reason)
}

// HandleClosed implements dist.Handler: drop the connection from the
// cache, deliver a noconnection exit to every local pid that was
// linked across it, and notify the observer. A severed connection is
// indistinguishable from the remote process dying, as far as a link
// is concerned (spec.md §9).
func (n *Node) HandleClosed(peerName string, err error) {
	n.mu.Lock()
	delete(n.conns, peerName)
	links := n.remoteLinks[peerName]
	delete(n.remoteLinks, peerName)
	n.mu.Unlock()

	for localPid, remotePid := range links {
		if mb, ok := n.mailboxFor(localPid); ok {
			_ = mb.DeliverExit(remotePid, term.Atom("noconnection"))
		}
	}

	info := "closed"
	if err != nil {
		info = err.Error()
	}
	n.observer.RemoteStatus(peerName, false, info)
}

// Close unpublishes, stops accepting new connections, and closes every
// live connection. Mailboxes are left for the caller to Close
// individually so in-flight Receive calls can observe ErrClosed rather
// than being torn down mid-read.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	conns := make([]*dist.Connection, 0, len(n.conns))
	for _, c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	n.Unpublish()
	if n.ln != nil {
		n.ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	return nil
}
