package node

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/reganheath/eclus/epmd"
	"github.com/reganheath/eclus/mailbox"
	"github.com/reganheath/eclus/term"
	"github.com/reganheath/eclus/transport"
	"github.com/stretchr/testify/require"
)

// startTestEPMD spins up a port-mapper daemon on an ephemeral loopback
// port and returns the port to hand to node Configs.
func startTestEPMD(t *testing.T) int {
	t.Helper()
	ln, err := transport.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := epmd.NewServer(ln)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func startTestNode(t *testing.T, name string, epmdPort int) *Node {
	t.Helper()
	n, err := New(Config{Name: name, Cookie: "secret", EPMDHost: "127.0.0.1", EPMDPort: epmdPort})
	require.NoError(t, err)
	port, err := n.Listen(0)
	require.NoError(t, err)
	require.NoError(t, n.Publish(port))
	t.Cleanup(func() { n.Close() })
	return n
}

func TestPingBetweenNodes(t *testing.T) {
	epmdPort := startTestEPMD(t)
	a := startTestNode(t, "a@127.0.0.1", epmdPort)
	b := startTestNode(t, "b@127.0.0.1", epmdPort)

	mb := a.CreateMailbox()
	ok, err := mb.Ping(b.Name(), 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSendByPidAcrossNodes(t *testing.T) {
	epmdPort := startTestEPMD(t)
	a := startTestNode(t, "a@127.0.0.1", epmdPort)
	b := startTestNode(t, "b@127.0.0.1", epmdPort)

	recv := b.CreateMailbox()
	sender := a.CreateMailbox()

	require.NoError(t, sender.Send(recv.Self(), term.Tuple{term.Atom("hello"), term.Int(42)}))

	msg, err := recv.ReceiveTimeout(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, term.Tuple{term.Atom("hello"), term.Int(42)}, msg)
}

func TestSendByRegisteredNameAcrossNodes(t *testing.T) {
	epmdPort := startTestEPMD(t)
	a := startTestNode(t, "a@127.0.0.1", epmdPort)
	b := startTestNode(t, "b@127.0.0.1", epmdPort)

	recv := b.CreateMailbox()
	b.Register(term.Atom("echo"), recv)

	sender := a.CreateMailbox()
	require.NoError(t, sender.SendToNode(b.Name(), term.Atom("echo"), term.Atom("ping")))

	msg, err := recv.ReceiveTimeout(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, term.Atom("ping"), msg)
}

func TestLinkExitOnRemoteClose(t *testing.T) {
	epmdPort := startTestEPMD(t)
	a := startTestNode(t, "a@127.0.0.1", epmdPort)
	b := startTestNode(t, "b@127.0.0.1", epmdPort)

	local := a.CreateMailbox()
	remote := b.CreateMailbox()

	require.NoError(t, local.Link(remote.Self()))
	require.Eventually(t, func() bool { return remote.Linked(local.Self()) }, time.Second, 10*time.Millisecond)

	remote.Close(term.Atom("shutdown"))

	msg, err := local.ReceiveTimeout(2 * time.Second)
	require.Nil(t, msg)
	var exit *mailbox.ExitSignal
	require.ErrorAs(t, err, &exit)
	require.Equal(t, term.Atom("shutdown"), exit.Reason)
}

func TestLinkExitOnConnectionSevered(t *testing.T) {
	epmdPort := startTestEPMD(t)
	a := startTestNode(t, "a@127.0.0.1", epmdPort)
	b := startTestNode(t, "b@127.0.0.1", epmdPort)

	local := a.CreateMailbox()
	remote := b.CreateMailbox()

	require.NoError(t, local.Link(remote.Self()))
	require.Eventually(t, func() bool { return remote.Linked(local.Self()) }, time.Second, 10*time.Millisecond)

	// Sever the connection from a's side without either mailbox closing.
	a.mu.Lock()
	conn := a.conns[b.Name()]
	a.mu.Unlock()
	require.NotNil(t, conn)
	conn.Close()

	msg, err := local.ReceiveTimeout(2 * time.Second)
	require.Nil(t, msg)
	var exit *mailbox.ExitSignal
	require.ErrorAs(t, err, &exit)
	require.Equal(t, term.Atom("noconnection"), exit.Reason)
}
