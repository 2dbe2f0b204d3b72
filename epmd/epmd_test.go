package epmd

import (
	"testing"
	"time"

	"github.com/reganheath/eclus/transport"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := transport.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := NewServer(ln)
	go s.Serve()
	return ln.Addr().String(), func() { s.Close() }
}

func TestPublishLookupNames(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	host, portStr := splitHostPort(t, addr)
	c := &Client{Addr: addr}

	reg, err := c.Publish(NodeInfo{
		Name:     "foo",
		Port:     9999,
		Type:     77,
		Protocol: 0,
		HighVsn:  6,
		LowVsn:   5,
	})
	require.NoError(t, err)
	require.NotZero(t, reg.Creation)
	defer reg.Close()

	ni, err := c.LookupPort("foo")
	require.NoError(t, err)
	require.Equal(t, uint16(9999), ni.Port)

	names, err := c.Names()
	require.NoError(t, err)
	require.Contains(t, names, "foo")

	_ = host
	_ = portStr
}

func TestLookupMiss(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()
	c := &Client{Addr: addr}

	ni, err := c.LookupPort("does-not-exist")
	require.NoError(t, err)
	require.Zero(t, ni.Port)
}

func TestNameCollision(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()
	c := &Client{Addr: addr}

	reg1, err := c.Publish(NodeInfo{Name: "dup", Port: 1})
	require.NoError(t, err)
	defer reg1.Close()

	_, err = c.Publish(NodeInfo{Name: "dup", Port: 2})
	require.Error(t, err)
}

func TestUnpublishOnClose(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()
	c := &Client{Addr: addr}

	reg, err := c.Publish(NodeInfo{Name: "bar", Port: 42})
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	require.Eventually(t, func() bool {
		ni, _ := c.LookupPort("bar")
		return ni.Port == 0
	}, 500*time.Millisecond, 10*time.Millisecond)
}

func splitHostPort(t *testing.T, addr string) (string, string) {
	t.Helper()
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:]
		}
	}
	t.Fatalf("bad addr %q", addr)
	return "", ""
}
