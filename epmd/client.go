package epmd

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/reganheath/eclus/internal/elog"
	"github.com/reganheath/eclus/transport"
)

// Client publishes and queries a port-mapper at Addr (host:port,
// normally the local EPMD on DefaultPort). One Client conversation
// backs one published registration: see Publish.
type Client struct {
	Addr string
}

// NewClient returns a Client targeting host at EPMD's well-known port
// (or the port named by ERL_EPMD_PORT, resolved by the caller).
func NewClient(host string, port int) *Client {
	return &Client{Addr: net.JoinHostPort(host, strconv.Itoa(port))}
}

// Registration is the live handle returned by Publish. The
// registration is in effect only as long as the underlying TCP
// conversation stays open; closing it unpublishes the node (spec.md
// §4.3).
type Registration struct {
	Creation uint32

	mu   sync.Mutex
	conn transport.StreamTransport
}

// Close ends the registration, which immediately unpublishes the name
// at the port-mapper.
func (r *Registration) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

// Publish registers n with the port-mapper at c.Addr and keeps the
// underlying connection open for the lifetime of the registration.
// The returned Registration's Creation distinguishes this node
// incarnation from prior ones (spec.md §4.3, §3 "Creation").
func (c *Client) Publish(n NodeInfo) (*Registration, error) {
	conn, err := transport.Dial("tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("epmd: dial %s: %w", c.Addr, err)
	}
	req := composeAlive2Req(&n)
	if err := transport.WriteFramed(conn, req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("epmd: send ALIVE2_REQ: %w", err)
	}
	// The daemon keeps this connection open for the registration's
	// lifetime, so the reply is not followed by EOF: read exactly the
	// fixed-size ALIVE2_RESP/ALIVE2_X_RESP body instead of draining
	// until close.
	resp, err := transport.ReadExactly(conn, 2)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("epmd: read ALIVE2_RESP: %w", err)
	}
	creationLen := 2
	if resp[0] == tagAlive2XResp {
		creationLen = 4
	}
	rest, err := transport.ReadExactly(conn, creationLen)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("epmd: read ALIVE2_RESP creation: %w", err)
	}
	creation, ok := parseAlive2Resp(append(resp, rest...))
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("epmd: publish %q rejected", n.Name)
	}
	elog.With(nil).Debugf("epmd: published %q creation=%d", n.Name, creation)
	return &Registration{Creation: creation, conn: conn}, nil
}

// LookupPort asks c.Addr's port-mapper for alive's listening port. A
// miss, a malformed reply, or a connection failure all return port 0
// with a nil error, matching spec.md §4.3 ("On result≠0 or short
// read, return port=0").
func (c *Client) LookupPort(alive string) (NodeInfo, error) {
	conn, err := transport.Dial("tcp", c.Addr)
	if err != nil {
		return NodeInfo{}, nil
	}
	defer conn.Close()

	if err := transport.WriteFramed(conn, composePort4Req(alive)); err != nil {
		return NodeInfo{}, nil
	}
	resp, err := readAllUntilClose(conn)
	if err != nil || len(resp) == 0 {
		return NodeInfo{}, nil
	}
	ni, ok := parsePort4Resp(resp)
	if !ok {
		return NodeInfo{}, nil
	}
	ni.Name = alive
	return ni, nil
}

// Names returns every "alive" name currently registered at c.Addr.
func (c *Client) Names() ([]string, error) {
	conn, err := transport.Dial("tcp", c.Addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := transport.WriteFramed(conn, composeNamesReq()); err != nil {
		return nil, err
	}
	body, err := readAllUntilClose(conn)
	if err != nil {
		return nil, err
	}
	if len(body) < 4 {
		return nil, nil
	}
	lines := strings.Split(string(body[4:]), "\n")
	var names []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		// "name X at port P"
		if len(fields) >= 2 && fields[0] == "name" {
			names = append(names, fields[1])
		}
	}
	return names, nil
}

// Unpublish asks the port-mapper to drop alive. Per spec.md §4.3 the
// client does not wait for a reply and swallows any failure.
func (c *Client) Unpublish(alive string) {
	conn, err := transport.Dial("tcp", c.Addr)
	if err != nil {
		return
	}
	defer conn.Close()
	_ = transport.WriteFramed(conn, composeStopReq(alive))
}

func readAllUntilClose(t transport.StreamTransport) ([]byte, error) {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := t.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			return out, nil
		}
	}
}
