package dist

import "github.com/reganheath/eclus/transport"

// Dial connects to addr and performs the outbound handshake. This is
// the one place the node package needs to reach into the transport
// layer when creating a fresh outbound connection (spec.md §4.6).
func Dial(addr string, local Ident, handler Handler) (*Connection, error) {
	t, err := transport.Dial("tcp", addr)
	if err != nil {
		return nil, ioErr("dial", err)
	}
	return Outbound(t, local, handler)
}
