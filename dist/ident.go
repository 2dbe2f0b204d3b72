// Package dist implements the per-peer Erlang distribution connection:
// the challenge/response handshake, message framing, and control
// message dispatch described in spec.md §4.5.
package dist

// Ident is the local identity a Connection authenticates with and
// advertises during the handshake.
type Ident struct {
	Name     string // "alive@host"
	Cookie   string
	Creation uint32
	Flags    uint64
}

// Peer is what the handshake learns about the other side.
type Peer struct {
	Name     string
	Flags    uint64
	Version  uint16
}
