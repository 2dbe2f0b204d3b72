// Package transport is the thin abstraction the rest of the engine
// builds on: a bidirectional byte stream plus an accept primitive
// (spec.md §4.2). The concrete implementation is TCP; callers that
// only need the interface (the codec, the connection state machine)
// never import net directly.
package transport

import (
	"encoding/binary"
	"io"
	"net"
	"time"
)

// StreamTransport is a bidirectional byte stream: one TCP connection,
// one pipe, or a test double standing in for either.
type StreamTransport interface {
	io.ReadWriteCloser
	// SetDeadline arranges for Read/Write to fail with a timeout error
	// after t; a zero Time disables the deadline. No code in this
	// module sets a deadline, so handshake steps and frame reads block
	// until data arrives or the stream is closed.
	SetDeadline(t time.Time) error
}

// ServerTransport yields a StreamTransport per inbound connection.
type ServerTransport interface {
	Accept() (StreamTransport, error)
	Close() error
	Addr() net.Addr
}

// Dial connects to addr over TCP, enabling NoDelay and KeepAlive as
// spec.md §4.2 requires of all sockets.
func Dial(network, addr string) (StreamTransport, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
	}
	return conn, nil
}

// Listen opens a TCP listener on addr.
func Listen(network, addr string) (ServerTransport, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	return tcpListener{ln}, nil
}

type tcpListener struct{ ln net.Listener }

func (l tcpListener) Accept() (StreamTransport, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

func (l tcpListener) Close() error   { return l.ln.Close() }
func (l tcpListener) Addr() net.Addr { return l.ln.Addr() }

// ReadExactly blocks until n bytes have been read from t, or returns
// an error (including io.ErrUnexpectedEOF on a short read followed by
// EOF).
func ReadExactly(t StreamTransport, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(t, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadFramed reads a 2-byte big-endian length prefix followed by that
// many bytes, the framing EPMD uses for every request (spec.md §4.2).
func ReadFramed(t StreamTransport) ([]byte, error) {
	hdr, err := ReadExactly(t, 2)
	if err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(hdr)
	if n == 0 {
		return nil, nil
	}
	return ReadExactly(t, int(n))
}

// WriteFramed writes body prefixed with its 2-byte big-endian length.
func WriteFramed(t StreamTransport, body []byte) error {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(body)))
	if _, err := t.Write(hdr[:]); err != nil {
		return err
	}
	_, err := t.Write(body)
	return err
}

// ReadFramed4 reads a 4-byte big-endian length prefix followed by that
// many bytes, the framing the distribution connection uses after the
// handshake completes (spec.md §4.5). A zero-length frame is returned
// as a non-nil empty slice so callers can distinguish it from EOF.
func ReadFramed4(t StreamTransport) ([]byte, error) {
	hdr, err := ReadExactly(t, 4)
	if err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr)
	if n == 0 {
		return []byte{}, nil
	}
	return ReadExactly(t, int(n))
}

// WriteFramed4 writes body prefixed with its 4-byte big-endian length.
func WriteFramed4(t StreamTransport, body []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := t.Write(hdr[:]); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := t.Write(body)
	return err
}
