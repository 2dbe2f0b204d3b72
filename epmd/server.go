package epmd

import (
	"sync"

	"github.com/reganheath/eclus/internal/elog"
	"github.com/reganheath/eclus/transport"
)

// Server is the port-mapper daemon: it accepts concurrent, short-lived
// conversations and answers ALIVE2, PORT4, NAMES, and STOP requests
// against a shared registry (spec.md §4.4).
type Server struct {
	ln transport.ServerTransport

	mu       sync.Mutex
	registry map[string]NodeInfo
	owners   map[string]transport.StreamTransport // alive name -> the connection that registered it
	creation uint16
}

// NewServer wraps an already-listening transport.
func NewServer(ln transport.ServerTransport) *Server {
	return &Server{
		ln:       ln,
		registry: make(map[string]NodeInfo),
		owners:   make(map[string]transport.StreamTransport),
	}
}

// ListenAndServe opens addr and runs Serve. It blocks until the
// listener errors or is closed.
func ListenAndServe(addr string) error {
	ln, err := transport.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s := NewServer(ln)
	return s.Serve()
}

// Serve accepts connections forever, handling each on its own
// goroutine (spec.md §4.4: "Each accepted connection is handled on
// its own cooperative task").
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) handle(conn transport.StreamTransport) {
	defer conn.Close()
	defer s.dropOwnedBy(conn)

	for {
		body, err := transport.ReadFramed(conn)
		if err != nil {
			return
		}
		if len(body) == 0 {
			return
		}
		switch body[0] {
		case tagAlive2Req:
			if !s.handleAlive2(conn, body) {
				return
			}
			// registration connection stays open; keep looping so a
			// later disconnect is observed by ReadFramed's error.
		case tagPort4Req:
			s.handlePort4(conn, body)
			return
		case tagNamesReq:
			s.handleNames(conn)
			return
		case tagStopReq:
			return
		default:
			elog.With(nil).Warnf("epmd: unknown request tag %d", body[0])
			return
		}
	}
}

func (s *Server) handleAlive2(conn transport.StreamTransport, body []byte) bool {
	n, ok := decodeAlive2Req(body)
	if !ok {
		return false
	}
	s.mu.Lock()
	_, collide := s.registry[n.Name]
	if collide {
		s.mu.Unlock()
		_, _ = conn.Write([]byte{tagAlive2Resp, 1, 0, 0})
		return false
	}
	s.creation = nextCreation(s.creation)
	n.Creation = s.creation
	s.registry[n.Name] = n
	s.owners[n.Name] = conn
	creation := s.creation
	s.mu.Unlock()

	resp := []byte{tagAlive2Resp, 0}
	resp = appendUint16(resp, creation)
	_, err := conn.Write(resp)
	return err == nil
}

// nextCreation cycles through {1, 2, 3} as spec.md §4.4 specifies:
// "((counter++) mod 3) + 1".
func nextCreation(prev uint16) uint16 {
	return uint16((int(prev))%3) + 1
}

func (s *Server) handlePort4(conn transport.StreamTransport, body []byte) {
	alive := string(body[1:])
	s.mu.Lock()
	n, ok := s.registry[alive]
	s.mu.Unlock()
	if !ok {
		_, _ = conn.Write([]byte{tagPort4Resp, 1})
		return
	}
	resp := []byte{tagPort4Resp, 0}
	resp = appendUint16(resp, n.Port)
	resp = append(resp, n.Type, n.Protocol)
	resp = appendUint16(resp, n.HighVsn)
	resp = appendUint16(resp, n.LowVsn)
	resp = appendUint16(resp, uint16(len(n.Name)))
	resp = append(resp, n.Name...)
	resp = appendUint16(resp, 0) // extra
	_, _ = conn.Write(resp)
}

func (s *Server) handleNames(conn transport.StreamTransport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := appendUint32(nil, uint32(DefaultPort))
	for alive, n := range s.registry {
		out = append(out, namesLine(alive, n.Port)...)
	}
	_, _ = conn.Write(out)
}

func (s *Server) dropOwnedBy(conn transport.StreamTransport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for alive, owner := range s.owners {
		if owner == conn {
			delete(s.owners, alive)
			delete(s.registry, alive)
		}
	}
}

// decodeAlive2Req parses the ALIVE2_REQ body the client composed in
// composeAlive2Req.
func decodeAlive2Req(body []byte) (NodeInfo, bool) {
	var n NodeInfo
	if len(body) < 11 || body[0] != tagAlive2Req {
		return n, false
	}
	n.Port = beUint16(body[1:3])
	n.Type = body[3]
	n.Protocol = body[4]
	n.HighVsn = beUint16(body[5:7])
	n.LowVsn = beUint16(body[7:9])
	nlen := int(beUint16(body[9:11]))
	if len(body) < 11+nlen+2 {
		return n, false
	}
	n.Name = string(body[11 : 11+nlen])
	n.FullName = n.Name
	off := 11 + nlen
	elen := int(beUint16(body[off : off+2]))
	off += 2
	if len(body) < off+elen {
		return n, false
	}
	n.Extra = body[off : off+elen]
	return n, true
}

func beUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
