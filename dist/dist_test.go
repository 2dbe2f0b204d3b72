package dist

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/reganheath/eclus/term"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu      sync.Mutex
	sends   []term.Term
	closed  chan error
	closedN string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{closed: make(chan error, 1)}
}

func (h *recordingHandler) HandleSend(to term.Pid, msg term.Term) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sends = append(h.sends, msg)
}
func (h *recordingHandler) HandleRegSend(from term.Pid, toName term.Atom, msg term.Term) {}
func (h *recordingHandler) HandleLink(from, to term.Pid)                                 {}
func (h *recordingHandler) HandleUnlink(from, to term.Pid)                               {}
func (h *recordingHandler) HandleExit(from, to term.Pid, reason term.Term)               {}
func (h *recordingHandler) HandleExit2(from, to term.Pid, reason term.Term)              {}
func (h *recordingHandler) HandleClosed(peerName string, err error) {
	h.closedN = peerName
	h.closed <- err
}

func TestHandshakeSuccessAndSend(t *testing.T) {
	a, b := net.Pipe()

	var wg sync.WaitGroup
	wg.Add(2)

	var connA, connB *Connection
	var errA, errB error
	hA := newRecordingHandler()
	hB := newRecordingHandler()

	go func() {
		defer wg.Done()
		connA, errA = Outbound(a, Ident{Name: "a@host", Cookie: "secret", Flags: BaselineFlags}, hA)
	}()
	go func() {
		defer wg.Done()
		connB, errB = Inbound(b, Ident{Name: "b@host", Cookie: "secret", Flags: BaselineFlags}, hB)
	}()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)
	require.Equal(t, "b@host", connA.PeerName())
	require.Equal(t, "a@host", connB.PeerName())

	to := term.Pid{Node: term.Atom("b@host"), Id: 1, Serial: 0, Creation: 1}
	require.NoError(t, connA.Send(to, term.Tuple{term.Atom("hello")}))

	require.Eventually(t, func() bool {
		hB.mu.Lock()
		defer hB.mu.Unlock()
		return len(hB.sends) == 1
	}, time.Second, 10*time.Millisecond)

	connA.Close()
	select {
	case err := <-hB.closed:
		_ = err
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close notification")
	}
}

func TestHandshakeCookieMismatch(t *testing.T) {
	a, b := net.Pipe()

	var wg sync.WaitGroup
	wg.Add(2)
	var errA, errB error
	hA, hB := newRecordingHandler(), newRecordingHandler()

	go func() {
		defer wg.Done()
		_, errA = Outbound(a, Ident{Name: "a@host", Cookie: "X", Flags: BaselineFlags}, hA)
	}()
	go func() {
		defer wg.Done()
		_, errB = Inbound(b, Ident{Name: "b@host", Cookie: "Y", Flags: BaselineFlags}, hB)
	}()
	wg.Wait()

	require.Error(t, errA)
	require.Error(t, errB)
	var authErr *AuthError
	require.True(t, errors.As(errB, &authErr) || errors.As(errA, &authErr))
}
