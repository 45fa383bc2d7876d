// Package testutil provides deterministic fakes for the sync core: a
// scheduler driven by a virtual clock and a transport whose sockets the test
// opens, feeds and closes by hand.
package testutil

import (
	"errors"
	"sync"

	"github.com/Vasu1712/scenyx-chat/internal/conn"
)

// ErrSocketClosed is returned by FakeSocket.Send after Close.
var ErrSocketClosed = errors.New("fake socket closed")

// FakeTransport records every Open call.
type FakeTransport struct {
	mu      sync.Mutex
	sockets []*FakeSocket
}

var _ conn.Transport = (*FakeTransport)(nil)

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

func (t *FakeTransport) Open(url string, h conn.Handlers) conn.Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &FakeSocket{URL: url, h: h}
	t.sockets = append(t.sockets, s)
	return s
}

// Sockets returns every socket opened so far.
func (t *FakeTransport) Sockets() []*FakeSocket {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*FakeSocket(nil), t.sockets...)
}

// Opens is the number of Open calls.
func (t *FakeTransport) Opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sockets)
}

// Last returns the most recently opened socket, or nil.
func (t *FakeTransport) Last() *FakeSocket {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sockets) == 0 {
		return nil
	}
	return t.sockets[len(t.sockets)-1]
}

// FakeSocket lets a test play the server side of one socket.
type FakeSocket struct {
	URL string

	mu      sync.Mutex
	h       conn.Handlers
	sent    [][]byte
	closed  bool
	SendErr error
}

func (s *FakeSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSocketClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

func (s *FakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Sent returns the payloads written by the client.
func (s *FakeSocket) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

// Closed reports whether the client closed the socket.
func (s *FakeSocket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Accept simulates a successful handshake.
func (s *FakeSocket) Accept() { s.h.OnOpen() }

// Deliver pushes a server frame to the client.
func (s *FakeSocket) Deliver(data []byte) { s.h.OnMessage(data) }

// Fail simulates a network error, which is always followed by a close.
func (s *FakeSocket) Fail(err error) {
	s.h.OnError(err)
	s.h.OnClose(1006)
}

// Drop simulates an abnormal close without a preceding error.
func (s *FakeSocket) Drop() { s.h.OnClose(1006) }
