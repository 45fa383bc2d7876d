// Package wsdial is the gorilla/websocket transport for conn.Manager.
package wsdial

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-chat/internal/conn"
	"github.com/Vasu1712/scenyx-chat/internal/eventloop"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
)

var errNotConnected = errors.New("websocket not connected")

// HeaderFunc supplies handshake headers, typically the bearer token. It is
// called before every dial and may block until ctx is done.
type HeaderFunc func(ctx context.Context) http.Header

type Transport struct {
	exec   eventloop.Executor
	dialer *websocket.Dialer
	header HeaderFunc
	log    zerolog.Logger
}

var _ conn.Transport = (*Transport)(nil)

func New(exec eventloop.Executor, header HeaderFunc, log zerolog.Logger) *Transport {
	return &Transport{
		exec: exec,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		header: header,
		log:    log.With().Str("component", "wsdial").Logger(),
	}
}

// Open dials in the background. Every handler runs on the executor.
func (t *Transport) Open(url string, h conn.Handlers) conn.Socket {
	s := &socket{t: t, url: url, h: h}
	go s.run()
	return s
}

type socket struct {
	t   *Transport
	url string
	h   conn.Handlers

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

func (s *socket) run() {
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	var header http.Header
	if s.t.header != nil {
		header = s.t.header(ctx)
	}
	c, _, err := s.t.dialer.DialContext(ctx, s.url, header)
	cancel()
	if err != nil {
		s.t.exec.Post(func() { s.h.OnError(err) })
		s.t.exec.Post(func() { s.h.OnClose(websocket.CloseAbnormalClosure) })
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = c.Close()
		return
	}
	s.ws = c
	s.mu.Unlock()

	s.t.exec.Post(s.h.OnOpen)

	// Read pump
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			} else if !s.isClosed() {
				s.t.exec.Post(func() { s.h.OnError(err) })
			}
			s.t.exec.Post(func() { s.h.OnClose(code) })
			return
		}
		s.t.exec.Post(func() { s.h.OnMessage(data) })
	}
}

func (s *socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *socket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ws == nil {
		return errNotConnected
	}
	if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

func (s *socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ws == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		s.t.log.Debug().Err(err).Str("url", s.url).Msg("[WS] close frame")
	}
	return s.ws.Close()
}
