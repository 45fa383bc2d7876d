// Package conn owns the live duplex channel of the selected conversation.
//
// A Manager holds at most one channel at a time. Each channel is a fresh
// object with its own state, attempt counter, socket and reconnect timer;
// switching conversations or closing moves the old one to CLOSED and detaches
// it, so late events from its socket are ignored. All methods must be called
// on the event loop that the transport and scheduler post to.
package conn

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-chat/internal/eventloop"
	"github.com/Vasu1712/scenyx-chat/internal/frames"
	"github.com/Vasu1712/scenyx-chat/internal/models"
	"github.com/Vasu1712/scenyx-chat/internal/room"
)

// ErrReconnectExhausted is the terminal connection error.
var ErrReconnectExhausted = errors.New("disconnected, max reconnect attempts reached")

// Handlers are the socket callbacks. Transports invoke them on the event loop.
type Handlers struct {
	OnOpen    func()
	OnMessage func(data []byte)
	// OnError reports a socket error. A call to OnClose always follows.
	OnError func(err error)
	OnClose func(code int)
}

// Socket is one opened (or opening) live channel.
type Socket interface {
	Send(data []byte) error
	Close() error
}

// Transport opens sockets. Open must not block and must not invoke the
// handlers before returning.
type Transport interface {
	Open(url string, h Handlers) Socket
}

type Config struct {
	// Host is host[:port] of the live endpoint.
	Host   string
	Secure bool
	Policy Policy
}

// Status is what the view observes.
type Status struct {
	ChannelID string
	State     State
	Connected bool
	Err       error
}

type channel struct {
	id       string
	url      string
	state    State
	attempts int
	opens    int
	socket   Socket
	timer    eventloop.Timer
	lastSock error
}

type Manager struct {
	cfg       Config
	transport Transport
	sched     eventloop.Scheduler
	log       zerolog.Logger

	onFrame  func(channelID string, in frames.Inbound)
	onStatus func(Status)

	current *channel
	lastErr error
}

func NewManager(cfg Config, t Transport, s eventloop.Scheduler, log zerolog.Logger) *Manager {
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if cfg.Policy.BackoffStep <= 0 {
		cfg.Policy.BackoffStep = DefaultPolicy.BackoffStep
	}
	return &Manager{
		cfg:       cfg,
		transport: t,
		sched:     s,
		log:       log.With().Str("component", "conn").Logger(),
	}
}

// OnFrame registers the receiver of decoded inbound frames.
func (m *Manager) OnFrame(fn func(channelID string, in frames.Inbound)) { m.onFrame = fn }

// OnStatus registers the status observer.
func (m *Manager) OnStatus(fn func(Status)) { m.onStatus = fn }

// URL is the live endpoint address for channelID.
func (m *Manager) URL(channelID string) string {
	scheme := "ws"
	if m.cfg.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws/chat/%s/", scheme, m.cfg.Host, channelID)
}

// Select tears down any current channel and starts a new one for the
// conversation between self and peer. It returns the channel identity, or an
// identity error when none can be derived; no socket is opened in that case.
func (m *Manager) Select(self, peer string) (string, error) {
	m.teardown()

	ch := &channel{state: StateIdle}
	m.current = ch
	id, err := room.Resolve(self, peer)
	if err != nil {
		m.lastErr = err
		m.log.Warn().Err(err).Msg("[WS] cannot resolve channel")
		m.emit()
		return "", err
	}
	ch.id = id
	ch.url = m.URL(id)
	m.lastErr = nil
	m.apply(ch, EventSelect)
	return id, nil
}

// Close is an explicit teardown. It never triggers reconnection.
func (m *Manager) Close() {
	m.teardown()
}

// Send writes payload to the open channel. It returns false without
// buffering when the channel is not OPEN or the write fails.
func (m *Manager) Send(payload []byte) bool {
	ch := m.current
	if ch == nil || ch.state != StateOpen || ch.socket == nil {
		return false
	}
	if err := ch.socket.Send(payload); err != nil {
		m.log.Warn().Err(err).Str("channel", ch.id).Msg("[WS] send failed")
		return false
	}
	return true
}

func (m *Manager) State() State {
	if m.current == nil {
		return StateIdle
	}
	return m.current.state
}

func (m *Manager) IsConnected() bool { return m.State() == StateOpen }

func (m *Manager) LastError() error { return m.lastErr }

func (m *Manager) ChannelID() string {
	if m.current == nil {
		return ""
	}
	return m.current.id
}

// Attempts is the number of reconnects made since the last successful open.
func (m *Manager) Attempts() int {
	if m.current == nil {
		return 0
	}
	return m.current.attempts
}

func (m *Manager) Status() Status {
	return Status{
		ChannelID: m.ChannelID(),
		State:     m.State(),
		Connected: m.IsConnected(),
		Err:       m.lastErr,
	}
}

func (m *Manager) teardown() {
	if m.current == nil {
		return
	}
	m.apply(m.current, EventTeardown)
}

func (m *Manager) apply(ch *channel, ev Event) {
	from := ch.state
	tr := Step(m.cfg.Policy, ch.state, ch.attempts, ev)
	ch.state = tr.State
	ch.attempts = tr.Attempts

	switch tr.Effect {
	case EffectOpen:
		m.open(ch)
	case EffectSchedule:
		m.log.Info().Str("channel", ch.id).Int("attempt", ch.attempts).Dur("delay", tr.Delay).Msg("[WS] reconnect scheduled")
		ch.timer = m.sched.AfterFunc(tr.Delay, func() { m.timerFired(ch) })
	case EffectFail:
		err := ErrReconnectExhausted
		if ch.lastSock != nil {
			err = fmt.Errorf("%w: %v", ErrReconnectExhausted, ch.lastSock)
		}
		m.lastErr = models.NewError(models.ErrKindConnection, "reconnect", err)
		m.log.Error().Str("channel", ch.id).Int("attempts", ch.attempts).Msg("[WS] giving up")
	case EffectReady:
		m.lastErr = nil
		ch.lastSock = nil
	case EffectDetach:
		m.detach(ch)
	}

	if from != ch.state {
		m.log.Debug().Str("channel", ch.id).Stringer("from", from).Stringer("to", ch.state).Stringer("event", ev).Msg("[WS] transition")
		if ch == m.current {
			m.emit()
		}
	}
}

func (m *Manager) open(ch *channel) {
	ch.opens++
	n := ch.opens
	live := func() bool {
		return m.current == ch && ch.opens == n && ch.state != StateClosed
	}

	m.log.Info().Str("url", ch.url).Int("attempt", ch.attempts).Msg("[WS] connecting")
	ch.socket = m.transport.Open(ch.url, Handlers{
		OnOpen: func() {
			if !live() {
				return
			}
			m.log.Info().Str("channel", ch.id).Msg("[WS] connected")
			m.apply(ch, EventOpened)
		},
		OnMessage: func(data []byte) {
			if !live() {
				return
			}
			m.deliver(ch, data)
		},
		OnError: func(err error) {
			if !live() {
				return
			}
			ch.lastSock = err
			m.log.Warn().Err(err).Str("channel", ch.id).Msg("[WS] connection error")
		},
		OnClose: func(code int) {
			if !live() {
				return
			}
			ch.socket = nil
			m.log.Warn().Int("code", code).Str("channel", ch.id).Msg("[WS] closed")
			m.apply(ch, EventAbnormalClose)
		},
	})
}

func (m *Manager) deliver(ch *channel, data []byte) {
	in, err := frames.Decode(data)
	if err != nil {
		m.log.Warn().Err(err).Str("channel", ch.id).Msg("[WS] dropping malformed frame")
		return
	}
	if m.onFrame != nil {
		m.onFrame(ch.id, in)
	}
}

func (m *Manager) timerFired(ch *channel) {
	if m.current != ch || ch.state != StateReconnectScheduled {
		return
	}
	ch.timer = nil
	m.apply(ch, EventTimerFired)
}

func (m *Manager) detach(ch *channel) {
	if ch.timer != nil {
		ch.timer.Stop()
		ch.timer = nil
	}
	if ch.socket != nil {
		sock := ch.socket
		ch.socket = nil
		if err := sock.Close(); err != nil {
			m.log.Debug().Err(err).Str("channel", ch.id).Msg("[WS] close")
		}
	}
}

func (m *Manager) emit() {
	if m.onStatus != nil {
		m.onStatus(m.Status())
	}
}
