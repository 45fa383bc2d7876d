// Package session ties the sync core together for one signed-in user: it
// selects conversations, feeds history and live frames into the reconciler
// and routes outbound messages through the dispatcher.
//
// Every method must run on the event loop that Deps.Exec posts to.
package session

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-chat/internal/conn"
	"github.com/Vasu1712/scenyx-chat/internal/directory"
	"github.com/Vasu1712/scenyx-chat/internal/dispatch"
	"github.com/Vasu1712/scenyx-chat/internal/eventloop"
	"github.com/Vasu1712/scenyx-chat/internal/frames"
	"github.com/Vasu1712/scenyx-chat/internal/history"
	"github.com/Vasu1712/scenyx-chat/internal/models"
	"github.com/Vasu1712/scenyx-chat/internal/reconcile"
)

// HistoryLoader is the part of history.Loader the session uses.
type HistoryLoader interface {
	Load(ctx context.Context, channelID string, senders history.SenderResolver) ([]models.Message, error)
	ResolveMedia(path string) string
}

type Deps struct {
	Exec       eventloop.Executor
	Directory  *directory.Directory
	Manager    *conn.Manager
	History    HistoryLoader
	Reconciler *reconcile.Reconciler
	Dispatcher *dispatch.Dispatcher
}

type Session struct {
	exec eventloop.Executor
	dir  *directory.Directory
	mgr  *conn.Manager
	hist HistoryLoader
	rec  *reconcile.Reconciler
	disp *dispatch.Dispatcher
	log  zerolog.Logger

	peer      string
	peerID    int64
	channelID string
	loads     int
	cancel    context.CancelFunc
	loading   bool

	onError func(error)
}

func New(d Deps, log zerolog.Logger) *Session {
	s := &Session{
		exec: d.Exec,
		dir:  d.Directory,
		mgr:  d.Manager,
		hist: d.History,
		rec:  d.Reconciler,
		disp: d.Dispatcher,
		log:  log.With().Str("component", "session").Logger(),
	}
	s.mgr.OnFrame(s.onFrame)
	s.disp.ResolveMedia = s.hist.ResolveMedia
	s.disp.OnError(s.report)
	return s
}

// OnMessages registers the observer of the reconciled sequence.
func (s *Session) OnMessages(fn func([]models.Message)) { s.rec.OnChange(fn) }

// OnStatus registers the observer of the live channel status.
func (s *Session) OnStatus(fn func(conn.Status)) { s.mgr.OnStatus(fn) }

// OnError registers the observer of recoverable errors: history failures,
// identity errors and asynchronous dispatch failures.
func (s *Session) OnError(fn func(error)) { s.onError = fn }

func (s *Session) Self() string { return s.dir.Self().Username }

func (s *Session) Peer() string { return s.peer }

func (s *Session) ChannelID() string { return s.channelID }

// Loading reports whether the history of the selected conversation is in flight.
func (s *Session) Loading() bool { return s.loading }

func (s *Session) Messages() []models.Message { return s.rec.Messages() }

func (s *Session) Status() conn.Status { return s.mgr.Status() }

// Select switches to the conversation with peer. The previous channel is
// torn down and its history load cancelled before anything new starts; the
// new history load runs concurrently with the connection attempt.
func (s *Session) Select(peer string) error {
	s.stopLoad()
	s.peer = peer
	s.peerID = 0
	if c, ok := s.dir.Contact(peer); ok {
		s.peerID = c.ID
	}

	id, err := s.mgr.Select(s.Self(), peer)
	s.channelID = id
	s.rec.Reset(id)
	if err != nil {
		s.report(err)
		return err
	}
	s.log.Info().Str("peer", peer).Str("channel", id).Msg("[Chat] conversation selected")
	s.startLoad(id)
	return nil
}

// Close leaves the current conversation. The channel never reconnects.
func (s *Session) Close() {
	s.stopLoad()
	s.mgr.Close()
	s.peer = ""
	s.peerID = 0
	s.channelID = ""
	s.rec.Reset("")
}

// Send dispatches text to the selected conversation.
func (s *Session) Send(text string) error {
	return s.disp.Dispatch(s.target(), text)
}

// SendFile uploads a file to the selected conversation.
func (s *Session) SendFile(up dispatch.Upload) error {
	return s.disp.DispatchFile(s.target(), up)
}

// Reload fetches the history of the selected conversation again. Messages
// already shown are replaced by the fresh history.
func (s *Session) Reload() {
	if s.channelID == "" {
		return
	}
	s.stopLoad()
	s.rec.Reset(s.channelID)
	s.startLoad(s.channelID)
}

func (s *Session) target() dispatch.Target {
	return dispatch.Target{
		ChannelID: s.channelID,
		Self:      s.Self(),
		Peer:      s.peer,
		PeerID:    s.peerID,
	}
}

func (s *Session) startLoad(channelID string) {
	ctx, cancel := context.WithCancel(context.Background())
	s.loads++
	n := s.loads
	s.cancel = cancel
	s.loading = true

	go func() {
		msgs, err := s.hist.Load(ctx, channelID, s.dir)
		s.exec.Post(func() {
			if n != s.loads || channelID != s.channelID {
				return
			}
			cancel()
			s.cancel = nil
			s.loading = false
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				s.report(err)
				// Live events keep flowing even without history.
				s.rec.Seed(channelID, nil)
				return
			}
			s.rec.Seed(channelID, msgs)
		})
	}()
}

func (s *Session) stopLoad() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.loads++
	s.loading = false
}

func (s *Session) onFrame(channelID string, in frames.Inbound) {
	msg := in.Message()
	if msg.File != nil {
		msg.File.URL = s.hist.ResolveMedia(msg.File.URL)
	}
	s.rec.Append(channelID, msg)
}

func (s *Session) report(err error) {
	s.log.Warn().Err(err).Str("channel", s.channelID).Msg("[Chat] error")
	if s.onError != nil {
		s.onError(err)
	}
}
