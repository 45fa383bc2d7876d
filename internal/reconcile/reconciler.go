// Package reconcile merges the history of a conversation with its live
// events and the user's optimistic messages into one ordered sequence.
//
// The sequence is ordered once, when the history seeds it. Everything after
// that is appended in arrival order. Events that arrive before the seed are
// buffered and replayed right after it. A Reconciler is not safe for
// concurrent use; the session drives it from the event loop.
package reconcile

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-chat/internal/models"
)

// DefaultTolerance is how far apart an echo and its optimistic original may
// be timestamped and still be treated as the same message.
const DefaultTolerance = 5 * time.Second

type buffered struct {
	msg         models.Message
	provisional bool
}

type Reconciler struct {
	Tolerance time.Duration

	now      func() time.Time
	log      zerolog.Logger
	onChange func([]models.Message)

	channel string
	seeded  bool
	msgs    []models.Message
	// history marks entries that came from the seed; used only while the
	// buffer is flushed.
	history []bool
	buffer  []buffered
}

func New(log zerolog.Logger) *Reconciler {
	return &Reconciler{
		Tolerance: DefaultTolerance,
		now:       time.Now,
		log:       log.With().Str("component", "reconcile").Logger(),
	}
}

// OnChange registers the observer called with a snapshot after every change.
func (r *Reconciler) OnChange(fn func([]models.Message)) { r.onChange = fn }

// Reset starts an empty, unseeded sequence for channelID.
func (r *Reconciler) Reset(channelID string) {
	r.channel = channelID
	r.seeded = false
	r.msgs = nil
	r.history = nil
	r.buffer = nil
	r.notify()
}

func (r *Reconciler) ChannelID() string { return r.channel }

func (r *Reconciler) Seeded() bool { return r.seeded }

// Seed replaces the sequence with history and flushes buffered events in
// arrival order. A seed for any channel other than the current one is
// ignored and reported as false.
func (r *Reconciler) Seed(channelID string, history []models.Message) bool {
	if channelID != r.channel || r.channel == "" {
		r.log.Debug().Str("channel", channelID).Str("current", r.channel).Msg("[Sync] ignoring stale history")
		return false
	}
	received := r.now()
	r.msgs = make([]models.Message, 0, len(history)+len(r.buffer))
	r.history = make([]bool, 0, cap(r.msgs))
	for _, m := range history {
		if m.Timestamp.IsZero() {
			m.Timestamp = received
		}
		r.msgs = append(r.msgs, m)
		r.history = append(r.history, true)
	}
	r.seeded = true

	pending := r.buffer
	r.buffer = nil
	// Server ids of buffered echoes, by the correlation id they answer.
	echoed := make(map[string]string)
	for _, b := range pending {
		if !b.provisional && b.msg.CorrelationID != "" && b.msg.ID != "" {
			echoed[b.msg.CorrelationID] = b.msg.ID
		}
	}
	// Provisional messages whose server copy is already in the history.
	persisted := make(map[string]bool)
	for _, b := range pending {
		if b.provisional {
			if r.claimProvisional(b.msg, echoed[b.msg.CorrelationID]) {
				persisted[b.msg.CorrelationID] = true
				continue
			}
			r.push(b.msg)
			continue
		}
		if b.msg.CorrelationID != "" && persisted[b.msg.CorrelationID] {
			continue
		}
		if i := r.matchProvisional(b.msg); i >= 0 {
			if r.claimHistory(b.msg) {
				r.removeAt(i)
				continue
			}
			adopt(&r.msgs[i], b.msg)
			continue
		}
		if r.claimHistory(b.msg) {
			continue
		}
		r.merge(b.msg)
	}
	r.history = nil
	r.log.Debug().Str("channel", channelID).Int("history", len(history)).Int("flushed", len(pending)).Msg("[Sync] seeded")
	r.notify()
	return true
}

// Append adds a live event. Events without body or file, and events for
// another channel, are dropped.
func (r *Reconciler) Append(channelID string, msg models.Message) {
	if channelID != r.channel {
		return
	}
	if !msg.HasContent() {
		r.log.Debug().Str("sender", msg.Sender).Msg("[Sync] dropping empty event")
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.now()
	}
	if !r.seeded {
		r.buffer = append(r.buffer, buffered{msg: msg})
		return
	}
	r.merge(msg)
	r.notify()
}

// AddProvisional inserts an optimistic local message. msg must carry a
// correlation id; its status is forced to pending.
func (r *Reconciler) AddProvisional(channelID string, msg models.Message) {
	if channelID != r.channel || msg.CorrelationID == "" {
		return
	}
	msg.Status = models.StatusPending
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.now()
	}
	if !r.seeded {
		r.buffer = append(r.buffer, buffered{msg: msg, provisional: true})
		r.notify()
		return
	}
	r.push(msg)
	r.notify()
}

// MarkSent records that a delivery path accepted the provisional message.
func (r *Reconciler) MarkSent(correlationID string) bool {
	m := r.provisional(correlationID)
	if m == nil || m.Status != models.StatusPending {
		return false
	}
	m.Status = models.StatusSent
	r.notify()
	return true
}

// Confirm finalises the provisional message with server-assigned fields
// from update. It is how an upload response or an echo is adopted.
func (r *Reconciler) Confirm(correlationID string, update models.Message) bool {
	m := r.provisional(correlationID)
	if m == nil {
		return false
	}
	adopt(m, update)
	r.notify()
	return true
}

// Remove rolls back a provisional message, wherever it is.
func (r *Reconciler) Remove(correlationID string) bool {
	if correlationID == "" {
		return false
	}
	for i := range r.msgs {
		if r.msgs[i].CorrelationID == correlationID {
			r.msgs = append(r.msgs[:i], r.msgs[i+1:]...)
			r.notify()
			return true
		}
	}
	for i := range r.buffer {
		if r.buffer[i].msg.CorrelationID == correlationID {
			r.buffer = append(r.buffer[:i], r.buffer[i+1:]...)
			r.notify()
			return true
		}
	}
	return false
}

// Messages returns a snapshot of the sequence. Before the seed it holds
// only the buffered provisional messages.
func (r *Reconciler) Messages() []models.Message {
	if r.seeded {
		return append([]models.Message(nil), r.msgs...)
	}
	var out []models.Message
	for _, b := range r.buffer {
		if b.provisional {
			out = append(out, b.msg)
		}
	}
	return out
}

func (r *Reconciler) push(m models.Message) {
	r.msgs = append(r.msgs, m)
	if r.history != nil {
		r.history = append(r.history, false)
	}
}

func (r *Reconciler) removeAt(i int) {
	r.msgs = append(r.msgs[:i], r.msgs[i+1:]...)
	if i < len(r.history) {
		r.history = append(r.history[:i], r.history[i+1:]...)
	}
}

func (r *Reconciler) merge(msg models.Message) {
	if i := r.matchProvisional(msg); i >= 0 {
		adopt(&r.msgs[i], msg)
		return
	}
	if msg.ID != "" {
		for _, m := range r.msgs {
			if m.ID == msg.ID && m.Sender == msg.Sender {
				return
			}
		}
	}
	msg.Status = models.StatusFinal
	msg.CorrelationID = ""
	r.push(msg)
}

// matchProvisional finds the unconfirmed optimistic entry msg echoes: by
// correlation id when msg carries one, else by sender, content and a
// timestamp within Tolerance.
func (r *Reconciler) matchProvisional(msg models.Message) int {
	for i, m := range r.msgs {
		if m.CorrelationID == "" || m.Status == models.StatusFinal {
			continue
		}
		if msg.CorrelationID != "" {
			if m.CorrelationID == msg.CorrelationID {
				return i
			}
			continue
		}
		if r.sameContent(m, msg) {
			return i
		}
	}
	return -1
}

// claimHistory reports whether a buffered live event is already part of the
// seeded history, and marks that history entry so it is matched only once.
func (r *Reconciler) claimHistory(msg models.Message) bool {
	for i, m := range r.msgs {
		if i >= len(r.history) || !r.history[i] {
			continue
		}
		if (msg.ID != "" && m.ID == msg.ID) || r.sameContent(m, msg) {
			r.history[i] = false
			return true
		}
	}
	return false
}

// claimProvisional reports whether a buffered optimistic message is already
// part of the seeded history, either as the record its echo named by
// serverID or as a record with the same content. The history entry stands
// and is matched only once.
func (r *Reconciler) claimProvisional(msg models.Message, serverID string) bool {
	for i, m := range r.msgs {
		if i >= len(r.history) || !r.history[i] {
			continue
		}
		if (serverID != "" && m.ID == serverID) || r.sameContent(m, msg) {
			r.history[i] = false
			r.msgs[i].Status = models.StatusFinal
			return true
		}
	}
	return false
}

func (r *Reconciler) sameContent(a, b models.Message) bool {
	if a.Sender != b.Sender || a.Kind != b.Kind || a.Body != b.Body {
		return false
	}
	if a.Kind == models.KindFile && a.File != nil && b.File != nil && a.File.Name != b.File.Name {
		return false
	}
	d := a.Timestamp.Sub(b.Timestamp)
	if d < 0 {
		d = -d
	}
	return d <= r.Tolerance
}

func adopt(m *models.Message, update models.Message) {
	if update.ID != "" {
		m.ID = update.ID
	}
	if !update.Timestamp.IsZero() {
		m.Timestamp = update.Timestamp
	}
	if update.Sequence != nil {
		m.Sequence = update.Sequence
	}
	if update.File != nil && update.File.URL != "" {
		m.File = update.File
	}
	m.Status = models.StatusFinal
}

func (r *Reconciler) provisional(correlationID string) *models.Message {
	if correlationID == "" {
		return nil
	}
	for i := range r.msgs {
		if r.msgs[i].CorrelationID == correlationID {
			return &r.msgs[i]
		}
	}
	for i := range r.buffer {
		if r.buffer[i].provisional && r.buffer[i].msg.CorrelationID == correlationID {
			return &r.buffer[i].msg
		}
	}
	return nil
}

func (r *Reconciler) notify() {
	if r.onChange != nil {
		r.onChange(r.Messages())
	}
}
