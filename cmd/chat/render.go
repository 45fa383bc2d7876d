package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Vasu1712/scenyx-chat/internal/conn"
	"github.com/Vasu1712/scenyx-chat/internal/models"
)

// printer writes each message of the reconciled sequence once, as it first
// appears, and notes when an optimistic message is confirmed.
type printer struct {
	out  io.Writer
	self string
	now  func() time.Time

	seen map[string]models.Status
}

func newPrinter(out io.Writer, self string) *printer {
	return &printer{out: out, self: self, now: time.Now, seen: make(map[string]models.Status)}
}

func key(m models.Message) string {
	switch {
	case m.CorrelationID != "":
		return "c:" + m.CorrelationID
	case m.ID != "":
		return "i:" + m.ID
	default:
		return "t:" + m.Sender + "|" + strconv.FormatInt(m.Timestamp.UnixNano(), 10) + "|" + m.Body
	}
}

func (p *printer) messages(msgs []models.Message) {
	if len(msgs) == 0 {
		clear(p.seen)
		return
	}
	for _, m := range msgs {
		k := key(m)
		prev, ok := p.seen[k]
		p.seen[k] = m.Status
		switch {
		case !ok:
			fmt.Fprintln(p.out, p.line(m))
		case prev != models.StatusFinal && m.Status == models.StatusFinal:
			fmt.Fprintf(p.out, "  delivered: %s\n", summary(m))
		}
	}
}

func (p *printer) line(m models.Message) string {
	who := m.Sender
	if m.Origin(p.self) == models.OriginLocal {
		who = "you"
	}
	when := "now"
	if !m.Timestamp.IsZero() {
		when = humanize.RelTime(m.Timestamp, p.now(), "ago", "from now")
	}
	s := fmt.Sprintf("[%s] %s: %s", when, who, summary(m))
	if m.Status != models.StatusFinal {
		s += " (" + m.Status.String() + ")"
	}
	return s
}

func summary(m models.Message) string {
	if m.Kind != models.KindFile || m.File == nil {
		return m.Body
	}
	s := "📎 " + m.File.Name
	if m.File.Size != nil {
		s += " (" + humanize.IBytes(uint64(*m.File.Size)) + ")"
	}
	if m.File.URL != "" {
		s += " " + m.File.URL
	}
	if m.Body != "" {
		s += " " + m.Body
	}
	return s
}

func (p *printer) status(st conn.Status) {
	switch {
	case st.Err != nil:
		fmt.Fprintf(p.out, "-- %s: %v\n", st.State, st.Err)
	case st.ChannelID != "":
		fmt.Fprintf(p.out, "-- %s %s\n", st.ChannelID, st.State)
	}
}

func (p *printer) err(err error) {
	fmt.Fprintf(p.out, "!! %v\n", err)
}
