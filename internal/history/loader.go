// Package history fetches the persisted messages of a channel.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-chat/internal/frames"
	"github.com/Vasu1712/scenyx-chat/internal/models"
)

// ErrNotSequence is the format error for a history body that is not an array.
var ErrNotSequence = errors.New("invalid messages format")

// Getter issues one authenticated read.
type Getter interface {
	Get(ctx context.Context, path string) ([]byte, error)
}

// SenderResolver maps a raw sender reference to the canonical username.
type SenderResolver interface {
	Username(s models.SenderID) string
}

type Loader struct {
	api       Getter
	mediaBase *url.URL
	log       zerolog.Logger
}

// NewLoader returns a loader that resolves relative file paths against mediaBase.
func NewLoader(api Getter, mediaBase string, log zerolog.Logger) (*Loader, error) {
	base, err := url.Parse(mediaBase)
	if err != nil {
		return nil, fmt.Errorf("invalid media base url: %w", err)
	}
	return &Loader{api: api, mediaBase: base, log: log.With().Str("component", "history").Logger()}, nil
}

// Path is the history endpoint for channelID.
func Path(channelID string) string {
	return "messages/" + channelID + "/"
}

// Load fetches and normalises the history of channelID. It does not retry.
func (l *Loader) Load(ctx context.Context, channelID string, senders SenderResolver) ([]models.Message, error) {
	data, err := l.api.Get(ctx, Path(channelID))
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, models.NewError(models.ErrKindFormat, "load history", ErrNotSequence)
	}
	var records []models.Record
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, models.NewError(models.ErrKindFormat, "load history", err)
	}

	entries := make([]entry, 0, len(records))
	for i, rec := range records {
		// An unreadable timestamp counts as missing; the record still shows.
		ts, err := frames.ParseTimestamp(firstNonEmpty(rec.Timestamps, rec.Timestamp))
		if err != nil {
			l.log.Warn().Err(err).Str("channel", channelID).Int("record", i).Msg("[History] ignoring timestamp")
			ts = time.Time{}
		}
		entries = append(entries, entry{rec: rec, ts: ts})
	}
	order(entries)

	out := make([]models.Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, l.normalize(e, senders))
	}
	l.log.Debug().Str("channel", channelID).Int("count", len(out)).Msg("[History] loaded")
	return out, nil
}

type entry struct {
	rec models.Record
	ts  time.Time
}

// order sorts by timestamp when every record has one, else by index when
// every record has one, else keeps source order.
func order(entries []entry) {
	if len(entries) < 2 {
		return
	}
	allTS, allIdx := true, true
	for _, e := range entries {
		if e.ts.IsZero() {
			allTS = false
		}
		if e.rec.Index == nil {
			allIdx = false
		}
	}
	switch {
	case allTS:
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].ts.Before(entries[j].ts) })
	case allIdx:
		sort.SliceStable(entries, func(i, j int) bool { return *entries[i].rec.Index < *entries[j].rec.Index })
	}
}

func (l *Loader) normalize(e entry, senders SenderResolver) models.Message {
	rec := e.rec
	sender := rec.Sender.Name
	if senders != nil {
		sender = senders.Username(rec.Sender)
	}
	msg := models.Message{
		ID:        string(rec.ID),
		Sender:    sender,
		Kind:      models.KindText,
		Body:      rec.Message,
		Timestamp: e.ts,
		Sequence:  rec.Index,
		Status:    models.StatusFinal,
	}
	if rec.Type == "file" || rec.File != "" {
		msg.Kind = models.KindFile
		msg.File = &models.FileRef{
			URL:       l.ResolveMedia(rec.File),
			MediaType: rec.FileType,
			Name:      firstNonEmpty(rec.FileName, rec.Message, "File"),
			Size:      rec.Size,
		}
	}
	return msg
}

// ResolveMedia turns a server-relative file path into an absolute URL.
func (l *Loader) ResolveMedia(path string) string {
	if path == "" {
		return ""
	}
	ref, err := url.Parse(path)
	if err != nil {
		return path
	}
	return l.mediaBase.ResolveReference(ref).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
