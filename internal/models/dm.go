package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Participant is a chat user as the API reports it. Username is the
// canonical identifier for every comparison; ID is only a lookup key.
type Participant struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Contact is an entry of the authenticated user's contact list.
type Contact struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Origin says who authored a message relative to the current user.
type Origin int

const (
	OriginRemote Origin = iota
	OriginLocal
)

func (o Origin) String() string {
	if o == OriginLocal {
		return "me"
	}
	return "remote"
}

// Kind is the content kind of a message.
type Kind int

const (
	KindText Kind = iota
	KindFile
)

func (k Kind) String() string {
	if k == KindFile {
		return "file"
	}
	return "text"
}

// Status tracks an optimistic message through delivery.
type Status int

const (
	// StatusFinal is a message confirmed by the server or the peer.
	StatusFinal Status = iota
	// StatusPending is an optimistic message not yet accepted by any path.
	StatusPending
	// StatusSent is an optimistic message accepted by the live channel or the HTTP fallback.
	StatusSent
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	default:
		return "final"
	}
}

// MaxFileSize caps a file message payload.
const MaxFileSize = 25 << 20

// AllowedFileTypes are the media types a file message may carry.
var AllowedFileTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/gif":       true,
	"application/pdf": true,
	"video/mp4":       true,
	"audio/mpeg":      true,
}

// FileRef describes a file message payload.
type FileRef struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
	Name      string `json:"name"`
	Size      *int64 `json:"size,omitempty"`
}

// Message is the unit exchanged and displayed.
type Message struct {
	ID            string    `json:"id,omitempty"`
	Sender        string    `json:"sender"`
	Kind          Kind      `json:"kind"`
	Body          string    `json:"body"`
	File          *FileRef  `json:"file,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Sequence      *int64    `json:"sequence,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Status        Status    `json:"status"`
}

// Origin derives the message origin by comparing the sender with self.
func (m Message) Origin(self string) Origin {
	if self != "" && m.Sender == self {
		return OriginLocal
	}
	return OriginRemote
}

// HasContent reports whether the message carries a body or a file.
func (m Message) HasContent() bool {
	return m.Body != "" || (m.File != nil && m.File.URL != "")
}

// Record is a persisted message as the history endpoint returns it.
type Record struct {
	ID         FlexID   `json:"id,omitempty"`
	Sender     SenderID `json:"sender"`
	Receiver   string   `json:"receiver,omitempty"`
	Message    string   `json:"message"`
	Type       string   `json:"type,omitempty"`
	File       string   `json:"file,omitempty"`
	FileType   string   `json:"file_type,omitempty"`
	FileName   string   `json:"file_name,omitempty"`
	Size       *int64   `json:"size,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
	Timestamps string   `json:"timestamps,omitempty"`
	Index      *int64   `json:"index,omitempty"`
}

// SenderID holds a sender reference that is either a username or a numeric
// user id. Exactly one of Name and ID is meaningful.
type SenderID struct {
	Name    string
	ID      int64
	Numeric bool
}

func (s *SenderID) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "null" {
		*s = SenderID{}
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		*s = SenderID{Name: name}
		return nil
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return err
	}
	*s = SenderID{ID: id, Numeric: true}
	return nil
}

func (s SenderID) MarshalJSON() ([]byte, error) {
	if s.Numeric {
		return []byte(strconv.FormatInt(s.ID, 10)), nil
	}
	return json.Marshal(s.Name)
}

func (s SenderID) String() string {
	if s.Numeric {
		return strconv.FormatInt(s.ID, 10)
	}
	return s.Name
}

// FlexID is an identifier that arrives either as a JSON string or number.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	switch {
	case trimmed == "null":
		*f = ""
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*f = FlexID(n.String())
	}
	return nil
}
