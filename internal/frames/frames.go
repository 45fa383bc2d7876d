// Package frames encodes and decodes live-channel frames. Every frame is a
// JSON object tagged by an explicit "type"; anything else is a format error.
package frames

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Vasu1712/scenyx-chat/internal/models"
)

// Type discriminates frames.
type Type string

const (
	TypeChatMessage Type = "chat_message"
	TypeFileMessage Type = "file_message"
)

var (
	ErrMissingType = errors.New("frame has no type")
	ErrUnknownType = errors.New("unknown frame type")
)

// Frame is the wire shape shared by inbound and outbound frames.
type Frame struct {
	Type          Type   `json:"type"`
	Message       string `json:"message"`
	Sender        string `json:"sender"`
	Receiver      string `json:"receiver,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ID            string `json:"id,omitempty"`

	FileURL  string `json:"file_url,omitempty"`
	FileType string `json:"file_type,omitempty"`
	FileName string `json:"file_name,omitempty"`
	Size     *int64 `json:"size,omitempty"`
}

// Inbound is a decoded frame. Exactly one of Chat and File is set.
type Inbound struct {
	Type Type
	Chat *ChatMessage
	File *FileMessage
}

type ChatMessage struct {
	ID            string
	Sender        string
	Receiver      string
	Text          string
	Timestamp     time.Time
	CorrelationID string
}

type FileMessage struct {
	ID            string
	Sender        string
	Receiver      string
	Caption       string
	URL           string
	MediaType     string
	Name          string
	Size          *int64
	Timestamp     time.Time
	CorrelationID string
}

// Decode parses one inbound frame.
func Decode(data []byte) (Inbound, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Inbound{}, models.NewError(models.ErrKindFormat, "decode frame", err)
	}
	ts, err := ParseTimestamp(f.Timestamp)
	if err != nil {
		return Inbound{}, models.NewError(models.ErrKindFormat, "decode frame", err)
	}
	switch f.Type {
	case TypeChatMessage:
		return Inbound{Type: f.Type, Chat: &ChatMessage{
			ID:            f.ID,
			Sender:        f.Sender,
			Receiver:      f.Receiver,
			Text:          f.Message,
			Timestamp:     ts,
			CorrelationID: f.CorrelationID,
		}}, nil
	case TypeFileMessage:
		return Inbound{Type: f.Type, File: &FileMessage{
			ID:            f.ID,
			Sender:        f.Sender,
			Receiver:      f.Receiver,
			Caption:       f.Message,
			URL:           f.FileURL,
			MediaType:     f.FileType,
			Name:          f.FileName,
			Size:          f.Size,
			Timestamp:     ts,
			CorrelationID: f.CorrelationID,
		}}, nil
	case "":
		return Inbound{}, models.NewError(models.ErrKindFormat, "decode frame", ErrMissingType)
	default:
		return Inbound{}, models.NewError(models.ErrKindFormat, "decode frame", fmt.Errorf("%w: %q", ErrUnknownType, f.Type))
	}
}

// Message converts an inbound frame to the common message shape. File URLs
// are left as received; callers resolve them against their media base.
func (in Inbound) Message() models.Message {
	switch {
	case in.Chat != nil:
		return models.Message{
			ID:            in.Chat.ID,
			Sender:        in.Chat.Sender,
			Kind:          models.KindText,
			Body:          in.Chat.Text,
			Timestamp:     in.Chat.Timestamp,
			CorrelationID: in.Chat.CorrelationID,
		}
	case in.File != nil:
		name := in.File.Name
		if name == "" {
			name = "File"
		}
		return models.Message{
			ID:     in.File.ID,
			Sender: in.File.Sender,
			Kind:   models.KindFile,
			Body:   in.File.Caption,
			File: &models.FileRef{
				URL:       in.File.URL,
				MediaType: in.File.MediaType,
				Name:      name,
				Size:      in.File.Size,
			},
			Timestamp:     in.File.Timestamp,
			CorrelationID: in.File.CorrelationID,
		}
	}
	return models.Message{}
}

// EncodeChat builds an outbound chat_message frame.
func EncodeChat(sender, receiver, text, correlationID string) ([]byte, error) {
	return json.Marshal(Frame{
		Type:          TypeChatMessage,
		Message:       text,
		Sender:        sender,
		Receiver:      receiver,
		CorrelationID: correlationID,
	})
}

// Encode marshals f after checking its discriminator.
func Encode(f Frame) ([]byte, error) {
	switch f.Type {
	case TypeChatMessage, TypeFileMessage:
		return json.Marshal(f)
	case "":
		return nil, ErrMissingType
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an ISO-8601 instant. An empty string yields the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// FormatTimestamp renders t the way the relay stores it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
