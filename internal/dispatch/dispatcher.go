// Package dispatch sends the user's outbound messages: optimistically into
// the reconciled sequence, then over the live channel when it is open and
// over one HTTP fallback request when it is not.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-chat/internal/eventloop"
	"github.com/Vasu1712/scenyx-chat/internal/frames"
	"github.com/Vasu1712/scenyx-chat/internal/models"
)

const (
	SendPath    = "messages/"
	MaxFileSize = models.MaxFileSize
)

var (
	ErrEmptyText      = errors.New("message is empty")
	ErrNoConversation = errors.New("no conversation selected")
	ErrNoUser         = errors.New("current user unknown")
	ErrBusy           = errors.New("a message is already being sent")
	ErrFileType       = errors.New("unsupported file type")
	ErrFileTooLarge   = errors.New("file too large")
	ErrUploadRejected = errors.New("upload rejected")
)

// Channel is the live write path.
type Channel interface {
	Send(payload []byte) bool
}

// API is the authenticated HTTP path.
type API interface {
	PostJSON(ctx context.Context, path string, in, out any) error
	Do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error)
}

// Sequence is where optimistic messages live until confirmed.
type Sequence interface {
	AddProvisional(channelID string, msg models.Message)
	MarkSent(correlationID string) bool
	Confirm(correlationID string, update models.Message) bool
	Remove(correlationID string) bool
}

// Target identifies the selected conversation.
type Target struct {
	ChannelID string
	Self      string
	Peer      string
	PeerID    int64
}

// Upload is one file to send.
type Upload struct {
	Name      string
	MediaType string
	Data      []byte
	Caption   string
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type uploadResponse struct {
	Success   bool          `json:"success"`
	FileURL   string        `json:"fileUrl"`
	MessageID models.FlexID `json:"messageId"`
	Timestamp string        `json:"timestamp"`
	Message   string        `json:"message"`
}

type Dispatcher struct {
	channel Channel
	api     API
	seq     Sequence
	exec    eventloop.Executor
	log     zerolog.Logger

	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// ResolveMedia makes server file paths absolute.
	ResolveMedia func(string) string

	onError func(error)
	busy    bool
	now     func() time.Time
}

func New(ch Channel, api API, seq Sequence, exec eventloop.Executor, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		channel: ch,
		api:     api,
		seq:     seq,
		exec:    exec,
		log:     log.With().Str("component", "dispatch").Logger(),
		Timeout: 30 * time.Second,
		now:     time.Now,
	}
}

// OnError registers the receiver of asynchronous dispatch failures.
func (d *Dispatcher) OnError(fn func(error)) { d.onError = fn }

// Busy reports whether a fallback send or an upload is in flight.
func (d *Dispatcher) Busy() bool { return d.busy }

func (d *Dispatcher) check(t Target) error {
	switch {
	case t.ChannelID == "" || t.Peer == "":
		return ErrNoConversation
	case t.Self == "":
		return ErrNoUser
	case d.busy:
		return ErrBusy
	}
	return nil
}

// Dispatch sends text to the selected conversation. Precondition failures
// are returned synchronously and nothing is sent. Otherwise the message is
// inserted optimistically and written to the live channel, or, when the
// channel does not accept it, posted exactly once over HTTP in the
// background; a fallback failure rolls the message back and is reported
// through OnError.
func (d *Dispatcher) Dispatch(t Target, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.NewError(models.ErrKindDispatch, "dispatch", ErrEmptyText)
	}
	if err := d.check(t); err != nil {
		return models.NewError(models.ErrKindDispatch, "dispatch", err)
	}

	cid := uuid.NewString()
	d.seq.AddProvisional(t.ChannelID, models.Message{
		Sender:        t.Self,
		Kind:          models.KindText,
		Body:          text,
		Timestamp:     d.now(),
		CorrelationID: cid,
	})

	payload, err := frames.EncodeChat(t.Self, t.Peer, text, cid)
	if err == nil && d.channel.Send(payload) {
		d.seq.MarkSent(cid)
		d.log.Debug().Str("channel", t.ChannelID).Str("cid", cid).Msg("[DM] sent over live channel")
		return nil
	}

	d.log.Info().Str("channel", t.ChannelID).Str("cid", cid).Msg("[DM] live channel unavailable, using HTTP")
	d.busy = true
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
		defer cancel()
		err := d.api.PostJSON(ctx, SendPath, sendRequest{To: t.Peer, Text: text}, nil)
		d.exec.Post(func() {
			d.busy = false
			if err != nil {
				d.fail(cid, "send message", err)
				return
			}
			d.seq.MarkSent(cid)
		})
	}()
	return nil
}

// DispatchFile uploads a file to the selected conversation. Files never use
// the live channel.
func (d *Dispatcher) DispatchFile(t Target, up Upload) error {
	if !models.AllowedFileTypes[up.MediaType] {
		return models.NewError(models.ErrKindDispatch, "dispatch file", fmt.Errorf("%w: %q", ErrFileType, up.MediaType))
	}
	if len(up.Data) > MaxFileSize {
		return models.NewError(models.ErrKindDispatch, "dispatch file",
			fmt.Errorf("%w: %s exceeds %s", ErrFileTooLarge, humanize.IBytes(uint64(len(up.Data))), humanize.IBytes(MaxFileSize)))
	}
	if err := d.check(t); err != nil {
		return models.NewError(models.ErrKindDispatch, "dispatch file", err)
	}
	if t.PeerID == 0 {
		return models.NewError(models.ErrKindDispatch, "dispatch file", fmt.Errorf("%w: peer id unknown", ErrNoConversation))
	}
	name := up.Name
	if name == "" {
		name = "File"
	}

	body, contentType, err := multipartBody(name, up)
	if err != nil {
		return models.NewError(models.ErrKindDispatch, "dispatch file", err)
	}

	size := int64(len(up.Data))
	cid := uuid.NewString()
	d.seq.AddProvisional(t.ChannelID, models.Message{
		Sender:        t.Self,
		Kind:          models.KindFile,
		Body:          up.Caption,
		File:          &models.FileRef{MediaType: up.MediaType, Name: name, Size: &size},
		Timestamp:     d.now(),
		CorrelationID: cid,
	})

	d.busy = true
	path := "messages/" + strconv.FormatInt(t.PeerID, 10) + "/files/"
	d.log.Info().Str("file", name).Str("size", humanize.IBytes(uint64(size))).Msg("[DM] uploading")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
		defer cancel()
		resp, err := d.upload(ctx, path, contentType, body)
		d.exec.Post(func() {
			d.busy = false
			if err != nil {
				d.fail(cid, "upload file", err)
				return
			}
			d.confirmUpload(cid, name, up, size, resp)
		})
	}()
	return nil
}

func (d *Dispatcher) upload(ctx context.Context, path, contentType string, body []byte) (uploadResponse, error) {
	var resp uploadResponse
	data, err := d.api.Do(ctx, http.MethodPost, path, contentType, body)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, models.NewError(models.ErrKindFormat, "upload file", err)
	}
	if !resp.Success || resp.FileURL == "" {
		reason := resp.Message
		if reason == "" {
			reason = "no file url returned"
		}
		return resp, fmt.Errorf("%w: %s", ErrUploadRejected, reason)
	}
	return resp, nil
}

func (d *Dispatcher) confirmUpload(cid, name string, up Upload, size int64, resp uploadResponse) {
	url := resp.FileURL
	if d.ResolveMedia != nil {
		url = d.ResolveMedia(url)
	}
	ts, err := frames.ParseTimestamp(resp.Timestamp)
	if err != nil {
		d.log.Debug().Err(err).Msg("[DM] upload timestamp ignored")
	}
	d.seq.Confirm(cid, models.Message{
		ID:        string(resp.MessageID),
		Timestamp: ts,
		File:      &models.FileRef{URL: url, MediaType: up.MediaType, Name: name, Size: &size},
	})
}

func (d *Dispatcher) fail(cid, op string, err error) {
	d.seq.Remove(cid)
	derr := models.NewError(models.ErrKindDispatch, op, err)
	d.log.Error().Err(err).Str("cid", cid).Msg("[DM] " + op + " failed")
	if d.onError != nil {
		d.onError(derr)
	}
}

func multipartBody(name string, up Upload) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", up.MediaType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(up.Data); err != nil {
		return nil, "", err
	}
	if up.Caption != "" {
		if err := w.WriteField("message", up.Caption); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
