// Package chat serves the relay's conversation endpoints: user and contact
// lookup, room history, the send fallback, file uploads and the live socket.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-chat/internal/api"
	"github.com/Vasu1712/scenyx-chat/internal/frames"
	"github.com/Vasu1712/scenyx-chat/internal/metrics"
	"github.com/Vasu1712/scenyx-chat/internal/middleware"
	"github.com/Vasu1712/scenyx-chat/internal/models"
	"github.com/Vasu1712/scenyx-chat/internal/room"
	"github.com/Vasu1712/scenyx-chat/internal/storage"
	"github.com/Vasu1712/scenyx-chat/internal/ws"
)

// MediaPrefix is the URL path uploaded files are served under.
const MediaPrefix = "/media/"

// Directory is the relay's user registry.
type Directory interface {
	ByName(name string) (models.Participant, bool)
	ByID(id int64) (models.Participant, bool)
	Names() []string
	Contacts(self string) []models.Contact
}

type Handler struct {
	Store     storage.MessageStore
	Hub       *ws.Hub
	Users     Directory
	Tokens    middleware.TokenParser
	Metrics   *metrics.Metrics
	UploadDir string
	MaxUpload int64
	// Origin is the browser origin allowed to open sockets. Empty allows any.
	Origin string
	Log    zerolog.Logger

	now func() time.Time
}

func (h *Handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

// GetUser returns the authenticated user.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	name, _ := middleware.User(r.Context())
	u, ok := h.Users.ByName(name)
	if !ok {
		api.Error(w, http.StatusNotFound, "user not found")
		return
	}
	api.JSON(w, http.StatusOK, u)
}

// ListContacts returns every other user.
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	name, _ := middleware.User(r.Context())
	api.JSON(w, http.StatusOK, h.Users.Contacts(name))
}

// member reports the peer of user in roomID, or false when user is not one
// of its two participants. The room name is matched against every possible
// pair rather than split, since usernames may contain the separator.
func (h *Handler) member(roomID, user string) (string, bool) {
	return room.Member(roomID, user, h.Users.Names())
}

// GetMessages returns the history of a room.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.User(r.Context())
	roomID := mux.Vars(r)["room"]
	if _, ok := h.member(roomID, user); !ok {
		api.Error(w, http.StatusForbidden, "not a participant of this room")
		return
	}
	recs, err := h.Store.List(r.Context(), roomID)
	if err != nil {
		h.Log.Error().Err(err).Str("room", roomID).Msg("[DM] list messages")
		api.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	api.JSON(w, http.StatusOK, recs)
}

// SendMessage persists a text message and pushes it to the room, for
// clients whose live socket is down.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.User(r.Context())
	var req struct {
		To   string `json:"to"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.To == "" || req.Text == "" {
		api.Error(w, http.StatusBadRequest, "to and text are required")
		return
	}
	if _, ok := h.Users.ByName(req.To); !ok {
		api.Error(w, http.StatusNotFound, "recipient not found")
		return
	}
	roomID, err := room.Resolve(user, req.To)
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.persist(r.Context(), roomID, frames.Frame{
		Type:     frames.TypeChatMessage,
		Message:  req.Text,
		Sender:   user,
		Receiver: req.To,
	}, metrics.SourceHTTP)
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	api.JSON(w, http.StatusCreated, rec)
}

type uploadResponse struct {
	Success   bool          `json:"success"`
	FileURL   string        `json:"fileUrl,omitempty"`
	MessageID models.FlexID `json:"messageId,omitempty"`
	Timestamp string        `json:"timestamp,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// UploadFile stores a multipart file for the conversation with the peer
// whose id is in the path and pushes a file message to the room.
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.User(r.Context())
	peerID, err := strconv.ParseInt(mux.Vars(r)["peer"], 10, 64)
	if err != nil {
		api.JSON(w, http.StatusBadRequest, uploadResponse{Message: "invalid peer id"})
		return
	}
	peer, ok := h.Users.ByID(peerID)
	if !ok || peer.Username == user {
		api.JSON(w, http.StatusNotFound, uploadResponse{Message: "recipient not found"})
		return
	}
	roomID, err := room.Resolve(user, peer.Username)
	if err != nil {
		api.JSON(w, http.StatusBadRequest, uploadResponse{Message: err.Error()})
		return
	}

	limit := h.MaxUpload
	if limit <= 0 {
		limit = models.MaxFileSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.JSON(w, http.StatusRequestEntityTooLarge, uploadResponse{Message: "file exceeds " + humanize.IBytes(uint64(limit))})
			return
		}
		api.JSON(w, http.StatusBadRequest, uploadResponse{Message: "invalid multipart body"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		api.JSON(w, http.StatusBadRequest, uploadResponse{Message: "file is required"})
		return
	}
	defer file.Close()

	mediaType := header.Header.Get("Content-Type")
	if !models.AllowedFileTypes[mediaType] {
		api.JSON(w, http.StatusUnsupportedMediaType, uploadResponse{Message: fmt.Sprintf("unsupported file type %q", mediaType)})
		return
	}
	if header.Size > limit {
		api.JSON(w, http.StatusRequestEntityTooLarge, uploadResponse{Message: "file exceeds " + humanize.IBytes(uint64(limit))})
		return
	}

	name := filepath.Base(header.Filename)
	stored, size, err := h.save(file, name)
	if err != nil {
		h.Log.Error().Err(err).Str("file", name).Msg("[DM] store upload")
		api.JSON(w, http.StatusInternalServerError, uploadResponse{Message: "failed to store file"})
		return
	}
	h.Metrics.UploadBytes.Add(float64(size))

	rec, err := h.persist(r.Context(), roomID, frames.Frame{
		Type:     frames.TypeFileMessage,
		Message:  r.FormValue("message"),
		Sender:   user,
		Receiver: peer.Username,
		FileURL:  MediaPrefix + url.PathEscape(stored),
		FileType: mediaType,
		FileName: name,
		Size:     &size,
	}, metrics.SourceUpload)
	if err != nil {
		api.JSON(w, http.StatusInternalServerError, uploadResponse{Message: "failed to record file message"})
		return
	}
	h.Log.Info().Str("room", roomID).Str("file", name).Str("size", humanize.IBytes(uint64(size))).Msg("[DM] file uploaded")
	api.JSON(w, http.StatusCreated, uploadResponse{
		Success:   true,
		FileURL:   rec.File,
		MessageID: rec.ID,
		Timestamp: rec.Timestamp,
	})
}

func (h *Handler) save(src io.Reader, name string) (string, int64, error) {
	if err := os.MkdirAll(h.UploadDir, 0o755); err != nil {
		return "", 0, err
	}
	stored := uuid.NewString() + "-" + name
	dst, err := os.Create(filepath.Join(h.UploadDir, stored))
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, err
	}
	return stored, n, nil
}

// Media serves stored uploads.
func (h *Handler) Media() http.Handler {
	return http.StripPrefix(MediaPrefix, http.FileServer(http.Dir(h.UploadDir)))
}

// persist stores f as a record of roomID and broadcasts the stored frame,
// stamped with the server id and timestamp, to every socket in the room.
func (h *Handler) persist(ctx context.Context, roomID string, f frames.Frame, source string) (models.Record, error) {
	rec := models.Record{
		Sender:    models.SenderID{Name: f.Sender},
		Receiver:  f.Receiver,
		Message:   f.Message,
		Type:      "text",
		Timestamp: frames.FormatTimestamp(h.clock()),
	}
	if f.Type == frames.TypeFileMessage {
		rec.Type = "file"
		rec.File = f.FileURL
		rec.FileType = f.FileType
		rec.FileName = f.FileName
		rec.Size = f.Size
	}
	stored, err := h.Store.Append(ctx, roomID, rec)
	if err != nil {
		h.Log.Error().Err(err).Str("room", roomID).Msg("[DM] persist message")
		return models.Record{}, err
	}
	h.Metrics.Messages.WithLabelValues(source).Inc()

	f.ID = string(stored.ID)
	f.Timestamp = stored.Timestamp
	data, err := frames.Encode(f)
	if err != nil {
		return stored, err
	}
	h.Hub.Broadcast(roomID, data)
	return stored, nil
}

// ServeWS upgrades a participant of the room to a live socket. Every
// chat_message frame it sends is persisted and echoed to the whole room,
// sender included, with the sender's correlation id preserved.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room"]
	user, ok := h.authenticate(r)
	if !ok {
		api.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if _, ok := h.member(roomID, user); !ok {
		api.Error(w, http.StatusForbidden, "not a participant of this room")
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: h.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn().Err(err).Msg("[WS] upgrade")
		return
	}
	client := ws.NewClient(user, roomID, conn)
	if !h.Hub.Register(client) {
		conn.Close()
		return
	}
	h.Metrics.Sockets.Inc()
	h.Log.Info().Str("room", roomID).Str("user", user).Msg("[WS] connected")

	go h.Hub.WritePump(client)
	go func() {
		defer h.Metrics.Sockets.Dec()
		h.Hub.ReadPump(client, func(data []byte) { h.receive(client, data) })
	}()
}

func (h *Handler) receive(c *ws.Client, data []byte) {
	in, err := frames.Decode(data)
	if err != nil {
		h.Metrics.DroppedFrames.Inc()
		h.Log.Warn().Err(err).Str("room", c.Room).Msg("[WS] dropping frame")
		return
	}
	if in.Chat == nil {
		h.Metrics.DroppedFrames.Inc()
		h.Log.Warn().Str("type", string(in.Type)).Str("room", c.Room).Msg("[WS] files must be uploaded over HTTP")
		return
	}
	text := strings.TrimSpace(in.Chat.Text)
	if text == "" {
		return
	}
	peer, _ := h.member(c.Room, c.User)
	// The socket's user is the sender whatever the frame claims.
	_, err = h.persist(context.Background(), c.Room, frames.Frame{
		Type:          frames.TypeChatMessage,
		Message:       text,
		Sender:        c.User,
		Receiver:      peer,
		CorrelationID: in.Chat.CorrelationID,
	}, metrics.SourceSocket)
	if err != nil {
		h.Log.Error().Err(err).Str("room", c.Room).Msg("[WS] persist frame")
	}
}

func (h *Handler) authenticate(r *http.Request) (string, bool) {
	tok := middleware.BearerToken(r)
	if tok == "" {
		return "", false
	}
	name, err := h.Tokens.ParseAccess(tok)
	if err != nil {
		return "", false
	}
	return name, true
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || h.Origin == "" || origin == h.Origin
}
