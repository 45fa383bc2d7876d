package chat

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Vasu1712/scenyx-chat/internal/middleware"
)

// RegisterRoutes mounts the chat endpoints. api is the /API/ subrouter and
// root the top-level router, which carries the socket and media paths.
func RegisterRoutes(root, api *mux.Router, h *Handler) {
	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.Auth(h.Tokens))
	authed.Use(h.logRequests)

	authed.HandleFunc("/get-user/", h.GetUser).Methods(http.MethodGet)
	authed.HandleFunc("/contacts/", h.ListContacts).Methods(http.MethodGet)
	authed.HandleFunc("/messages/", h.SendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/messages/{peer:[0-9]+}/files/", h.UploadFile).Methods(http.MethodPost)
	authed.HandleFunc("/messages/{room}/", h.GetMessages).Methods(http.MethodGet)

	// Sockets authenticate themselves so the handshake can carry the
	// token in the query string.
	root.HandleFunc("/ws/chat/{room}/", h.ServeWS)
	root.PathPrefix(MediaPrefix).Handler(h.Media()).Methods(http.MethodGet, http.MethodHead)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("[DM] request")
		next.ServeHTTP(w, r)
	})
}
