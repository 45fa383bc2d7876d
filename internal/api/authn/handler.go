package authn

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-chat/internal/api"
)

type Handler struct {
	Users  *Users
	Issuer *Issuer
	Log    zerolog.Logger
}

// Token exchanges a username and password for a token pair.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, ok := h.Users.Verify(req.Username, req.Password)
	if !ok {
		h.Log.Warn().Str("user", req.Username).Msg("[Auth] bad credentials")
		api.Error(w, http.StatusUnauthorized, "no active account found with the given credentials")
		return
	}
	access, refresh, err := h.Issuer.Issue(u.Username)
	if err != nil {
		h.Log.Error().Err(err).Msg("[Auth] issue tokens")
		api.Error(w, http.StatusInternalServerError, "could not issue tokens")
		return
	}
	h.Log.Info().Str("user", u.Username).Msg("[Auth] login")
	api.JSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

// Refresh mints a new access token from a refresh token.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Refresh == "" {
		api.Error(w, http.StatusBadRequest, "refresh token required")
		return
	}
	name, err := h.Issuer.ParseRefresh(req.Refresh)
	if err != nil {
		api.Error(w, http.StatusUnauthorized, "token is invalid or expired")
		return
	}
	if _, ok := h.Users.ByName(name); !ok {
		api.Error(w, http.StatusUnauthorized, "user not found")
		return
	}
	access, err := h.Issuer.Access(name)
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	api.JSON(w, http.StatusOK, map[string]string{"access": access})
}

// RegisterRoutes mounts the token endpoints on r, which is the /API/ subrouter.
func RegisterRoutes(r *mux.Router, h *Handler) {
	r.HandleFunc("/token/", h.Token).Methods(http.MethodPost)
	r.HandleFunc("/token/refresh/", h.Refresh).Methods(http.MethodPost)
}
