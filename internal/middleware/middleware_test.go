package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type staticTokens map[string]string

func (s staticTokens) ParseAccess(tok string) (string, error) {
	if name, ok := s[tok]; ok {
		return name, nil
	}
	return "", errors.New("bad token")
}

func whoami(w http.ResponseWriter, r *http.Request) {
	name, _ := User(r.Context())
	_, _ = w.Write([]byte(name))
}

func TestAuth(t *testing.T) {
	h := Auth(staticTokens{"t-alice": "alice"})(http.HandlerFunc(whoami))

	cases := []struct {
		name   string
		header string
		query  string
		code   int
		body   string
	}{
		{"bearer", "Bearer t-alice", "", http.StatusOK, "alice"},
		{"query token", "", "?token=t-alice", http.StatusOK, "alice"},
		{"missing", "", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", "", http.StatusUnauthorized, ""},
		{"invalid", "Bearer nope", "", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/API/get-user/"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestCORS(t *testing.T) {
	called := false
	h := CORS("http://127.0.0.1:5173", zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/API/messages/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://127.0.0.1:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/API/contacts/", nil))
	assert.True(t, called)
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
