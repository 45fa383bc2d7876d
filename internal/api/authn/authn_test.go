package authn

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUsers(t *testing.T) *Users {
	t.Helper()
	u, err := NewUsers(map[string]string{"bob": "pw-b", "alice": "pw-a"})
	require.NoError(t, err)
	return u
}

func TestUsers(t *testing.T) {
	u := newUsers(t)
	alice, ok := u.Verify("alice", "pw-a")
	require.True(t, ok)
	assert.Equal(t, int64(1), alice.ID)

	_, ok = u.Verify("alice", "wrong")
	assert.False(t, ok)
	_, ok = u.Verify("mallory", "pw-a")
	assert.False(t, ok)

	bob, ok := u.ByID(2)
	require.True(t, ok)
	assert.Equal(t, "bob", bob.Username)
	assert.Equal(t, []string{"alice", "bob"}, u.Names())

	contacts := u.Contacts("alice")
	require.Len(t, contacts, 1)
	assert.Equal(t, "bob", contacts[0].Name)
	assert.Equal(t, int64(2), contacts[0].ID)
}

func TestIssuer(t *testing.T) {
	iss := NewIssuer("secret", time.Minute)
	access, refresh, err := iss.Issue("alice")
	require.NoError(t, err)

	name, err := iss.ParseAccess(access)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	_, err = iss.ParseAccess(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
	name, err = iss.ParseRefresh(refresh)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	other := NewIssuer("other-secret", time.Minute)
	_, err = other.ParseAccess(access)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewIssuer("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.Access("alice")
	require.NoError(t, err)
	_, err = iss.ParseAccess(old)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func router(t *testing.T) (*mux.Router, *Issuer) {
	iss := NewIssuer("secret", time.Minute)
	r := mux.NewRouter()
	RegisterRoutes(r.PathPrefix("/API").Subrouter(), &Handler{Users: newUsers(t), Issuer: iss, Log: zerolog.Nop()})
	return r, iss
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func TestHandler_LoginAndRefresh(t *testing.T) {
	r, iss := router(t)

	rec := post(r, "/API/token/", `{"username":"alice","password":"pw-a"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var pair map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	name, err := iss.ParseAccess(pair["access"])
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	rec = post(r, "/API/token/refresh/", `{"refresh":"`+pair["refresh"]+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var fresh map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fresh))
	assert.NotEmpty(t, fresh["access"])
	assert.Empty(t, fresh["refresh"])
}

func TestHandler_Rejections(t *testing.T) {
	r, _ := router(t)
	assert.Equal(t, http.StatusUnauthorized, post(r, "/API/token/", `{"username":"alice","password":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(r, "/API/token/", `not json`).Code)
	assert.Equal(t, http.StatusUnauthorized, post(r, "/API/token/refresh/", `{"refresh":"garbage"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(r, "/API/token/refresh/", `{}`).Code)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/API/token/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
