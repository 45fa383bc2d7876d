package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *httptest.Server, tokens *Tokens) *Client {
	t.Helper()
	c, err := New(srv.URL+"/API", tokens, srv.Client(), zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestClient_AttachesBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/API/get-user/", r.URL.Path)
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":1,"username":"alice"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv, NewTokens("abc", "r"))
	var out struct {
		Username string `json:"username"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "get-user/", &out))
	assert.Equal(t, "alice", out.Username)
}

func TestClient_KeepsEscapedPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/API/messages/a%2Fbandz/", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newClient(t, srv, NewTokens("abc", ""))
	data, err := c.Get(context.Background(), "messages/a%2Fbandz/")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestClient_RefreshesOnceOn401AndRetries(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/API/token/refresh/":
			refreshes.Add(1)
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "refresh-1", body["refresh"])
			_, _ = w.Write([]byte(`{"access":"fresh","refresh":"refresh-2"}`))
		case "/API/contacts/":
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	tokens := NewTokens("stale", "refresh-1")
	c := newClient(t, srv, tokens)
	data, err := c.Get(context.Background(), "contacts/")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, "fresh", tokens.Access())
	assert.Equal(t, "refresh-2", tokens.Refresh())
}

func TestClient_ConcurrentCallersShareOneRefresh(t *testing.T) {
	const callers = 8
	var refreshes atomic.Int32
	var arrived atomic.Int32
	barrier := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/API/token/refresh/" {
			refreshes.Add(1)
			time.Sleep(150 * time.Millisecond)
			_, _ = w.Write([]byte(`{"access":"fresh"}`))
			return
		}
		if r.Header.Get("Authorization") == "Bearer fresh" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		if arrived.Add(1) == callers {
			close(barrier)
		}
		<-barrier
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newClient(t, srv, NewTokens("stale", "r"))
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Get(context.Background(), "messages/AandB/")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), refreshes.Load())
}

func TestClient_RefreshFailureClearsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := NewTokens("stale", "dead")
	c := newClient(t, srv, tokens)
	_, err := c.Get(context.Background(), "contacts/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Empty(t, tokens.Access())
	assert.Empty(t, tokens.Refresh())
}

func TestClient_NoRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newClient(t, srv, NewTokens("stale", ""))
	_, err := c.Get(context.Background(), "contacts/")
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestClient_ProactiveRefreshOfExpiredJWT(t *testing.T) {
	expiredTok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	var seen []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Path+" "+r.Header.Get("Authorization"))
		mu.Unlock()
		if r.URL.Path == "/API/token/refresh/" {
			_, _ = w.Write([]byte(`{"access":"fresh"}`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newClient(t, srv, NewTokens(expiredTok, "r"))
	_, err = c.Get(context.Background(), "contacts/")
	require.NoError(t, err)
	assert.Equal(t, []string{"/API/token/refresh/ ", "/API/contacts/ Bearer fresh"}, seen)
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newClient(t, srv, NewTokens("a", "r"))
	err := c.PostJSON(context.Background(), "messages/", map[string]string{"to": "bob", "text": "hi"}, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "boom", se.Body)
}

func TestClient_Login(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/API/token/", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"access":"a1","refresh":"r1"}`))
	}))
	defer srv.Close()

	tokens := &Tokens{}
	c := newClient(t, srv, tokens)
	require.Error(t, c.Login(context.Background(), "alice", "wrong"))
	require.NoError(t, c.Login(context.Background(), "alice", "secret"))
	assert.Equal(t, "a1", tokens.Access())
	assert.Equal(t, "r1", tokens.Refresh())
	assert.Equal(t, "Bearer a1", c.AuthHeader().Get("Authorization"))
}

func TestClient_CancelledCallerKeepsTokensAndRefreshCompletes(t *testing.T) {
	release := make(chan struct{})
	refreshed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/API/token/refresh/" {
			<-release
			_, _ = w.Write([]byte(`{"access":"fresh"}`))
			close(refreshed)
			return
		}
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	tokens := NewTokens("stale", "r")
	c := newClient(t, srv, tokens)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "contacts/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, "r", tokens.Refresh())

	close(release)
	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not complete")
	}
	require.Eventually(t, func() bool { return tokens.Access() == "fresh" }, 2*time.Second, 10*time.Millisecond)

	_, err = c.Get(context.Background(), "contacts/")
	assert.NoError(t, err)
}

func TestClient_RefreshServerErrorKeepsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/API/token/refresh/" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := NewTokens("stale", "r")
	c := newClient(t, srv, tokens)
	_, err := c.Get(context.Background(), "contacts/")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnauthorized))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "stale", tokens.Access())
	assert.Equal(t, "r", tokens.Refresh())
}

func TestClient_RefreshRejectedWithBadRequestClearsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/API/token/refresh/" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := NewTokens("stale", "r")
	c := newClient(t, srv, tokens)
	_, err := c.Get(context.Background(), "contacts/")
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Empty(t, tokens.Refresh())
}

func TestClient_HandshakeHeaderRefreshesExpiredJWT(t *testing.T) {
	expiredTok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/API/token/refresh/" {
			refreshes.Add(1)
			_, _ = w.Write([]byte(`{"access":"fresh"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newClient(t, srv, NewTokens(expiredTok, "r"))
	assert.Equal(t, "Bearer fresh", c.HandshakeHeader(context.Background()).Get("Authorization"))
	assert.Equal(t, "Bearer fresh", c.HandshakeHeader(context.Background()).Get("Authorization"))
	assert.Equal(t, int32(1), refreshes.Load())
}

func TestClient_HandshakeHeaderKeepsTokenWhenRefreshUnreachable(t *testing.T) {
	expiredTok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	tokens := NewTokens(expiredTok, "r")
	c := newClient(t, srv, tokens)
	srv.Close()

	assert.Equal(t, "Bearer "+expiredTok, c.HandshakeHeader(context.Background()).Get("Authorization"))
	assert.Equal(t, "r", tokens.Refresh())
}
