// Package auth is the authenticated HTTP collaborator: every REST call of
// the client goes through Client, which attaches the bearer token and
// refreshes it once for all concurrent callers when the server answers 401.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	loginPath   = "token/"
	refreshPath = "token/refresh/"
	expirySkew  = 5 * time.Second
	maxBodySize = 32 << 20

	// refreshTimeout bounds the shared refresh request.
	refreshTimeout = 30 * time.Second
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNoRefreshToken = errors.New("no refresh token")
)

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Tokens holds the current credential pair.
type Tokens struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

func NewTokens(access, refresh string) *Tokens {
	return &Tokens{access: access, refresh: refresh}
}

func (t *Tokens) Access() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.access
}

func (t *Tokens) Refresh() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.refresh
}

// Set replaces the access token, and the refresh token when one is given.
func (t *Tokens) Set(access, refresh string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.access = access
	if refresh != "" {
		t.refresh = refresh
	}
}

func (t *Tokens) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.access = ""
	t.refresh = ""
}

type Client struct {
	base   *url.URL
	http   *http.Client
	tokens *Tokens
	group  singleflight.Group
	log    zerolog.Logger
	now    func() time.Time
}

// New builds a client rooted at baseURL (for example http://host/API/).
func New(baseURL string, tokens *Tokens, hc *http.Client, log zerolog.Logger) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	if tokens == nil {
		tokens = &Tokens{}
	}
	return &Client{
		base:   base,
		http:   hc,
		tokens: tokens,
		log:    log.With().Str("component", "auth").Logger(),
		now:    time.Now,
	}, nil
}

func (c *Client) Tokens() *Tokens { return c.tokens }

// HandshakeHeader is AuthHeader after refreshing an expired access token.
// A failed refresh still yields the current header; the relay rejects it.
func (c *Client) HandshakeHeader(ctx context.Context) http.Header {
	if _, err := c.fresh(ctx); err != nil {
		c.log.Warn().Err(err).Msg("[Auth] refresh before handshake failed")
	}
	return c.AuthHeader()
}

// AuthHeader returns the bearer header for non-REST handshakes.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	if tok := c.tokens.Access(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, http.MethodPost, loginPath, "application/json", body, "")
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	var pair tokenPair
	if err := json.Unmarshal(resp, &pair); err != nil {
		return fmt.Errorf("login: decode tokens: %w", err)
	}
	if pair.Access == "" {
		return fmt.Errorf("login: %w", ErrUnauthorized)
	}
	c.tokens.Set(pair.Access, pair.Refresh)
	c.log.Info().Str("user", username).Msg("[Auth] logged in")
	return nil
}

// Refresh obtains a new access token. Concurrent callers share one request,
// which outlives any single caller's context. A caller that gives up gets
// its context error; the tokens survive it.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	ch := c.group.DoChan("refresh", func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return c.refresh(rctx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			c.log.Debug().Msg("[Auth] joined in-flight refresh")
		}
		return res.Val.(string), nil
	}
}

func (c *Client) refresh(ctx context.Context) (string, error) {
	refresh := c.tokens.Refresh()
	if refresh == "" {
		c.tokens.Clear()
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, ErrNoRefreshToken)
	}
	body, err := json.Marshal(map[string]string{"refresh": refresh})
	if err != nil {
		return "", err
	}
	resp, err := c.send(ctx, http.MethodPost, refreshPath, "application/json", body, "")
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusBadRequest) {
			c.tokens.Clear()
			return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		c.log.Warn().Err(err).Msg("[Auth] refresh failed, keeping tokens")
		return "", fmt.Errorf("refresh: %w", err)
	}
	var pair tokenPair
	if err := json.Unmarshal(resp, &pair); err != nil || pair.Access == "" {
		return "", errors.New("refresh: invalid token response")
	}
	c.tokens.Set(pair.Access, pair.Refresh)
	c.log.Debug().Msg("[Auth] access token refreshed")
	return pair.Access, nil
}

// fresh returns the access token, refreshing it first when its exp has passed.
func (c *Client) fresh(ctx context.Context) (string, error) {
	token := c.tokens.Access()
	if token != "" && expired(token, c.now()) && c.tokens.Refresh() != "" {
		return c.Refresh(ctx)
	}
	return token, nil
}

// Do issues an authenticated request and returns the response body.
func (c *Client) Do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	token, err := c.fresh(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, method, path, contentType, body, token)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusUnauthorized && path != refreshPath {
		fresh, rerr := c.Refresh(ctx)
		if rerr != nil {
			return nil, rerr
		}
		return c.send(ctx, method, path, contentType, body, fresh)
	}
	return resp, err
}

func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, path, "", nil)
}

func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	data, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	data, err := c.Do(ctx, http.MethodPost, path, "application/json", body)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	return c.base.ResolveReference(ref).String(), nil
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body []byte, token string) ([]byte, error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

// expired reports whether the JWT's exp claim has passed. Tokens that are not
// JWTs or carry no exp never count as expired; the server decides.
func expired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.Time.After(now.Add(expirySkew))
}
