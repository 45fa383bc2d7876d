package authn

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

var ErrInvalidToken = errors.New("invalid token")

type claims struct {
	Kind string `json:"token_type"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies tokens with a shared secret.
type Issuer struct {
	secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(secret string, accessTTL time.Duration) *Issuer {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &Issuer{
		secret:     []byte(secret),
		AccessTTL:  accessTTL,
		RefreshTTL: 7 * 24 * time.Hour,
		now:        time.Now,
	}
}

// Issue returns a new access and refresh token pair for username.
func (i *Issuer) Issue(username string) (access, refresh string, err error) {
	access, err = i.sign(username, kindAccess, i.AccessTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err = i.sign(username, kindRefresh, i.RefreshTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Access mints an access token only.
func (i *Issuer) Access(username string) (string, error) {
	return i.sign(username, kindAccess, i.AccessTTL)
}

// ParseAccess returns the username of a valid access token.
func (i *Issuer) ParseAccess(token string) (string, error) { return i.parse(token, kindAccess) }

// ParseRefresh returns the username of a valid refresh token.
func (i *Issuer) ParseRefresh(token string) (string, error) { return i.parse(token, kindRefresh) }

func (i *Issuer) sign(username, kind string, ttl time.Duration) (string, error) {
	now := i.now()
	c := claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

func (i *Issuer) parse(token, kind string) (string, error) {
	var c claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	_, err := parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) { return i.secret, nil })
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Kind != kind || c.Subject == "" {
		return "", fmt.Errorf("%w: not a %s token", ErrInvalidToken, kind)
	}
	return c.Subject, nil
}
