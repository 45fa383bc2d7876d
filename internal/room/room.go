// Package room derives the channel identity shared by two participants.
package room

import (
	"errors"
	"sort"
	"strings"

	"github.com/Vasu1712/scenyx-chat/internal/models"
)

// Separator joins the two encoded participant identifiers.
const Separator = "and"

// ErrNoChannel is returned when either participant is missing.
var ErrNoChannel = errors.New("no channel possible without two participants")

// Resolve maps two participant identifiers to one canonical channel identity.
// The result does not depend on argument order.
func Resolve(a, b string) (string, error) {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return "", models.NewError(models.ErrKindIdentity, "resolve room", ErrNoChannel)
	}
	// Ensure consistent order of participants
	pair := []string{a, b}
	sort.Strings(pair)
	return EncodeComponent(pair[0]) + Separator + EncodeComponent(pair[1]), nil
}

// Member returns the other participant of channelID when user is one of its
// two sides and the other side is listed in others.
func Member(channelID, user string, others []string) (string, bool) {
	for _, other := range others {
		if other == user {
			continue
		}
		id, err := Resolve(user, other)
		if err == nil && id == channelID {
			return other, true
		}
	}
	return "", false
}

const upperhex = "0123456789ABCDEF"

// EncodeComponent percent-encodes s, leaving only A-Z a-z 0-9 and
// - _ . ! ~ * ' ( ) unescaped. Each UTF-8 byte of any other rune is escaped.
func EncodeComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
