// Package authn authenticates relay users: bcrypt-checked passwords and
// HS256 access and refresh tokens.
package authn

import (
	"fmt"
	"sort"

	"golang.org/x/crypto/bcrypt"

	"github.com/Vasu1712/scenyx-chat/internal/models"
)

type user struct {
	models.Participant
	hash []byte
}

// Users is the fixed set of accounts the relay knows. Ids are assigned in
// username order starting at 1.
type Users struct {
	byName map[string]user
	byID   map[int64]user
	names  []string
}

// NewUsers hashes the given passwords.
func NewUsers(passwords map[string]string) (*Users, error) {
	names := make([]string, 0, len(passwords))
	for name := range passwords {
		names = append(names, name)
	}
	sort.Strings(names)

	u := &Users{
		byName: make(map[string]user, len(names)),
		byID:   make(map[int64]user, len(names)),
		names:  names,
	}
	for i, name := range names {
		hash, err := bcrypt.GenerateFromPassword([]byte(passwords[name]), bcrypt.MinCost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", name, err)
		}
		entry := user{Participant: models.Participant{ID: int64(i + 1), Username: name}, hash: hash}
		u.byName[name] = entry
		u.byID[entry.ID] = entry
	}
	return u, nil
}

// Verify checks a username and password.
func (u *Users) Verify(name, password string) (models.Participant, bool) {
	entry, ok := u.byName[name]
	if !ok {
		return models.Participant{}, false
	}
	if err := bcrypt.CompareHashAndPassword(entry.hash, []byte(password)); err != nil {
		return models.Participant{}, false
	}
	return entry.Participant, true
}

func (u *Users) ByName(name string) (models.Participant, bool) {
	entry, ok := u.byName[name]
	return entry.Participant, ok
}

func (u *Users) ByID(id int64) (models.Participant, bool) {
	entry, ok := u.byID[id]
	return entry.Participant, ok
}

// Names returns every username in order.
func (u *Users) Names() []string {
	return append([]string(nil), u.names...)
}

// Contacts returns everyone except self.
func (u *Users) Contacts(self string) []models.Contact {
	out := make([]models.Contact, 0, len(u.names))
	for _, name := range u.names {
		if name == self {
			continue
		}
		out = append(out, models.Contact{ID: u.byName[name].ID, Name: name})
	}
	return out
}
