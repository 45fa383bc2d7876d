// Package directory knows the current user and their contacts, and turns
// any sender reference into the canonical username.
package directory

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Vasu1712/scenyx-chat/internal/models"
)

// Getter is the part of the authenticated HTTP client the directory needs.
type Getter interface {
	GetJSON(ctx context.Context, path string, out any) error
}

// Directory is an immutable snapshot of the user and their contacts.
type Directory struct {
	self     models.Participant
	contacts []models.Contact
	byID     map[int64]string
	byName   map[string]models.Contact
}

func New(self models.Participant, contacts []models.Contact) *Directory {
	d := &Directory{
		self:     self,
		contacts: append([]models.Contact(nil), contacts...),
		byID:     make(map[int64]string, len(contacts)+1),
		byName:   make(map[string]models.Contact, len(contacts)),
	}
	for _, c := range contacts {
		if c.ID != 0 {
			d.byID[c.ID] = c.Name
		}
		d.byName[c.Name] = c
	}
	if self.ID != 0 {
		d.byID[self.ID] = self.Username
	}
	return d
}

// Fetch loads the current user and contact list.
func Fetch(ctx context.Context, api Getter) (*Directory, error) {
	var self models.Participant
	if err := api.GetJSON(ctx, "get-user/", &self); err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	var contacts []models.Contact
	if err := api.GetJSON(ctx, "contacts/", &contacts); err != nil {
		return nil, fmt.Errorf("failed to load contacts: %w", err)
	}
	return New(self, contacts), nil
}

func (d *Directory) Self() models.Participant { return d.self }

func (d *Directory) Contacts() []models.Contact {
	return append([]models.Contact(nil), d.contacts...)
}

// Contact looks a contact up by username.
func (d *Directory) Contact(name string) (models.Contact, bool) {
	c, ok := d.byName[name]
	return c, ok
}

// Username normalises a sender reference. Unknown numeric ids fall back to
// their decimal form so they never compare equal to a real username.
func (d *Directory) Username(s models.SenderID) string {
	if !s.Numeric {
		return s.Name
	}
	if name, ok := d.byID[s.ID]; ok {
		return name
	}
	return "#" + strconv.FormatInt(s.ID, 10)
}
