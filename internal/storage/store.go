// Package storage defines the relay's persistence contract. Implementations
// live in the memory and valkey subpackages.
package storage

import (
	"context"

	"github.com/Vasu1712/scenyx-chat/internal/models"
)

// MessageStore persists the records of each room in arrival order.
type MessageStore interface {
	// Append stores rec for room, assigning its id and index, and returns
	// the stored record.
	Append(ctx context.Context, room string, rec models.Record) (models.Record, error)
	// List returns every record of room, oldest first.
	List(ctx context.Context, room string) ([]models.Record, error)
}
