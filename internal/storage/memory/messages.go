package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Vasu1712/scenyx-chat/internal/frames"
	"github.com/Vasu1712/scenyx-chat/internal/models"
	"github.com/Vasu1712/scenyx-chat/internal/storage"
)

// MessageStore keeps room histories in process memory.
type MessageStore struct {
	mu    sync.RWMutex
	rooms map[string][]models.Record // room -> records
	now   func() time.Time
}

var _ storage.MessageStore = (*MessageStore)(nil)

func NewMessageStore() *MessageStore {
	return &MessageStore{
		rooms: make(map[string][]models.Record),
		now:   time.Now,
	}
}

func (s *MessageStore) Append(_ context.Context, room string, rec models.Record) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := int64(len(s.rooms[room]))
	rec.ID = models.FlexID(uuid.NewString())
	rec.Index = &idx
	if rec.Timestamp == "" {
		rec.Timestamp = frames.FormatTimestamp(s.now())
	}
	s.rooms[room] = append(s.rooms[room], rec)
	return rec, nil
}

func (s *MessageStore) List(_ context.Context, room string) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Record{}, s.rooms[room]...), nil
}
