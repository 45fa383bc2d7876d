// Package valkey stores room histories in Valkey lists so they survive relay
// restarts and can be shared by several relay processes.
package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"github.com/Vasu1712/scenyx-chat/internal/frames"
	"github.com/Vasu1712/scenyx-chat/internal/models"
	"github.com/Vasu1712/scenyx-chat/internal/storage"
)

const keyPrefix = "chat:"

// MessageStore keeps each room as a list of JSON records plus a sequence
// counter that assigns the record index.
type MessageStore struct {
	client valkey.Client
	now    func() time.Time
}

var _ storage.MessageStore = (*MessageStore)(nil)

// NewMessageStore connects to the Valkey server at addr.
func NewMessageStore(addr string) (*MessageStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey at %s: %w", addr, err)
	}
	return &MessageStore{client: client, now: time.Now}, nil
}

func (s *MessageStore) Close() { s.client.Close() }

func listKey(room string) string { return keyPrefix + "room:" + room }

func seqKey(room string) string { return keyPrefix + "seq:" + room }

func (s *MessageStore) Append(ctx context.Context, room string, rec models.Record) (models.Record, error) {
	n, err := s.client.Do(ctx, s.client.B().Incr().Key(seqKey(room)).Build()).AsInt64()
	if err != nil {
		return models.Record{}, fmt.Errorf("failed to allocate message index: %w", err)
	}
	idx := n - 1
	rec.ID = models.FlexID(uuid.NewString())
	rec.Index = &idx
	if rec.Timestamp == "" {
		rec.Timestamp = frames.FormatTimestamp(s.now())
	}
	data, err := encode(rec)
	if err != nil {
		return models.Record{}, err
	}
	if err := s.client.Do(ctx, s.client.B().Rpush().Key(listKey(room)).Element(data).Build()).Error(); err != nil {
		return models.Record{}, fmt.Errorf("failed to store message: %w", err)
	}
	return rec, nil
}

func (s *MessageStore) List(ctx context.Context, room string) ([]models.Record, error) {
	items, err := s.client.Do(ctx, s.client.B().Lrange().Key(listKey(room)).Start(0).Stop(-1).Build()).AsStrSlice()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return []models.Record{}, nil
		}
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return decode(items)
}

func encode(rec models.Record) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return string(data), nil
}

func decode(items []string) ([]models.Record, error) {
	out := make([]models.Record, 0, len(items))
	for i, item := range items {
		var rec models.Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode message %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
