// Package postgres stores room histories in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/Vasu1712/scenyx-chat/internal/frames"
	"github.com/Vasu1712/scenyx-chat/internal/models"
	"github.com/Vasu1712/scenyx-chat/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id         TEXT PRIMARY KEY,
	room       TEXT NOT NULL,
	idx        BIGINT NOT NULL,
	sender     TEXT NOT NULL,
	receiver   TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL DEFAULT 'text',
	file       TEXT NOT NULL DEFAULT '',
	file_type  TEXT NOT NULL DEFAULT '',
	file_name  TEXT NOT NULL DEFAULT '',
	size       BIGINT,
	sent_at    TEXT NOT NULL,
	UNIQUE (room, idx)
)`

const insertQuery = `
	INSERT INTO chat_messages (id, room, idx, sender, receiver, message, type, file, file_type, file_name, size, sent_at)
	SELECT $1, $2, COALESCE(MAX(idx) + 1, 0), $3, $4, $5, $6, $7, $8, $9, $10, $11
	FROM chat_messages WHERE room = $2
	RETURNING idx`

const listQuery = `
	SELECT id, idx, sender, receiver, message, type, file, file_type, file_name, size, sent_at
	FROM chat_messages
	WHERE room = $1
	ORDER BY idx ASC`

// MessageStore keeps every room in one table ordered by a per-room index.
type MessageStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.MessageStore = (*MessageStore)(nil)

// NewMessageStore connects to the database and creates the table if needed.
func NewMessageStore(ctx context.Context, dataSourceName string) (*MessageStore, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &MessageStore{db: db, now: time.Now}, nil
}

// Append inserts rec with the next index of room. Two concurrent appends to
// one room may collide on the index; the loser gets a unique violation.
func (s *MessageStore) Append(ctx context.Context, room string, rec models.Record) (models.Record, error) {
	rec.ID = models.FlexID(uuid.NewString())
	if rec.Timestamp == "" {
		rec.Timestamp = frames.FormatTimestamp(s.now())
	}
	if rec.Type == "" {
		rec.Type = "text"
	}
	var idx int64
	err := s.db.QueryRowContext(ctx, insertQuery,
		string(rec.ID), room, rec.Sender.String(), rec.Receiver, rec.Message, rec.Type,
		rec.File, rec.FileType, rec.FileName, nullSize(rec.Size), rec.Timestamp,
	).Scan(&idx)
	if err != nil {
		return models.Record{}, fmt.Errorf("failed to store message: %w", err)
	}
	rec.Index = &idx
	return rec, nil
}

func (s *MessageStore) List(ctx context.Context, room string) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx, listQuery, room)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	out := []models.Record{}
	for rows.Next() {
		var (
			rec    models.Record
			id     string
			idx    int64
			sender string
			size   sql.NullInt64
		)
		if err := rows.Scan(&id, &idx, &sender, &rec.Receiver, &rec.Message, &rec.Type,
			&rec.File, &rec.FileType, &rec.FileName, &size, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		rec.ID = models.FlexID(id)
		rec.Index = &idx
		rec.Sender = models.SenderID{Name: sender}
		if size.Valid {
			n := size.Int64
			rec.Size = &n
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return out, nil
}

func (s *MessageStore) Close() error {
	return s.db.Close()
}

func nullSize(size *int64) sql.NullInt64 {
	if size == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *size, Valid: true}
}
