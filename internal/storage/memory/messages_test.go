package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/scenyx-chat/internal/models"
)

func TestMessageStore_AppendAndList(t *testing.T) {
	s := NewMessageStore()
	ctx := context.Background()

	empty, err := s.List(ctx, "aliceandbob")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	a, err := s.Append(ctx, "aliceandbob", models.Record{Sender: models.SenderID{Name: "alice"}, Message: "one"})
	require.NoError(t, err)
	b, err := s.Append(ctx, "aliceandbob", models.Record{Sender: models.SenderID{Name: "bob"}, Message: "two", Timestamp: "2024-05-01T10:00:00Z"})
	require.NoError(t, err)
	_, err = s.Append(ctx, "aliceandcarol", models.Record{Sender: models.SenderID{Name: "carol"}, Message: "other"})
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, int64(0), *a.Index)
	assert.Equal(t, int64(1), *b.Index)
	assert.NotEmpty(t, a.Timestamp)
	assert.Equal(t, "2024-05-01T10:00:00Z", b.Timestamp)

	got, err := s.List(ctx, "aliceandbob")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Message)
	assert.Equal(t, "two", got[1].Message)
}

func TestMessageStore_ConcurrentAppends(t *testing.T) {
	s := NewMessageStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Append(ctx, "room", models.Record{Message: "x"})
		}()
	}
	wg.Wait()

	got, err := s.List(ctx, "room")
	require.NoError(t, err)
	require.Len(t, got, 50)
	for i, rec := range got {
		assert.Equal(t, int64(i), *rec.Index)
	}
}
