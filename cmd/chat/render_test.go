package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/scenyx-chat/internal/models"
)

func TestPrinter_PrintsOnceAndNotesDelivery(t *testing.T) {
	var out bytes.Buffer
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p := newPrinter(&out, "bob")
	p.now = func() time.Time { return now }

	history := models.Message{ID: "1", Sender: "alice", Body: "hi", Timestamp: now.Add(-2 * time.Minute)}
	pending := models.Message{Sender: "bob", Body: "hello", CorrelationID: "c-1", Status: models.StatusPending}

	p.messages([]models.Message{history, pending})
	p.messages([]models.Message{history, pending})
	confirmed := pending
	confirmed.Status = models.StatusFinal
	confirmed.Timestamp = now
	p.messages([]models.Message{history, confirmed})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "[2 minutes ago] alice: hi", lines[0])
	assert.Equal(t, "[now] you: hello (pending)", lines[1])
	assert.Equal(t, "  delivered: hello", lines[2])
}

func TestPrinter_ResetForgetsSeen(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out, "bob")
	msg := models.Message{ID: "1", Sender: "alice", Body: "hi"}

	p.messages([]models.Message{msg})
	p.messages(nil)
	p.messages([]models.Message{msg})
	assert.Equal(t, 2, strings.Count(out.String(), "alice: hi"))
}

func TestSummary_File(t *testing.T) {
	size := int64(2048)
	m := models.Message{Kind: models.KindFile, Body: "look", File: &models.FileRef{Name: "cat.png", Size: &size, URL: "http://x/media/cat.png"}}
	assert.Equal(t, "📎 cat.png (2.0 KiB) http://x/media/cat.png look", summary(m))
}

func TestReadUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))

	up, err := readUpload(path + " quarterly numbers")
	require.NoError(t, err)
	assert.Equal(t, "notes.pdf", up.Name)
	assert.Equal(t, "application/pdf", up.MediaType)
	assert.Equal(t, "quarterly numbers", up.Caption)

	_, err = readUpload(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}
