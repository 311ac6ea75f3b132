package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

// TestJournal_RecordAndRecent tests that recorded events come back newest
// first.
func TestJournal_RecordAndRecent(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	events := []Event{
		{Type: EventSessionCreated, SessionID: "sess-1"},
		{Type: EventNodeSpawned, SessionID: "sess-1", NodeID: "vad", NodeType: "vad"},
		{Type: EventSessionTerminated, SessionID: "sess-1", Detail: "requested"},
	}
	for _, event := range events {
		require.NoError(t, j.Record(ctx, event))
	}

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, EventSessionTerminated, entries[0].Event)
	assert.Equal(t, EventSessionCreated, entries[2].Event)
	assert.Equal(t, "requested", entries[0].Detail)
	assert.WithinDuration(t, time.Now(), entries[0].CreatedAt, time.Minute)
}

// TestJournal_SessionHistory tests per-session filtering in insertion
// order.
func TestJournal_SessionHistory(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, Event{Type: EventSessionCreated, SessionID: "a"}))
	require.NoError(t, j.Record(ctx, Event{Type: EventSessionCreated, SessionID: "b"}))
	require.NoError(t, j.Record(ctx, Event{Type: EventNodeSpawned, SessionID: "a", NodeID: "n1"}))

	entries, err := j.SessionHistory(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EventSessionCreated, entries[0].Event)
	assert.Equal(t, EventNodeSpawned, entries[1].Event)
	assert.Equal(t, "n1", entries[1].NodeID)
}

// TestJournal_EmptyHistory tests queries against an empty journal.
func TestJournal_EmptyHistory(t *testing.T) {
	j := testJournal(t)

	entries, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
