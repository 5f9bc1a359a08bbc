package transcript

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popoutchat/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "transcripts.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewSQLiteStore_Migrates(t *testing.T) {
	store := newTestStore(t)

	v, err := SchemaVersion(store.DB())
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)

	// Migrating again is a no-op.
	require.NoError(t, runMigrations(store.DB(), nil))
}

func TestConversation_CreateGetList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateConversation(ctx, domain.Conversation{
		ID: "tt_1_aaaaaaaaa", VisitorID: "v1", Route: "general", Status: "ok",
	}))
	require.NoError(t, store.CreateConversation(ctx, domain.Conversation{
		ID: "tt_2_bbbbbbbbb", VisitorID: "v2", Route: "sales", Status: "transport_failed",
	}))

	conv, err := store.GetConversation(ctx, "tt_1_aaaaaaaaa")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "v1", conv.VisitorID)
	assert.Equal(t, "general", conv.Route)

	missing, err := store.GetConversation(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	mine, err := store.ListConversations(ctx, "v2", 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "tt_2_bbbbbbbbb", mine[0].ID)

	all, err := store.ListConversations(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestConversation_RecreateUpdatesStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateConversation(ctx, domain.Conversation{ID: "s", VisitorID: "v", Status: "transport_failed"}))
	require.NoError(t, store.CreateConversation(ctx, domain.Conversation{ID: "s", VisitorID: "v", Status: "ok"}))

	conv, err := store.GetConversation(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "ok", conv.Status)
}

func TestAppendMessage_ChronologicalTranscript(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	lines := []domain.DisplayMessage{
		{SessionID: "s1", Sender: domain.SenderBot, Content: "Welcome!", Kind: domain.ResultOK, Seq: 1},
		{SessionID: "s1", Sender: domain.SenderUser, Content: "hi", Seq: 2},
		{SessionID: "s1", Sender: domain.SenderBot, Content: "hello", Kind: domain.ResultOK, Seq: 2},
	}
	for _, l := range lines {
		require.NoError(t, store.AppendMessage(ctx, l))
	}

	msgs, err := store.GetMessages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Welcome!", msgs[0].Content)
	assert.Equal(t, domain.SenderUser, msgs[1].Sender)
	assert.Equal(t, "hello", msgs[2].Content)
	assert.Equal(t, uint64(2), msgs[2].Seq)

	last, err := store.GetMessages(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "hi", last[0].Content)

	conv, err := store.GetConversation(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, conv, "appending creates the conversation row")
}

func TestAppendMessage_RequiresSession(t *testing.T) {
	store := newTestStore(t)
	err := store.AppendMessage(context.Background(), domain.DisplayMessage{Sender: domain.SenderUser, Content: "x"})
	assert.Error(t, err)
}

func TestPreferences_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	none, err := store.LoadPreferences(ctx, "v1", "toratech_chat_prefs")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, store.SavePreferences(ctx, domain.Preferences{
		VisitorID:  "v1",
		StorageKey: "toratech_chat_prefs",
		Style:      map[string]any{"position": "left"},
	}))
	require.NoError(t, store.SavePreferences(ctx, domain.Preferences{
		VisitorID:  "v1",
		StorageKey: "toratech_chat_prefs",
		Branding:   map[string]any{"name": "Acme"},
		Style:      map[string]any{"position": "right"},
	}))

	prefs, err := store.LoadPreferences(ctx, "v1", "toratech_chat_prefs")
	require.NoError(t, err)
	require.NotNil(t, prefs)
	assert.Equal(t, map[string]any{"name": "Acme"}, prefs.Branding)
	assert.Equal(t, map[string]any{"position": "right"}, prefs.Style)
	assert.Equal(t, map[string]any{
		"branding": map[string]any{"name": "Acme"},
		"style":    map[string]any{"position": "right"},
	}, prefs.Layer())
}

func TestPurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.AppendMessage(ctx, domain.DisplayMessage{
		SessionID: "old", Sender: domain.SenderUser, Content: "x", Timestamp: old,
	}))
	require.NoError(t, store.AppendMessage(ctx, domain.DisplayMessage{
		SessionID: "fresh", Sender: domain.SenderUser, Content: "y",
	}))

	n, err := store.PurgeOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msgs, err := store.GetMessages(ctx, "old", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	conv, err := store.GetConversation(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, conv)
}
