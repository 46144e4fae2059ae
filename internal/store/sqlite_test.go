// ABOUTME: Tests for the SQLite store
// ABOUTME: Covers conversation mirroring, config, credentials, buttons and session deletion

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_ConversationsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	convs := []*Conversation{
		{
			ChatID:    "123@s.net",
			Title:     "Alice",
			Stage:     StageQuote,
			UpdatedAt: now,
			Messages: []Message{
				{ID: "m1", Direction: DirectionIncoming, Text: "hola", Timestamp: now},
				{ID: "m2", Direction: DirectionOutgoing, Text: "buenas", Timestamp: now.Add(time.Second)},
			},
		},
		{ChatID: "456@s.net", Title: "Bob", Stage: StageInterest, UpdatedAt: now},
	}

	require.NoError(t, s.SaveConversations(ctx, "work", convs))

	loaded, err := s.LoadConversations(ctx, "work")
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	byChat := map[string]*Conversation{}
	for _, c := range loaded {
		byChat[c.ChatID] = c
	}

	alice := byChat["123@s.net"]
	require.NotNil(t, alice)
	assert.Equal(t, "Alice", alice.Title)
	assert.Equal(t, StageQuote, alice.Stage)
	require.Len(t, alice.Messages, 2)
	assert.Equal(t, "m1", alice.Messages[0].ID)
	assert.Equal(t, DirectionOutgoing, alice.Messages[1].Direction)
}

func TestSQLiteStore_SaveConversationsReplacesPriorState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.SaveConversations(ctx, "work", []*Conversation{
		{ChatID: "123@s.net", Stage: StageInterest, UpdatedAt: now,
			Messages: []Message{{ID: "m1", Direction: DirectionIncoming, Text: "old", Timestamp: now}}},
	}))
	require.NoError(t, s.SaveConversations(ctx, "work", []*Conversation{
		{ChatID: "456@s.net", Stage: StageClosed, UpdatedAt: now},
	}))

	loaded, err := s.LoadConversations(ctx, "work")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "456@s.net", loaded[0].ChatID)
	assert.Empty(t, loaded[0].Messages)
}

func TestSQLiteStore_ConversationsIsolatedPerSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.SaveConversations(ctx, "a", []*Conversation{{ChatID: "1@s.net", Stage: StageInterest, UpdatedAt: now}}))
	require.NoError(t, s.SaveConversations(ctx, "b", []*Conversation{{ChatID: "2@s.net", Stage: StageInterest, UpdatedAt: now}}))

	loadedA, err := s.LoadConversations(ctx, "a")
	require.NoError(t, err)
	require.Len(t, loadedA, 1)
	assert.Equal(t, "1@s.net", loadedA[0].ChatID)
}

func TestSQLiteStore_BogusStoredStageCoercedOnLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (session_id, chat_id, title, stage, updated_at) VALUES (?, ?, ?, ?, ?)`,
		"work", "123@s.net", "Alice", "shipped", time.Now())
	require.NoError(t, err)

	loaded, err := s.LoadConversations(ctx, "work")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, StageInterest, loaded[0].Stage)
}

func TestSQLiteStore_ConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LoadConfig(ctx, "work")
	assert.ErrorIs(t, err, ErrNotFound)

	cfg := &BotConfig{
		BotEnabled:    true,
		APIKey:        "secret",
		ModelProvider: "openai",
		ModelName:     "gpt-4o-mini",
		SystemPrompt:  "be helpful",
	}
	require.NoError(t, s.SaveConfig(ctx, "work", cfg))

	loaded, err := s.LoadConfig(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	// Upsert overwrites.
	cfg.BotEnabled = false
	cfg.SystemPrompt = ""
	require.NoError(t, s.SaveConfig(ctx, "work", cfg))
	loaded, err = s.LoadConfig(ctx, "work")
	require.NoError(t, err)
	assert.False(t, loaded.BotEnabled)
	assert.Empty(t, loaded.SystemPrompt)
}

func TestSQLiteStore_Credentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exists, err := s.CredentialsExist(ctx, "work")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.LoadCredentials(ctx, "work")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveCredentials(ctx, "work", []byte(`{"keys":"opaque"}`)))

	exists, err = s.CredentialsExist(ctx, "work")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := s.LoadCredentials(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"keys":"opaque"}`), data)

	require.NoError(t, s.DeleteCredentials(ctx, "work"))
	exists, err = s.CredentialsExist(ctx, "work")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting again is not an error.
	assert.NoError(t, s.DeleteCredentials(ctx, "work"))
}

func TestSQLiteStore_ButtonsRoundTripPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	buttons := []*Button{
		{ID: "b1", Text: "Price list", Type: "quick_reply"},
		{ID: "b2", Text: "Talk to a human", Type: "quick_reply"},
		{ID: "b3", Text: "Catalog", Type: "url"},
	}
	require.NoError(t, s.SaveButtons(ctx, "work", buttons))

	loaded, err := s.LoadButtons(ctx, "work")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, "b1", loaded[0].ID)
	assert.Equal(t, "b3", loaded[2].ID)

	// Replacing with a shorter set drops the rest.
	require.NoError(t, s.SaveButtons(ctx, "work", buttons[:1]))
	loaded, err = s.LoadButtons(ctx, "work")
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestSQLiteStore_ListSessionsUnionsAllTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveConfig(ctx, "alpha", &BotConfig{}))
	require.NoError(t, s.SaveCredentials(ctx, "beta", []byte("x")))
	require.NoError(t, s.SaveConversations(ctx, "gamma", []*Conversation{
		{ChatID: "1@s.net", Stage: StageInterest, UpdatedAt: time.Now()},
	}))
	// One session in several tables shows up once.
	require.NoError(t, s.SaveCredentials(ctx, "alpha", []byte("y")))

	ids, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, ids)
}

func TestSQLiteStore_DeleteSessionRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveConfig(ctx, "work", &BotConfig{APIKey: "k"}))
	require.NoError(t, s.SaveCredentials(ctx, "work", []byte("x")))
	require.NoError(t, s.SaveButtons(ctx, "work", []*Button{{ID: "b1", Text: "Hi"}}))
	require.NoError(t, s.SaveConversations(ctx, "work", []*Conversation{
		{ChatID: "1@s.net", Stage: StageInterest, UpdatedAt: time.Now(),
			Messages: []Message{{ID: "m1", Direction: DirectionIncoming, Text: "hola", Timestamp: time.Now()}}},
	}))

	require.NoError(t, s.DeleteSession(ctx, "work"))

	_, err := s.LoadConfig(ctx, "work")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := s.CredentialsExist(ctx, "work")
	require.NoError(t, err)
	assert.False(t, exists)

	buttons, err := s.LoadButtons(ctx, "work")
	require.NoError(t, err)
	assert.Empty(t, buttons)

	convs, err := s.LoadConversations(ctx, "work")
	require.NoError(t, err)
	assert.Empty(t, convs)

	ids, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
