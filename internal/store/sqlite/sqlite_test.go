package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sinas/internal/models"
	"sinas/internal/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(t.TempDir()+"/test.db", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBootstrapPragmas(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	if err := db.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode to be 'wal', got: %s", journalMode)
	}

	var fk int
	if err := db.conn.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("Failed to query foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("Expected foreign_keys to be enabled, got: %d", fk)
	}
}

func TestNewUnopenableDatabase(t *testing.T) {
	// A directory cannot be opened as a database file; the bootstrap
	// error must surface instead of handing back a half-built handle.
	db, err := New(t.TempDir(), t.TempDir())
	if err == nil {
		db.Close()
		t.Fatal("Expected New to fail on a directory path")
	}
	if db != nil {
		t.Errorf("Expected nil handle on bootstrap failure, got: %v", db)
	}
}

func TestSchemaTables(t *testing.T) {
	db := newTestDB(t)

	for _, table := range []string{"users", "conversations", "messages", "conversations_users"} {
		var count int
		err := db.conn.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to inspect schema: %v", err)
		}
		if count != 1 {
			t.Errorf("Expected table %s to exist", table)
		}
	}
}

func TestUserLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateUser(ctx, models.NewUserInfo("alice", "secret")))

	err := db.CreateUser(ctx, models.NewUserInfo("alice", "other"))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	u, err := db.ResolveUserInfo(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "secret", u.Password)
	assert.Empty(t, u.IP)
	assert.Zero(t, u.Port)

	u, err = db.ResolveConnectedUser(ctx, "alice", "10.0.0.7", 4040)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", u.IP)
	assert.Equal(t, 4040, u.Port)

	_, err = db.ResolveUserInfo(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, db.UpdateUser(ctx, models.NewUserInfo("alice", "rotated")))
	u, err = db.ResolveUserInfo(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "rotated", u.Password)

	err = db.UpdateUser(ctx, models.NewUserInfo("nobody", "pw"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConversationCreateLoad(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateUser(ctx, models.NewUserInfo("alice", "a")))
	require.NoError(t, db.CreateUser(ctx, models.NewUserInfo("bob", "b")))

	conv := models.NewConversation("", "alice", "bob")
	conv.SetName("pair")
	require.NoError(t, db.CreateConversation(ctx, conv))
	require.NotEmpty(t, conv.ID())

	loaded, err := db.LoadConversation(ctx, conv.ID())
	require.NoError(t, err)
	assert.True(t, conv.Equal(loaded))
	assert.Equal(t, "pair", loaded.Name())
	assert.ElementsMatch(t, []string{"alice", "bob"}, loaded.Users())

	_, err = db.LoadConversation(ctx, "9999")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = db.LoadConversation(ctx, "not-a-number")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConversationExplicitID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateUser(ctx, models.NewUserInfo("alice", "a")))

	conv := models.NewConversation("42", "alice")
	require.NoError(t, db.CreateConversation(ctx, conv))

	dup := models.NewConversation("42", "alice")
	assert.ErrorIs(t, db.CreateConversation(ctx, dup), store.ErrAlreadyExists)

	bad := models.NewConversation("forty-two", "alice")
	assert.ErrorIs(t, db.CreateConversation(ctx, bad), store.ErrInvalidID)
}

func TestUpdateConversationReconcilesMembership(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob", "carol"} {
		require.NoError(t, db.CreateUser(ctx, models.NewUserInfo(u, "pw")))
	}

	conv := models.NewConversation("", "alice", "bob")
	conv.SetName("old")
	require.NoError(t, db.CreateConversation(ctx, conv))

	conv.SetName("new")
	conv.AddUser("carol")
	require.NoError(t, db.UpdateConversation(ctx, conv))

	loaded, err := db.LoadConversation(ctx, conv.ID())
	require.NoError(t, err)
	assert.Equal(t, "new", loaded.Name())
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, loaded.Users())

	ghost := models.NewConversation("777", "alice")
	assert.ErrorIs(t, db.UpdateConversation(ctx, ghost), store.ErrNotFound)
}

func TestMessagePersistence(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateUser(ctx, models.NewUserInfo("alice", "a")))
	require.NoError(t, db.CreateUser(ctx, models.NewUserInfo("bob", "b")))
	conv := models.NewConversation("", "alice", "bob")
	require.NoError(t, db.CreateConversation(ctx, conv))

	first := models.Message{Content: "hi", Timestamp: 100, Sender: "alice"}
	second := models.Message{Content: "yo", Timestamp: 50, Sender: "bob"}
	require.NoError(t, db.CreateMessage(ctx, conv.ID(), &first))
	require.NoError(t, db.CreateMessage(ctx, conv.ID(), &second))
	assert.NotZero(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)

	loaded, err := db.LoadConversation(ctx, conv.ID())
	require.NoError(t, err)
	msgs := loaded.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "yo", msgs[0].Content)
	assert.Equal(t, "hi", msgs[1].Content)

	err = db.CreateMessage(ctx, "12345", &models.Message{Content: "x", Sender: "alice"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	first.Content = "hi, edited"
	require.NoError(t, db.UpdateMessage(ctx, conv.ID(), first))
	loaded, err = db.LoadConversation(ctx, conv.ID())
	require.NoError(t, err)
	assert.Equal(t, "hi, edited", loaded.Messages()[1].Content)

	err = db.UpdateMessage(ctx, conv.ID(), models.Message{ID: 9999, Sender: "alice"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListConversations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob", "carol"} {
		require.NoError(t, db.CreateUser(ctx, models.NewUserInfo(u, "pw")))
	}

	pair := models.NewConversation("", "alice", "bob")
	require.NoError(t, db.CreateConversation(ctx, pair))
	group := models.NewConversation("", "alice", "bob", "carol")
	require.NoError(t, db.CreateConversation(ctx, group))
	other := models.NewConversation("", "bob", "carol")
	require.NoError(t, db.CreateConversation(ctx, other))

	convs, err := db.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	for _, c := range convs {
		assert.True(t, c.Contains("alice"))
	}

	convs, err = db.ListConversations(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, convs)
}
