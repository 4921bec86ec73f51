package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-widget/internal/domain"
)

func openSQLite(t *testing.T, path string) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	require.NoError(t, b.Open(context.Background()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNewSQLiteBackend_EmptyPath(t *testing.T) {
	_, err := NewSQLiteBackend(" ")
	require.Error(t, err)
}

func TestSQLite_NotOpen(t *testing.T) {
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	_, err = b.Insert(context.Background(), domain.RoleUser, "x", domain.KindContent)
	require.Error(t, err)
	_, err = b.List(context.Background())
	require.Error(t, err)
}

func TestSQLite_OpenFailsWhenParentIsFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	b, err := NewSQLiteBackend(filepath.Join(blocker, "chat.db"))
	require.NoError(t, err)
	require.Error(t, b.Open(context.Background()))
}

func TestSQLite_OpenAddsKindToOlderTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	ctx := context.Background()

	old, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = old.ExecContext(ctx, `CREATE TABLE messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		role TEXT NOT NULL,
		content TEXT NOT NULL
	)`)
	require.NoError(t, err)
	_, err = old.ExecContext(ctx, "INSERT INTO messages(role, content) VALUES('user', 'from before')")
	require.NoError(t, err)
	require.NoError(t, old.Close())

	b := openSQLite(t, path)
	id, err := b.Insert(ctx, domain.RoleAssistant, "sorry", domain.KindFallback)
	require.NoError(t, err)
	require.Equal(t, int64(2), id)

	msgs, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, domain.KindContent, msgs[0].Kind)
	require.Equal(t, "from before", msgs[0].Content)
	require.Equal(t, domain.KindFallback, msgs[1].Kind)
}

func TestSQLite_AppendListOrder(t *testing.T) {
	b := openSQLite(t, filepath.Join(t.TempDir(), "chat.db"))
	ctx := context.Background()

	inputs := []struct {
		role    domain.Role
		content string
	}{
		{domain.RoleUser, "hello"},
		{domain.RoleAssistant, "hi **there**"},
		{domain.RoleUser, "how are you"},
		{domain.RoleAssistant, "fine"},
	}
	for _, in := range inputs {
		_, err := b.Insert(ctx, in.role, in.content, domain.KindContent)
		require.NoError(t, err)
	}

	msgs, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, len(inputs))
	for i, m := range msgs {
		require.Equal(t, inputs[i].role, m.Role)
		require.Equal(t, inputs[i].content, m.Content)
		require.Equal(t, domain.KindContent, m.Kind)
		if i > 0 {
			require.Greater(t, m.ID, msgs[i-1].ID)
		}
	}
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chat.db")
	ctx := context.Background()

	b := openSQLite(t, path)
	_, err := b.Insert(ctx, domain.RoleUser, "persist me", domain.KindContent)
	require.NoError(t, err)
	require.NoError(t, b.PutMeta(ctx, "k", "v"))
	require.NoError(t, b.Close())

	reopened := openSQLite(t, path)
	msgs, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "persist me", msgs[0].Content)

	v, ok, err := reopened.GetMeta(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestSQLite_ClearEmptiesBothAndKeepsIDsIncreasing(t *testing.T) {
	b := openSQLite(t, filepath.Join(t.TempDir(), "chat.db"))
	ctx := context.Background()

	first, err := b.Insert(ctx, domain.RoleUser, "a", domain.KindContent)
	require.NoError(t, err)
	require.NoError(t, b.PutMeta(ctx, "k", "v"))

	require.NoError(t, b.Clear(ctx))

	msgs, err := b.List(ctx)
	require.NoError(t, err)
	require.Empty(t, msgs)
	_, ok, err := b.GetMeta(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	next, err := b.Insert(ctx, domain.RoleUser, "b", domain.KindContent)
	require.NoError(t, err)
	require.Greater(t, next, first)
}

func TestSQLite_FallbackKindRoundTrip(t *testing.T) {
	b := openSQLite(t, filepath.Join(t.TempDir(), "chat.db"))
	ctx := context.Background()

	_, err := b.Insert(ctx, domain.RoleAssistant, "try later", domain.KindFallback)
	require.NoError(t, err)
	msgs, err := b.List(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.KindFallback, msgs[0].Kind)
}

func TestSQLite_PutMetaUpserts(t *testing.T) {
	b := openSQLite(t, filepath.Join(t.TempDir(), "chat.db"))
	ctx := context.Background()

	require.NoError(t, b.PutMeta(ctx, "k", "1"))
	require.NoError(t, b.PutMeta(ctx, "k", "2"))
	v, ok, err := b.GetMeta(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", v)
}

func TestStore_SQLiteEndToEnd(t *testing.T) {
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	tok := &fakeTokens{}
	s := mustNewStore(t, b, tok)
	ctx := context.Background()

	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.Initialize(ctx))
	defer func() { _ = s.Close() }()

	_, err = s.Append(ctx, domain.RoleUser, "hello")
	require.NoError(t, err)
	_, err = s.Append(ctx, domain.RoleAssistant, "hi")
	require.NoError(t, err)

	msgs, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.NoError(t, s.Clear(ctx))
	msgs, err = s.ListAll(ctx)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Equal(t, 1, tok.cleared)
}
