// ABOUTME: Tests for the file and SQLite session backends
// ABOUTME: Covers persistence across reopen and corrupt-file recovery

package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "session.json")
	ctx := context.Background()

	first, err := NewFileStore(path)
	require.NoError(t, err)
	s1, err := first.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, first.RecordNewRoom(ctx, "support", "!a:example.org"))
	require.NoError(t, first.Close())

	second, err := NewFileStore(path)
	require.NoError(t, err)
	defer second.Close()

	s2, err := second.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, s1.CustomerID, s2.CustomerID)

	entry, err := second.DepartmentRoom(ctx, "support")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, entry.Status)
}

func TestFileStore_CorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{{{{"), 0o600))

	store, err := NewFileStore(path)
	require.NoError(t, err)
	defer store.Close()

	s, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, s.CustomerID)
}

func TestFileStore_MissingFileIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "session.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)
	defer store.Close()

	s, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, s.CustomerID)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(path, "customer-1")
	require.NoError(t, err)
	s1, err := first.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, Patch{Guest: &GuestIdentity{
		UserID:      "@guest-x:example.org",
		AccessToken: "tok",
		Homeserver:  "https://example.org",
	}}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(path, "customer-1")
	require.NoError(t, err)
	defer second.Close()

	s2, err := second.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, s1.CustomerID, s2.CustomerID)
	require.NotNil(t, s2.Guest)
	assert.Equal(t, "tok", s2.Guest.AccessToken)
}

func TestSQLiteStore_KeysAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	a, err := NewSQLiteStore(path, "customer-a")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewSQLiteStore(path, "customer-b")
	require.NoError(t, err)
	defer b.Close()

	sa, err := a.Get(ctx)
	require.NoError(t, err)
	sb, err := b.Get(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, sa.CustomerID, sb.CustomerID)
}
