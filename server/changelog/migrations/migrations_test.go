package migrations

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "changelog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Up(db))

	for _, table := range []string{"sync_collections", "sync_changes", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s was not created", table)
	}

	// running again is a no-op
	assert.NoError(t, Up(db))
}

func TestCheck(t *testing.T) {
	db := openTestDB(t)
	assert.Error(t, Check(db), "fresh database needs migration")

	require.NoError(t, Up(db))
	assert.NoError(t, Check(db))

	current, latest, dirty, err := Status(db)
	require.NoError(t, err)
	assert.Equal(t, latest, current)
	assert.False(t, dirty)
}
