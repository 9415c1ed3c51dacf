package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/caldora/internal/config"
	"github.com/cyp0633/caldora/server/storage"
)

func testConfig(t *testing.T, changeLog config.ChangeLogConfig) *config.Config {
	t.Helper()
	cfg := &config.Config{
		ChangeLog: changeLog,
		Users: []config.UserConfig{
			{ID: "alice", Password: "secret", Email: "alice@example.com", Timezone: "Europe/Berlin"},
			{ID: "bob", Password: "hunter2"},
		},
		Collections: []config.CollectionConfig{
			{Owner: "alice", ID: "work", Shares: map[string]string{"bob": "read"}},
		},
	}
	cfg.Normalize()
	require.NoError(t, cfg.Validate())
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewApp_SeedsUsersAndCollections(t *testing.T) {
	a, err := newApp(t.Context(), testConfig(t, config.ChangeLogConfig{}), discardLogger())
	require.NoError(t, err)
	defer a.Close()

	coll, err := a.store.GetCollection(t.Context(), "alice", "work")
	require.NoError(t, err)
	assert.Equal(t, "work", coll.DisplayName)
	assert.Equal(t, []string{"VEVENT", "VTODO"}, coll.SupportedComponents)
	assert.True(t, coll.Allows("bob", storage.PrivilegeRead))
	assert.False(t, coll.Allows("bob", storage.PrivilegeWrite))

	req := httptest.NewRequest("PROPFIND", "/caldav/alice/cal/work/", nil)
	req.SetBasicAuth("bob", "hunter2")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
}

func TestNewApp_SQLiteTokensDoNotSurviveRestart(t *testing.T) {
	cl := config.ChangeLogConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "changes.db")}
	cfg := testConfig(t, cl)

	first, err := newApp(t.Context(), cfg, discardLogger())
	require.NoError(t, err)
	before, err := first.log.Current(t.Context(), "alice/work")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := newApp(t.Context(), cfg, discardLogger())
	require.NoError(t, err)
	defer second.Close()
	after, err := second.log.Current(t.Context(), "alice/work")
	require.NoError(t, err)
	assert.NotEqual(t, before.Epoch, after.Epoch)
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caldora.yaml")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "init", "--config", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), path)

	out.Reset()
	rootCmd.SetArgs([]string{"config", "check", "--config", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "ok (0 users, 0 collections, memory change log)")

	rootCmd.SetArgs([]string{"migrate", "--config", path})
	assert.ErrorIs(t, rootCmd.Execute(), errNotSQLite)
}
