package export

import (
	"path/filepath"
	"testing"

	"github.com/elysium-os/elysium-lsp/internal/config"
	"github.com/elysium-os/elysium-lsp/internal/dispatch"
	"github.com/elysium-os/elysium-lsp/internal/document"
	"github.com/elysium-os/elysium-lsp/internal/plugin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func indexed(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	plugins, err := plugin.New(config.Default())
	require.NoError(t, err)
	d := dispatch.New(document.NewStore(), plugins, 0)
	d.FileChanged("file:///k/a.c", "INIT_TARGET(pmm, E, B, D())\nHOOK(tick)\n")
	d.FileChanged("file:///k/b.c", "INIT_TARGET(vmm, L, B, D(\"pmm\"))\nHOOK_RUN(tick, tock)\n")
	return d
}

func TestWriteMatchesSnapshots(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Write(indexed(t).Snapshots()))

	stats, err := db.Stats()
	require.NoError(t, err)
	// two documents per plugin
	assert.Equal(t, Stats{Documents: 4, Definitions: 3, References: 3}, stats)

	var uri, detail string
	var line, char int
	err = db.Conn.QueryRow(
		`SELECT uri, start_line, start_character, detail FROM definitions WHERE plugin = ? AND name = ?`,
		"init-deps", "vmm",
	).Scan(&uri, &line, &char, &detail)
	require.NoError(t, err)
	assert.Equal(t, "file:///k/b.c", uri)
	assert.Equal(t, 0, line)
	assert.Equal(t, 12, char)
	assert.Equal(t, "L/B", detail)

	var refs int
	require.NoError(t, db.Conn.QueryRow(
		`SELECT COUNT(*) FROM name_references WHERE plugin = 'hooks' AND uri = 'file:///k/b.c'`,
	).Scan(&refs))
	assert.Equal(t, 2, refs)
}

func TestWriteReplacesPreviousContent(t *testing.T) {
	db := openTestDB(t)
	d := indexed(t)
	require.NoError(t, db.Write(d.Snapshots()))

	d.FileRemoved("file:///k/b.c")
	require.NoError(t, db.Write(d.Snapshots()))

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{Documents: 2, Definitions: 2, References: 0}, stats)
}

func TestSchemaVersion(t *testing.T) {
	db := openTestDB(t)
	var version int
	require.NoError(t, db.Conn.QueryRow(`PRAGMA user_version`).Scan(&version))
	assert.Equal(t, SchemaVersion, version)
}

func TestDefaultPathUsesStateHome(t *testing.T) {
	state := t.TempDir()
	t.Setenv("XDG_STATE_HOME", state)

	path, err := DefaultPath("elysium-lsp")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(state, "elysium-lsp", "index.db"), path)
	assert.DirExists(t, filepath.Dir(path))
}
