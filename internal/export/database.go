// Package export writes plugin index snapshots into a SQLite file so the
// state of the index can be inspected with ordinary SQL tools.
package export

import (
	"database/sql"
	"fmt"

	"github.com/elysium-os/elysium-lsp/internal/dispatch"
	"github.com/elysium-os/elysium-lsp/internal/index"

	_ "github.com/mattn/go-sqlite3"
)

// Database schema version
const SchemaVersion = 1

type DB struct {
	Conn *sql.DB
}

// NewDB opens the SQLite database at path and creates the tables if they
// don't exist.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db := &DB{Conn: conn}
	if err := db.setup(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set up database: %w", err)
	}
	return db, nil
}

func (db *DB) setup() error {
	tx, err := db.Conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := createTables(tx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func createTables(tx *sql.Tx) error {
	createDocumentsTable := `
	CREATE TABLE IF NOT EXISTS documents (
		plugin TEXT NOT NULL,
		uri TEXT NOT NULL,
		revision INTEGER NOT NULL,
		invocations INTEGER NOT NULL,
		PRIMARY KEY (plugin, uri)
	);
	`

	// definitions and name_references share one layout
	locationColumns := `(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plugin TEXT NOT NULL,
		name TEXT NOT NULL,
		uri TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		start_character INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		end_character INTEGER NOT NULL,
		macro TEXT NOT NULL,
		detail TEXT NOT NULL
	);
	`

	if _, err := tx.Exec(createDocumentsTable); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	for _, table := range []string{"definitions", "name_references"} {
		if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS ` + table + ` ` + locationColumns); err != nil {
			return fmt.Errorf("failed to create %s table: %w", table, err)
		}
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, SchemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// Write replaces the content of the database with snaps in one transaction.
func (db *DB) Write(snaps []dispatch.PluginSnapshot) error {
	tx, err := db.Conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"documents", "definitions", "name_references"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, s := range snaps {
		if err := writeSnapshot(tx, s.Plugin, s.Snapshot); err != nil {
			return fmt.Errorf("failed to write %s: %w", s.Plugin, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func writeSnapshot(tx *sql.Tx, plugin string, snap *index.Snapshot) error {
	for _, uri := range snap.Documents() {
		c, _ := snap.Contribution(uri)
		if _, err := tx.Exec(
			`INSERT INTO documents (plugin, uri, revision, invocations) VALUES (?, ?, ?, ?)`,
			plugin, uri, c.Version, len(c.Invocations),
		); err != nil {
			return err
		}
	}

	tables := []struct {
		name   string
		names  []string
		lookup func(string) []index.Location
	}{
		{"definitions", snap.DefinitionNames(), snap.Definitions},
		{"name_references", snap.ReferenceNames(), snap.References},
	}
	for _, table := range tables {
		stmt, err := tx.Prepare(`INSERT INTO ` + table.name + ` (plugin, name, uri,
			start_line, start_character, end_line, end_character, macro, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		for _, name := range table.names {
			for _, loc := range table.lookup(name) {
				if _, err := stmt.Exec(
					plugin, name, loc.Document,
					loc.Range.Start.Line, loc.Range.Start.Character,
					loc.Range.End.Line, loc.Range.End.Character,
					loc.Macro, loc.Detail,
				); err != nil {
					stmt.Close()
					return err
				}
			}
		}
		stmt.Close()
	}
	return nil
}

type Stats struct {
	Documents   int
	Definitions int
	References  int
}

func (db *DB) Stats() (Stats, error) {
	var s Stats
	for _, q := range []struct {
		table string
		dst   *int
	}{
		{"documents", &s.Documents},
		{"definitions", &s.Definitions},
		{"name_references", &s.References},
	} {
		if err := db.Conn.QueryRow(`SELECT COUNT(*) FROM ` + q.table).Scan(q.dst); err != nil {
			return Stats{}, fmt.Errorf("failed to count %s: %w", q.table, err)
		}
	}
	return s, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.Conn.Close()
}
