// Package store implements the virtual filesystem store (C9): the item
// tree, its NzbFile/MultipartFile backing metadata, the queue/history
// tables, and the open-for-read API that composes C5/C6/C7 into a
// ready-to-stream io.ReadSeekCloser. Connection setup (WAL pragmas,
// embedded migrations) is grounded on
// javi11-altmount/internal/database/db.go, generalized from that file's
// hand-rolled migration runner to github.com/pressly/goose/v3 (a teacher
// go.mod dependency otherwise unused in its own source, per DESIGN.md).
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// RootID is the synthetic root item's id, seeded by the init migration.
const RootID = "00000000000000000000000000000000"

// DB wraps the sqlite connection and the repository built over it.
type DB struct {
	conn *sql.DB
	Repo *Repository
}

// Open opens (creating if necessary) the sqlite-backed metadata store at
// path, applies WAL pragmas tuned for read-heavy WebDAV serving, and
// runs every pending goose migration.
func Open(path string) (*DB, error) {
	connString := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=30000&_foreign_keys=on", path)
	conn, err := sql.Open("sqlite3", connString)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	conn.SetMaxOpenConns(15)
	conn.SetMaxIdleConns(8)
	conn.SetConnMaxIdleTime(45 * time.Minute)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &DB{conn: conn, Repo: NewRepository(conn)}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }
