// Package journal keeps a local record of the runs started from this client.
// The server exposes runs by id only, so the journal is what makes a history
// listing possible.
package journal

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// MemoryPath opens a private in-memory journal.
const MemoryPath = ":memory:"

// DB wraps the journal connection.
type DB struct {
	conn       *sql.DB
	Repository *Repository
}

// Config holds journal database configuration
type Config struct {
	DatabasePath string
}

// Open opens (creating if needed) the journal database and runs migrations.
func Open(config Config) (*DB, error) {
	if config.DatabasePath == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}

	connString := config.DatabasePath
	if connString != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(connString), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		connString += "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	conn, err := sql.Open("sqlite3", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if config.DatabasePath == MemoryPath {
		// Every connection to :memory: is a separate database
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(4)
		conn.SetMaxIdleConns(1)
	}
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{
		conn:       conn,
		Repository: NewRepository(conn),
	}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run journal migrations: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}
