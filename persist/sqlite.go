package persist

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores the snapshot as the single row of mission_snapshot.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the database and ensures the schema.
func OpenSQLite(path string, busyTimeoutMS int) (*SQLiteBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("persist: empty sqlite path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("persist: mkdir: %w", err)
	}
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}
	if _, err := checkSQLite(path, time.Duration(busyTimeoutMS)*time.Millisecond); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist: open db: %w", err)
	}
	// Keep writes serialized; the gateway already does, this covers readers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(fmt.Sprintf("pragma journal_mode=WAL; pragma synchronous=FULL; pragma busy_timeout=%d", busyTimeoutMS)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persist: pragmas: %w", err)
	}
	schema := `
	create table if not exists mission_snapshot (
		id integer primary key check (id = 1),
		saved_at integer not null,
		body blob not null
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persist: schema: %w", err)
	}
	return &SQLiteBackend{db: db, path: path}, nil
}

func (b *SQLiteBackend) Write(data []byte) error {
	_, err := b.db.Exec(`insert into mission_snapshot(id, saved_at, body) values(1, ?, ?)
		on conflict(id) do update set saved_at = excluded.saved_at, body = excluded.body`,
		time.Now().UTC().Unix(), data)
	if err != nil {
		return fmt.Errorf("sqlite upsert: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Read() ([]byte, error) {
	var body []byte
	err := b.db.QueryRow(`select body from mission_snapshot where id = 1`).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("sqlite select: %w", err)
	}
	return body, nil
}

func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *SQLiteBackend) Describe() string { return "sqlite:" + b.path }
