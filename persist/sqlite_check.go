package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

var sqliteSidecars = []string{"-wal", "-shm", "-journal"}

// checkSQLite verifies an existing mission database before it is opened for
// real. A file that fails the WAL checkpoint or quick_check is renamed aside
// together with its sidecars so the store can start from an empty table. The
// returned path is the quarantined main file, or "" when nothing was moved.
func checkSQLite(path string, timeout time.Duration) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("persist: stat %s: %w", path, err)
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return "", fmt.Errorf("persist: check open: %w", err)
	}
	db.SetMaxOpenConns(1)
	checkErr := integrityCheck(ctx, db, timeout)
	_ = db.Close()
	if checkErr == nil {
		return "", nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("persist: check of %s timed out after %s", path, timeout)
	}

	moved, err := quarantineSQLite(path, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("persist: quarantine %s: %w (check: %v)", path, err, checkErr)
	}
	log.Printf("Persist: %s failed integrity check (%v); moved to %s", path, checkErr, moved)
	return moved, nil
}

func integrityCheck(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf("pragma busy_timeout=%d", timeout.Milliseconds())); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "pragma wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return fmt.Errorf("quick_check: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return err
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}

// quarantineSQLite renames the database and any sidecar files with a
// ".bad-<timestamp>" suffix.
func quarantineSQLite(path string, now time.Time) (string, error) {
	suffix := ".bad-" + now.Format("20060102T150405Z")
	if err := os.Rename(path, path+suffix); err != nil {
		return "", err
	}
	for _, ext := range sqliteSidecars {
		side := path + ext
		if _, err := os.Stat(side); err != nil {
			continue
		}
		if err := os.Rename(side, side+suffix); err != nil {
			return "", err
		}
	}
	return path + suffix, nil
}
