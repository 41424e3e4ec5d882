package persist

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
)

var pebbleSnapshotKey = []byte("snapshot|missions")

// PebbleBackend stores the snapshot under a single key. Sets are synced so a
// returned Write survives a crash.
type PebbleBackend struct {
	db   *pebble.DB
	path string
}

// OpenPebble opens (or creates) a Pebble store at path.
func OpenPebble(path string) (*PebbleBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("persist: empty pebble path")
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("persist: pebble open: %w", err)
	}
	return &PebbleBackend{db: db, path: path}, nil
}

func (b *PebbleBackend) Write(data []byte) error {
	if err := b.db.Set(pebbleSnapshotKey, data, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

func (b *PebbleBackend) Read() ([]byte, error) {
	value, closer, err := b.db.Get(pebbleSnapshotKey)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	// value is only valid until closer.Close.
	out := append([]byte(nil), value...)
	_ = closer.Close()
	return out, nil
}

func (b *PebbleBackend) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *PebbleBackend) Describe() string { return "pebble:" + b.path }
