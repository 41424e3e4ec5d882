// Package persist keeps a durable snapshot of the mission table so missions
// survive restarts.
//
// The snapshot is a single artifact holding a JSON list of mission records,
// overwritten wholesale on every save. Three backends are available:
//
//   - file:   a JSON file replaced atomically (temp file + rename)
//   - pebble: one key in an embedded Pebble store
//   - sqlite: one row in an embedded SQLite database
//
// All backends share the same encoding, so a snapshot can be exported from
// one and loaded into another.
package persist

import (
	"errors"
	"log"
	"sync"

	"tricorder/mission"

	"github.com/zeebo/xxh3"
)

// ErrNoSnapshot is returned by backends when nothing has been saved yet.
var ErrNoSnapshot = errors.New("persist: no snapshot")

// Backend stores and retrieves one opaque snapshot blob.
type Backend interface {
	Write(data []byte) error
	Read() ([]byte, error)
	Close() error
	Describe() string
}

// Gateway encodes mission tables onto a Backend. Save and Load never return
// errors; failures are logged and reported as false or an empty result so
// the in-memory table stays authoritative.
type Gateway struct {
	mu       sync.Mutex
	backend  Backend
	lastHash uint64
	hasHash  bool
	saves    uint64
	skipped  uint64
	failures uint64
}

// NewGateway wraps a backend.
func NewGateway(backend Backend) *Gateway {
	return &Gateway{backend: backend}
}

// Save writes the full table. A snapshot byte-identical to the previous
// successful write is skipped and still reports success.
func (g *Gateway) Save(missions []mission.Mission) bool {
	if g == nil || g.backend == nil {
		return false
	}
	data, err := encodeSnapshot(missions)
	if err != nil {
		log.Printf("Persist: encode failed: %v", err)
		g.mu.Lock()
		g.failures++
		g.mu.Unlock()
		return false
	}
	sum := xxh3.Hash(data)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hasHash && g.lastHash == sum {
		g.skipped++
		return true
	}
	if err := g.backend.Write(data); err != nil {
		g.failures++
		log.Printf("Persist: save to %s failed: %v", g.backend.Describe(), err)
		return false
	}
	g.lastHash = sum
	g.hasHash = true
	g.saves++
	return true
}

// Load returns the persisted table, or an empty list when nothing usable is
// stored. Individual bad entries are skipped.
func (g *Gateway) Load() []mission.Mission {
	if g == nil || g.backend == nil {
		return []mission.Mission{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	data, err := g.backend.Read()
	if err != nil {
		if !errors.Is(err, ErrNoSnapshot) {
			log.Printf("Persist: load from %s failed: %v", g.backend.Describe(), err)
		}
		return []mission.Mission{}
	}
	missions := decodeSnapshot(data)
	// Seed the hash so an unchanged table is not rewritten on first save.
	if encoded, err := encodeSnapshot(missions); err == nil {
		g.lastHash = xxh3.Hash(encoded)
		g.hasHash = true
	}
	log.Printf("Persist: loaded %d missions from %s", len(missions), g.backend.Describe())
	return missions
}

// Stats reports write counters: completed writes, skipped identical
// snapshots, and failures.
func (g *Gateway) Stats() (saves, skipped, failures uint64) {
	if g == nil {
		return 0, 0, 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saves, g.skipped, g.failures
}

// Describe names the backing store for logs.
func (g *Gateway) Describe() string {
	if g == nil || g.backend == nil {
		return "none"
	}
	return g.backend.Describe()
}

// Close releases the backend.
func (g *Gateway) Close() error {
	if g == nil || g.backend == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.backend.Close()
}
