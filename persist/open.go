package persist

import (
	"fmt"

	"tricorder/config"
)

// Open builds a gateway for the configured backend.
func Open(cfg config.PersistenceConfig) (*Gateway, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case config.BackendFile, "":
		backend, err = NewFileBackend(cfg.Path)
	case config.BackendPebble:
		backend, err = OpenPebble(cfg.Path)
	case config.BackendSQLite:
		backend, err = OpenSQLite(cfg.Path, cfg.BusyTimeoutMS)
	default:
		return nil, fmt.Errorf("persist: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewGateway(backend), nil
}
