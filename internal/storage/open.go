package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	logx "roombot/pkg/logx"
)

// OpenBackend initializes the configured backend.
func OpenBackend(cfg Config, log logx.Logger) (Backend, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

var (
	// ErrLocked means another process owns the document.
	ErrLocked = errors.New("storage is owned by another process")
	// ErrReadOnly is returned by mutations on a store opened with ReadOnly.
	ErrReadOnly = errors.New("storage opened read-only")
)

// Open opens the backend and loads the document into a ConfigStore.
//
// A writable store owns the document until Close: a second writable Open of
// the same path, from this or any other process, fails with ErrLocked.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*ConfigStore, error) {
	var owner *ownerLock
	if !cfg.ReadOnly {
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			return nil, errors.New("storage.path is required")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		var err error
		if owner, err = acquireOwner(path); err != nil {
			return nil, err
		}
	}
	b, err := OpenBackend(cfg, log)
	if err != nil {
		_ = owner.release()
		return nil, err
	}
	st, err := newConfigStore(ctx, b, log, cfg.ReadOnly)
	if err != nil {
		_ = b.Close()
		_ = owner.release()
		return nil, err
	}
	st.owner = owner
	return st, nil
}
