package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage: closed")
)

// Document names used by the daemon.
const (
	DocEventLog = "event_log"
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON documents next to Path (written with tmp+rename)
//   - "sqlite": SQLite database file
//   - "pebble": Pebble key-value directory
//   - "memory": process-local, nothing survives a restart
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Sync        bool          // pebble only; fsync every write
}

// Store is the minimal persistence API used by the event log and the
// constraint store.
//
// Documents are opaque blobs replaced as a whole. Prefs are small string
// key-value pairs.
type Store interface {
	ReadDocument(ctx context.Context, name string) ([]byte, error)
	WriteDocument(ctx context.Context, name string, body []byte) error

	GetPref(ctx context.Context, key string) (value string, ok bool, err error)
	PutPref(ctx context.Context, key, value string) error
	DeletePref(ctx context.Context, key string) error

	Close() error
}
