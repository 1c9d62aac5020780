package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"time"

	logx "bgsync/pkg/logx"

	"github.com/cockroachdb/pebble"
)

const (
	pebbleDocPrefix  = "doc/"
	pebblePrefPrefix = "pref/"
)

// pebbleStore keeps documents under doc/<name> and prefs under pref/<key>.
// Pebble panics on use after Close, so the store tracks closure itself.
type pebbleStore struct {
	db     *pebble.DB
	log    logx.Logger
	sync   *pebble.WriteOptions
	closed atomic.Bool
}

func openPebble(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("pebble path is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	po := &pebble.Options{}
	if !cfg.Sync {
		// Group-commit small writes; the event log rewrites its document often.
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, err
	}

	wo := pebble.NoSync
	if cfg.Sync {
		wo = pebble.Sync
	}
	log.Debug("pebble store opened", logx.String("dir", dir), logx.Bool("sync", cfg.Sync))
	return &pebbleStore{db: db, log: log, sync: wo}, nil
}

func (s *pebbleStore) Close() error {
	if s == nil || s.db == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *pebbleStore) get(key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	val, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

func (s *pebbleStore) set(key string, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Set([]byte(key), value, s.sync)
}

func (s *pebbleStore) ReadDocument(ctx context.Context, name string) ([]byte, error) {
	_ = ctx
	if !validName(name) {
		return nil, errors.New("storage: invalid document name " + name)
	}
	b, ok, err := s.get(pebbleDocPrefix + name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (s *pebbleStore) WriteDocument(ctx context.Context, name string, body []byte) error {
	_ = ctx
	if !validName(name) {
		return errors.New("storage: invalid document name " + name)
	}
	return s.set(pebbleDocPrefix+name, body)
}

func (s *pebbleStore) GetPref(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	b, ok, err := s.get(pebblePrefPrefix + strings.TrimSpace(key))
	if err != nil || !ok {
		return "", false, err
	}
	return string(b), true, nil
}

func (s *pebbleStore) PutPref(ctx context.Context, key, value string) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("storage: pref key required")
	}
	return s.set(pebblePrefPrefix+key, []byte(value))
}

func (s *pebbleStore) DeletePref(ctx context.Context, key string) error {
	_ = ctx
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Delete([]byte(pebblePrefPrefix+strings.TrimSpace(key)), s.sync)
}
