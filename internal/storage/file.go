package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "bgsync/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.<document>.json (one per document, replaced via tmp+rename)
//   - <prefix>.prefs.json      (all prefs as a single JSON object)
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	prefix string
	prefs  map[string]string
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, prefix: prefix, prefs: map[string]string{}}
	if err := loadPrefs(s.prefsPath(), s.prefs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// A corrupt prefs file must not keep the daemon down; defaults apply.
		log.Warn("prefs unreadable; starting with defaults", logx.String("path", s.prefsPath()), logx.Err(err))
	}
	return s, nil
}

func (s *fileStore) docPath(name string) string { return s.prefix + "." + name + ".json" }
func (s *fileStore) prefsPath() string           { return s.prefix + ".prefs.json" }
func (s *fileStore) isClosedLocked() bool        { return s.closed }

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) checkName(name string) error {
	if !validName(name) {
		return errors.New("storage: invalid document name " + name)
	}
	return nil
}

func (s *fileStore) ReadDocument(ctx context.Context, name string) ([]byte, error) {
	_ = ctx
	if err := s.checkName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosedLocked() {
		return nil, ErrClosed
	}
	b, err := os.ReadFile(s.docPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *fileStore) WriteDocument(ctx context.Context, name string, body []byte) error {
	_ = ctx
	if err := s.checkName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosedLocked() {
		return ErrClosed
	}
	return writeFileAtomic(s.docPath(name), body)
}

func (s *fileStore) GetPref(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosedLocked() {
		return "", false, ErrClosed
	}
	v, ok := s.prefs[strings.TrimSpace(key)]
	return v, ok, nil
}

func (s *fileStore) PutPref(ctx context.Context, key, value string) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("storage: pref key required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosedLocked() {
		return ErrClosed
	}
	prev, had := s.prefs[key]
	s.prefs[key] = value
	if err := s.flushPrefsLocked(); err != nil {
		// Keep memory and disk in agreement.
		if had {
			s.prefs[key] = prev
		} else {
			delete(s.prefs, key)
		}
		return err
	}
	return nil
}

func (s *fileStore) DeletePref(ctx context.Context, key string) error {
	_ = ctx
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosedLocked() {
		return ErrClosed
	}
	prev, ok := s.prefs[key]
	if !ok {
		return nil
	}
	delete(s.prefs, key)
	if err := s.flushPrefsLocked(); err != nil {
		s.prefs[key] = prev
		return err
	}
	return nil
}

func (s *fileStore) flushPrefsLocked() error {
	b, err := json.Marshal(s.prefs)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.prefsPath(), b)
}

func loadPrefs(path string, out map[string]string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// writeFileAtomic writes body to a sibling temp file and renames it over path,
// so readers never observe a half-written document.
func writeFileAtomic(path string, body []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
