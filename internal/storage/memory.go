package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Memory is a process-local Store. Tests use it directly; the "memory" driver
// selects it when nothing should survive a restart.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string][]byte
	prefs  map[string]string
	closed bool

	// FailWrites makes WriteDocument return this error when non-nil.
	FailWrites error
	writes     int
}

func NewMemory() *Memory {
	return &Memory{docs: map[string][]byte{}, prefs: map[string]string{}}
}

// Writes returns the number of successful WriteDocument calls.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// SetFailWrites toggles write failures.
func (m *Memory) SetFailWrites(err error) {
	m.mu.Lock()
	m.FailWrites = err
	m.mu.Unlock()
}

func (m *Memory) ReadDocument(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	b, ok := m.docs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) WriteDocument(_ context.Context, name string, body []byte) error {
	if !validName(name) {
		return errors.New("storage: invalid document name " + name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.docs[name] = append([]byte(nil), body...)
	m.writes++
	return nil
}

func (m *Memory) GetPref(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.prefs[strings.TrimSpace(key)]
	return v, ok, nil
}

func (m *Memory) PutPref(_ context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("storage: pref key required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.prefs[key] = value
	return nil
}

func (m *Memory) DeletePref(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.prefs, strings.TrimSpace(key))
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
