// Package store holds the snippet library's key/value backends: an
// in-memory map, SQLite files, and a sync store that overflows into a local
// one when it runs out of quota.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// KV is the storage capability the snippet library is persisted through.
// Reads of absent keys are not errors; the key is simply missing from the
// result. Writes may fail.
type KV interface {
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, values map[string][]byte) error
	Remove(ctx context.Context, keys ...string) error
	Close() error
}

// ErrQuotaExceeded is returned when a write would push a store over its
// byte quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// StorageError wraps a backend failure with the operation and key involved.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsQuota reports whether err is a quota failure.
func IsQuota(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// sortedKeys returns the keys of values in a stable order for error
// reporting and deterministic writes.
func sortedKeys(values map[string][]byte) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Memory is a map-backed KV. A positive quota bounds the sum of key and
// value lengths, like a browser sync area.
type Memory struct {
	mu    sync.RWMutex
	data  map[string][]byte
	quota int
}

// NewMemory returns an empty store. quota <= 0 means unlimited.
func NewMemory(quota int) *Memory {
	return &Memory{data: make(map[string][]byte), quota: quota}
}

func (m *Memory) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

func (m *Memory) Set(ctx context.Context, values map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.quota > 0 {
		size := 0
		for k, v := range m.data {
			if _, replaced := values[k]; !replaced {
				size += len(k) + len(v)
			}
		}
		for k, v := range values {
			size += len(k) + len(v)
		}
		if size > m.quota {
			keys := sortedKeys(values)
			return &StorageError{Op: "set", Key: keys[0], Err: fmt.Errorf("%w: %d > %d bytes", ErrQuotaExceeded, size, m.quota)}
		}
	}
	for k, v := range values {
		m.data[k] = append([]byte(nil), v...)
	}
	return nil
}

func (m *Memory) Remove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Size returns the bytes counted against the quota.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	size := 0
	for k, v := range m.data {
		size += len(k) + len(v)
	}
	return size
}

func (m *Memory) Close() error { return nil }
