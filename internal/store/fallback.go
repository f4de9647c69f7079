package store

import (
	"context"
	"errors"

	"snipex/internal/logging"
)

// ModeKey records, in the local store, that the data currently lives there.
const ModeKey = "storageMode"

// Storage modes.
const (
	ModeSync  = "sync"
	ModeLocal = "local"
)

// Fallback writes to a quota-bound sync store and overflows into a local
// store when the quota is hit. Once overflowed, the local store is preferred
// for reads and writes; the choice is recorded under ModeKey.
type Fallback struct {
	Sync  KV
	Local KV
}

var _ KV = (*Fallback)(nil)

// NewFallback pairs a sync store with its local overflow.
func NewFallback(sync, local KV) *Fallback {
	return &Fallback{Sync: sync, Local: local}
}

// Get reads from the preferred store. In sync mode, a failed or empty sync
// read is answered by the local store when it holds any of the keys.
func (f *Fallback) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	mode := f.mode(ctx)
	if mode == ModeLocal {
		return f.Local.Get(ctx, keys...)
	}

	values, err := f.Sync.Get(ctx, keys...)
	if err == nil && len(values) > 0 {
		return values, nil
	}
	if err != nil {
		logging.StoreWarn("sync read failed, trying local: %v", err)
	}
	local, lerr := f.Local.Get(ctx, keys...)
	if lerr == nil && len(local) > 0 {
		logging.StoreDebug("served %d keys from local store", len(local))
		return local, nil
	}
	if err != nil {
		return nil, err
	}
	return values, nil
}

// Set writes to the preferred store. A sync write that exceeds the quota is
// redirected to the local store, which then becomes preferred; a successful
// sync write clears the local copy.
func (f *Fallback) Set(ctx context.Context, values map[string][]byte) error {
	if f.mode(ctx) == ModeLocal {
		return f.setLocal(ctx, values)
	}

	err := f.Sync.Set(ctx, values)
	if err == nil {
		stale := append(sortedKeys(values), ModeKey)
		if rerr := f.Local.Remove(ctx, stale...); rerr != nil {
			logging.StoreWarn("clearing local copy: %v", rerr)
		}
		return nil
	}
	if !IsQuota(err) {
		return err
	}
	logging.StoreWarn("sync quota exceeded, saving locally: %v", err)
	if lerr := f.setLocal(ctx, values); lerr != nil {
		return errors.Join(err, lerr)
	}
	return nil
}

func (f *Fallback) setLocal(ctx context.Context, values map[string][]byte) error {
	local := make(map[string][]byte, len(values)+1)
	for k, v := range values {
		local[k] = v
	}
	local[ModeKey] = []byte(ModeLocal)
	return f.Local.Set(ctx, local)
}

// UseSync drops the local preference so the next write goes to the sync
// store again.
func (f *Fallback) UseSync(ctx context.Context) error {
	return f.Local.Remove(ctx, ModeKey)
}

func (f *Fallback) Remove(ctx context.Context, keys ...string) error {
	return errors.Join(f.Sync.Remove(ctx, keys...), f.Local.Remove(ctx, keys...))
}

// Mode reports where the data currently lives.
func (f *Fallback) Mode(ctx context.Context) (string, error) {
	v, err := f.Local.Get(ctx, ModeKey)
	if err != nil {
		return "", err
	}
	if string(v[ModeKey]) == ModeLocal {
		return ModeLocal, nil
	}
	return ModeSync, nil
}

func (f *Fallback) mode(ctx context.Context) string {
	m, err := f.Mode(ctx)
	if err != nil {
		logging.StoreWarn("reading storage mode: %v", err)
		return ModeSync
	}
	return m
}

func (f *Fallback) Close() error {
	return errors.Join(f.Sync.Close(), f.Local.Close())
}
