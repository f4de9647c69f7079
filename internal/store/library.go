package store

import (
	"context"
	"encoding/json"
	"fmt"

	"snipex/internal/config"
	"snipex/internal/logging"
	"snipex/internal/snippet"
)

// Keys the library is stored under.
const (
	KeySnippets   = "snippets"
	KeyCategories = "categories"
)

// Open builds the KV described by cfg. Relative paths are resolved against
// workspace.
func Open(cfg config.StoreConfig, workspace string) (*Fallback, error) {
	switch cfg.Backend {
	case "memory":
		return NewFallback(NewMemory(cfg.QuotaBytes), NewMemory(0)), nil
	case "sqlite", "":
		sync, err := OpenSQL(cfg.Driver, config.ResolvePath(workspace, cfg.Path), cfg.QuotaBytes)
		if err != nil {
			return nil, err
		}
		localPath := cfg.LocalPath
		if localPath == "" {
			localPath = cfg.Path + ".local"
		}
		local, err := OpenSQL(cfg.Driver, config.ResolvePath(workspace, localPath), 0)
		if err != nil {
			sync.Close()
			return nil, err
		}
		return NewFallback(sync, local), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// LoadLibrary reads the snippet library. An empty store yields an empty
// library holding only the default category.
func LoadLibrary(ctx context.Context, kv KV) (*snippet.Library, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadLibrary")
	defer timer.Stop()

	values, err := kv.Get(ctx, KeySnippets, KeyCategories)
	if err != nil {
		return nil, fmt.Errorf("load library: %w", err)
	}

	var snippets []snippet.Snippet
	if raw, ok := values[KeySnippets]; ok && len(raw) > 0 {
		snippets, err = snippet.UnmarshalSnippets(raw)
		if err != nil {
			return nil, &StorageError{Op: "decode", Key: KeySnippets, Err: err}
		}
	}
	var categories []string
	if raw, ok := values[KeyCategories]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &categories); err != nil {
			return nil, &StorageError{Op: "decode", Key: KeyCategories, Err: err}
		}
	}

	lib, err := snippet.FromParts(snippets, categories)
	if err != nil {
		return nil, fmt.Errorf("load library: %w", err)
	}
	logging.StoreDebug("loaded %d snippets in %d categories", lib.Len(), len(lib.Categories()))
	return lib, nil
}

// SaveLibrary writes the snippets and categories together.
func SaveLibrary(ctx context.Context, kv KV, lib *snippet.Library) error {
	snippets, err := snippet.MarshalSnippets(lib.All())
	if err != nil {
		return &StorageError{Op: "encode", Key: KeySnippets, Err: err}
	}
	categories, err := json.Marshal(lib.Categories())
	if err != nil {
		return &StorageError{Op: "encode", Key: KeyCategories, Err: err}
	}
	if err := kv.Set(ctx, map[string][]byte{
		KeySnippets:   snippets,
		KeyCategories: categories,
	}); err != nil {
		logging.StoreError("save library: %v", err)
		return fmt.Errorf("save library: %w", err)
	}
	logging.Store("Saved %d snippets", lib.Len())
	return nil
}
