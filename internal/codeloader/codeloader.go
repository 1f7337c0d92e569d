// Package codeloader provides pluggable strategies for loading blueprint
// source bytes (spec.md §6.1). It supports:
//
//   - a plain file loader (default): reads the source bytes for a
//     blueprint id straight off disk under a configured WorldRoot.
//   - a cache layered on top of any Loader that hands back the previously
//     loaded bytes while a source's mtime is unchanged; every Load still
//     reads through the inner Loader, so the cache does not save a re-read —
//     adapted from the teacher's host-side LayerCache, which deduplicates
//     shared dependency layers across Firecracker VMs by content hash.
//
// The loader is a dumb byte stream; the kernel (internal/compiler and
// internal/object) owns everything past "give me the bytes and the
// mtime".
package codeloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oriys/mudkernel/internal/kernerr"
)

// Loader maps a blueprint id to its source bytes and the source's last
// modification time (spec.md §6.1).
type Loader interface {
	Load(ctx context.Context, blueprintID string) (code []byte, modTime time.Time, err error)
}

// FileLoader reads blueprint source from WorldRoot/<blueprint_id>.
type FileLoader struct {
	WorldRoot string
}

// NewFileLoader creates a Loader rooted at root.
func NewFileLoader(root string) *FileLoader {
	return &FileLoader{WorldRoot: root}
}

// Load reads the blueprint's source file. Path normalization of
// blueprintID (backslashes, leading slashes) is the caller's
// responsibility (internal/ident), consistent with spec.md §3.
func (f *FileLoader) Load(ctx context.Context, blueprintID string) ([]byte, time.Time, error) {
	path := filepath.Join(f.WorldRoot, filepath.FromSlash(blueprintID))
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, time.Time{}, fmt.Errorf("%w: %s", kernerr.ErrSourceNotFound, blueprintID)
		}
		return nil, time.Time{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, info.ModTime(), nil
}

// cachedEntry holds the last loaded bytes and mtime under a blueprint id.
type cachedEntry struct {
	hash    string
	code    []byte
	modTime time.Time
}

// CachedLoader wraps a Loader with a per-blueprint cache keyed on source
// mtime, grounded on the teacher's LayerCache.Get/Put/Evict shape. Each
// entry records the content hash, but Load does not compare it.
type CachedLoader struct {
	inner Loader

	mu      sync.RWMutex
	entries map[string]*cachedEntry // blueprint id -> last loaded entry
}

// NewCachedLoader wraps inner with a dedup cache.
func NewCachedLoader(inner Loader) *CachedLoader {
	return &CachedLoader{inner: inner, entries: make(map[string]*cachedEntry)}
}

// Load always reads through inner first. It then returns the cached bytes
// if the source's mtime equals the cached one; otherwise it returns the
// freshly read bytes and refreshes the cache entry.
func (c *CachedLoader) Load(ctx context.Context, blueprintID string) ([]byte, time.Time, error) {
	c.mu.RLock()
	cached, ok := c.entries[blueprintID]
	c.mu.RUnlock()

	code, modTime, err := c.inner.Load(ctx, blueprintID)
	if err != nil {
		return nil, time.Time{}, err
	}

	if ok && cached.modTime.Equal(modTime) {
		return cached.code, cached.modTime, nil
	}

	hash := ContentHash(code)
	c.mu.Lock()
	c.entries[blueprintID] = &cachedEntry{hash: hash, code: code, modTime: modTime}
	c.mu.Unlock()
	return code, modTime, nil
}

// Evict drops the cached entry for blueprintID, forcing the next Load to
// hit inner unconditionally.
func (c *CachedLoader) Evict(blueprintID string) {
	c.mu.Lock()
	delete(c.entries, blueprintID)
	c.mu.Unlock()
}

// ContentHash computes a SHA256 hash of code content for change
// detection and dependency-cache keys.
func ContentHash(code []byte) string {
	h := sha256.Sum256(code)
	return hex.EncodeToString(h[:])
}
