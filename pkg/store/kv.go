// Package store holds the persistence layer: a small file-backed KV used
// for the device-local profile, and an optional Postgres-backed username
// roster for signup.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileKV is a key-value store persisted as one file per key under a
// directory. Writes go through a temp file and rename so a crash never
// leaves a half-written value behind.
type FileKV struct {
	dir string
	mu  sync.Mutex
}

func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &FileKV{dir: dir}, nil
}

// Get returns the stored value for key, or (nil, nil) when the key has
// never been set.
func (kv *FileKV) Get(key string) ([]byte, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	data, err := os.ReadFile(kv.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// Set stores value under key, replacing any previous value.
func (kv *FileKV) Set(key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	target := kv.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, value, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// Delete removes key. Deleting a missing key is not an error.
func (kv *FileKV) Delete(key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	err := os.Remove(kv.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (kv *FileKV) path(key string) string {
	// Keys are internal constants, but flatten path separators anyway so a
	// bad key cannot escape the data directory.
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(kv.dir, safe+".json")
}
