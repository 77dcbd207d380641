// backend.go - Physical persistence backends for the encrypted note store.
//
// The store only ever hands backends ciphertext; a backend never sees keys
// or plaintext records. Backends are injected so tests can run fully
// in memory.

package store

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
)

// Backend is the raw key/value substrate underneath the encrypted store.
type Backend interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
	List(prefix string) ([]string, error)
}

// MemoryBackend keeps records in process memory. Used by tests and demos.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string][]byte)}
}

func (b *MemoryBackend) Get(key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.records[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (b *MemoryBackend) Put(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	b.records[key] = cp
	return nil
}

func (b *MemoryBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, key)
	return nil
}

func (b *MemoryBackend) List(prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	for k := range b.records {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// FileBackend persists all records as a single JSON file, rewritten on every
// mutation. Values are ciphertext, so the file leaks nothing but key names.
type FileBackend struct {
	mu   sync.Mutex
	path string
}

// NewFileBackend creates a backend persisting to the given path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) load() (map[string][]byte, error) {
	f, err := os.Open(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string][]byte), nil
		}
		return nil, err
	}
	defer f.Close()
	var records map[string][]byte
	if err := json.NewDecoder(f).Decode(&records); err != nil {
		return nil, err
	}
	if records == nil {
		records = make(map[string][]byte)
	}
	return records, nil
}

func (b *FileBackend) save(records map[string][]byte) error {
	f, err := os.Create(b.path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func (b *FileBackend) Get(key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	records, err := b.load()
	if err != nil {
		return nil, false, err
	}
	v, ok := records[key]
	return v, ok, nil
}

func (b *FileBackend) Put(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	records, err := b.load()
	if err != nil {
		return err
	}
	records[key] = value
	return b.save(records)
}

func (b *FileBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	records, err := b.load()
	if err != nil {
		return err
	}
	delete(records, key)
	return b.save(records)
}

func (b *FileBackend) List(prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	records, err := b.load()
	if err != nil {
		return nil, err
	}
	var keys []string
	for k := range records {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
