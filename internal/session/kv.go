package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// KV is a small synchronous string key/value store.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// FileKV keeps a flat map in a YAML file. Every write replaces the file atomically.
type FileKV struct {
	path string

	mu sync.Mutex
}

// NewFileKV returns a FileKV backed by path. The file is created on first write.
func NewFileKV(path string) (*FileKV, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("session: kv path must not be empty")
	}
	return &FileKV{path: filepath.Clean(path)}, nil
}

func (f *FileKV) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *FileKV) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}
	values[key] = value
	return f.save(values)
}

func (f *FileKV) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return f.save(values)
}

func (f *FileKV) load() (map[string]string, error) {
	values := map[string]string{}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("session: read %s: %w", f.path, err)
	}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", f.path, err)
	}
	if values == nil {
		values = map[string]string{}
	}
	return values, nil
}

func (f *FileKV) save(values map[string]string) error {
	raw, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("session: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("session: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("session: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("session: replace %s: %w", f.path, err)
	}
	return nil
}
