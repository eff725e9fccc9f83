// Package store provides crash-safe YAML persistence for strategy
// settings and holding snapshots.
//
// Each file wraps its payload as {metadata: {...}, data: {...}} with one
// data entry per strategy. Writes are read-modify-write: the file is
// loaded, the changed entries merged in, and the whole document written
// back, so entries for strategies not currently loaded survive. Writes
// use atomic file replacement (write to .tmp, then rename) to prevent
// corruption from partial writes or crashes mid-save.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const schemaVersion = 1

// Metadata describes a store file.
type Metadata struct {
	Version       string `yaml:"version"`
	CreatedAt     string `yaml:"created_at"`
	SchemaVersion int    `yaml:"schema_version"`
	Description   string `yaml:"description"`
}

type document struct {
	Metadata Metadata       `yaml:"metadata"`
	Data     map[string]any `yaml:"data"`
}

// File is one keyed YAML data file. All operations are mutex-protected to
// prevent concurrent file corruption.
type File struct {
	path        string
	description string
	mu          sync.Mutex
}

// NewFile creates a handle for the given path. The file itself is created
// on first save.
func NewFile(path, description string) *File {
	return &File{path: path, description: description}
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Load returns the data section. A missing file yields an empty map.
func (f *File) Load() (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}

// Get returns one entry from the data section.
func (f *File) Get(key string) (map[string]any, bool, error) {
	data, err := f.Load()
	if err != nil {
		return nil, false, err
	}
	raw, ok := data[key]
	if !ok {
		return nil, false, nil
	}
	entry, ok := raw.(map[string]any)
	if !ok {
		return nil, false, fmt.Errorf("store %s: entry %q is not a mapping", f.path, key)
	}
	return entry, true, nil
}

// Save merges one entry into the file.
func (f *File) Save(key string, value any) error {
	return f.SaveAll(map[string]any{key: value})
}

// SaveAll merges several entries into the file in one write.
func (f *File) SaveAll(entries map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	for key, value := range entries {
		doc.Data[key] = value
	}
	return f.write(doc)
}

// Delete removes one entry. Deleting a missing key is a no-op.
func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := doc.Data[key]; !ok {
		return nil
	}
	delete(doc.Data, key)
	return f.write(doc)
}

func (f *File) read() (*document, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &document{
				Metadata: f.newMetadata(),
				Data:     make(map[string]any),
			}, nil
		}
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	if doc.Data == nil {
		doc.Data = make(map[string]any)
	}
	if doc.Metadata.CreatedAt == "" {
		doc.Metadata = f.newMetadata()
	}
	return &doc, nil
}

func (f *File) write(doc *document) error {
	doc.Metadata.Version = "1.0"
	doc.Metadata.SchemaVersion = schemaVersion
	doc.Metadata.Description = f.description

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", f.path, err)
	}

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return os.Rename(tmp, f.path)
}

func (f *File) newMetadata() Metadata {
	return Metadata{
		Version:       "1.0",
		CreatedAt:     time.Now().Format(time.RFC3339),
		SchemaVersion: schemaVersion,
		Description:   f.description,
	}
}
