package pointer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// File stores pointers in a small YAML document, one entry per key.
type File struct {
	path string
	key  string
	mu   sync.Mutex
}

type fileDoc struct {
	Pointers map[string]string `yaml:"pointers"`
}

// NewFile stores the pointer for key in the YAML file at path. An empty path
// selects recovery.yaml under StateDir.
func NewFile(path, key string) *File {
	if path == "" {
		path = filepath.Join(StateDir(), "recovery.yaml")
	}
	if key == "" {
		key = DefaultKey
	}
	return &File{path: path, key: key}
}

// Path returns the backing file location.
func (f *File) Path() string {
	return f.path
}

// Load implements Store.
func (f *File) Load(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return "", err
	}
	return doc.Pointers[f.key], nil
}

// Save implements Store.
func (f *File) Save(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return err
	}
	doc.Pointers[f.key] = path
	return f.write(doc)
}

// Clear implements Store.
func (f *File) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := doc.Pointers[f.key]; !ok {
		return nil
	}
	delete(doc.Pointers, f.key)
	return f.write(doc)
}

func (f *File) read() (fileDoc, error) {
	doc := fileDoc{Pointers: map[string]string{}}
	// #nosec G304 -- the pointer path comes from trusted configuration.
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("read pointer file: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse pointer file %s: %w", f.path, err)
	}
	if doc.Pointers == nil {
		doc.Pointers = map[string]string{}
	}
	return doc, nil
}

// write replaces the file through a rename so a crash never leaves a torn
// document behind.
func (f *File) write(doc fileDoc) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode pointer file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return fmt.Errorf("create pointer dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".pointer-*")
	if err != nil {
		return fmt.Errorf("create pointer temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write pointer temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close pointer temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace pointer file: %w", err)
	}
	return nil
}
