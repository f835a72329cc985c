// Package vault resolves credential material for automation bots and API
// clients. The pipeline only ever sees the narrow Resolver capability; the
// storage backend stays swappable.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when a key has no stored credential.
var ErrNotFound = errors.New("credential not found")

// Resolver is the capability handed to the run: read-only key lookup.
type Resolver interface {
	Resolve(key string) (string, error)
}

// File is a JSON-file backed credential store.
type File struct {
	path string

	mu      sync.Mutex
	entries map[string]string
	loaded  bool
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Resolve(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.load(); err != nil {
		return "", err
	}

	value, ok := f.entries[key]
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

// Set stores a credential and persists the file with owner-only permissions.
func (f *File) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("credential key is required")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.load(); err != nil {
		return err
	}
	f.entries[key] = value
	return f.save()
}

func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.load(); err != nil {
		return err
	}
	if _, ok := f.entries[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(f.entries, key)
	return f.save()
}

func (f *File) Keys() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.load(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(f.entries))
	for key := range f.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *File) load() error {
	if f.loaded {
		return nil
	}

	f.entries = make(map[string]string)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.loaded = true
			return nil
		}
		return fmt.Errorf("reading credential file %q: %w", f.path, err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &f.entries); err != nil {
			return fmt.Errorf("parsing credential file %q: %w", f.path, err)
		}
	}
	f.loaded = true
	return nil
}

func (f *File) save() error {
	data, err := json.MarshalIndent(f.entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0o600)
}

// Env resolves credentials from environment variables. A key like
// "lever/api-key" maps to PREFIX_LEVER_API_KEY.
type Env struct {
	Prefix string
}

func (e Env) Resolve(key string) (string, error) {
	name := strings.ToUpper(strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(key))
	if e.Prefix != "" {
		name = e.Prefix + "_" + name
	}
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("%w: %s (env %s)", ErrNotFound, key, name)
	}
	return value, nil
}

// Chain tries resolvers in order, returning the first hit. Errors other than
// ErrNotFound stop the chain immediately.
type Chain []Resolver

func (c Chain) Resolve(key string) (string, error) {
	for _, r := range c {
		value, err := r.Resolve(key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Source describes how to load a standalone secret such as an API key.
type Source struct {
	// Name is used in error messages to give more context about the secret.
	Name string
	// Value is an inline secret provided via configuration or flags.
	Value string
	// File points to a file containing the secret. When set it takes
	// precedence over Value.
	File string
}

// Load returns the resolved secret from the source, trimmed. An error is
// returned when neither File nor Value contain a usable secret.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	file := strings.TrimSpace(src.File)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s from file %q: %w", name, file, err)
		}
		src.Value = string(data)
	}

	secret := strings.TrimSpace(src.Value)
	if secret == "" {
		if file != "" {
			return "", fmt.Errorf("%s file %q is empty", name, file)
		}
		return "", fmt.Errorf("%s is not configured", name)
	}

	return secret, nil
}
