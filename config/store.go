package config

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// Store holds the active configuration snapshot. Reads are wait-free and a
// caller holding a snapshot keeps observing that exact snapshot even if a
// reload swaps in a new one concurrently.
type Store struct {
	current atomic.Pointer[Config]

	// Path the store was loaded from; empty for string-loaded stores.
	path string
}

// LoadFile reads, parses and validates the configuration file at path and
// returns a Store primed with it. The returned Store supports Reload.
func LoadFile(path string) (*Store, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}

	s := &Store{path: path}
	s.current.Store(cfg)
	return s, nil
}

// LoadString parses and validates a configuration document held in memory.
// Reload is not available on the resulting Store.
func LoadString(text string) (*Store, error) {
	cfg, err := parse([]byte(text), "yaml")
	if err != nil {
		return nil, err
	}

	s := &Store{}
	s.current.Store(cfg)
	return s, nil
}

// Get returns the current snapshot. Wait-free; never blocks writers.
func (s *Store) Get() *Config {
	return s.current.Load()
}

// Reload re-reads the file the store was loaded from, validates it and swaps
// it in atomically. On any failure the previously active snapshot stays
// untouched and the error is returned to the caller.
func (s *Store) Reload() error {
	if s.path == "" {
		return wrap(ErrValidation, errors.New("no config file path set"))
	}

	cfg, err := readFile(s.path)
	if err != nil {
		return err
	}

	s.current.Store(cfg)
	return nil
}

// Update validates cfg and swaps it in atomically. Invalid configs never
// replace the live one.
func (s *Store) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return wrap(ErrValidation, err)
	}

	s.current.Store(cfg)
	return nil
}

func readFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, wrap(ErrNotFound, err)
		}
		return nil, wrap(ErrIO, err)
	}

	return parse(raw, configType(path))
}

func parse(raw []byte, kind string) (*Config, error) {
	v := newViper()
	v.SetConfigType(kind)

	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, wrap(ErrParse, err)
	}

	return unmarshal(v)
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}
