package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	keyAPIKey = "api_key"
	keyHotkey = "hotkey"

	// DefaultHotkey is used when neither the store nor the environment
	// names one.
	DefaultHotkey = "ctrl+alt+space"
)

// Store is a flat JSON key-value file holding the credential and hotkey
// between runs. An unreadable or corrupt file reads as empty; writes
// create the parent directory.
type Store struct {
	path string
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.New("could not determine home directory")
		}
		path = filepath.Join(home, ".config", "voicepaste", "config.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return &Store{path: path}, nil
}

func (s *Store) APIKey() string {
	return s.readAll()[keyAPIKey]
}

func (s *Store) SetAPIKey(key string) error {
	return s.set(keyAPIKey, key)
}

func (s *Store) Hotkey() string {
	if v := s.readAll()[keyHotkey]; v != "" {
		return v
	}
	return DefaultHotkey
}

func (s *Store) SetHotkey(hotkey string) error {
	return s.set(keyHotkey, hotkey)
}

func (s *Store) set(key, value string) error {
	data := s.readAll()
	data[key] = value
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, payload, 0o600)
}

func (s *Store) readAll() map[string]string {
	data := map[string]string{}
	payload, err := os.ReadFile(s.path)
	if err != nil {
		return data
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		return map[string]string{}
	}
	return data
}
