package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}

	if got := store.APIKey(); got != "" {
		t.Fatalf("fresh store should have empty key, got %q", got)
	}
	if got := store.Hotkey(); got != DefaultHotkey {
		t.Fatalf("expected default hotkey, got %q", got)
	}

	if err := store.SetAPIKey("sk-123"); err != nil {
		t.Fatalf("set api key failed: %v", err)
	}
	if err := store.SetHotkey("ctrl+alt+d"); err != nil {
		t.Fatalf("set hotkey failed: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if got := reopened.APIKey(); got != "sk-123" {
		t.Fatalf("unexpected key after reopen: %q", got)
	}
	if got := reopened.Hotkey(); got != "ctrl+alt+d" {
		t.Fatalf("unexpected hotkey after reopen: %q", got)
	}
}

func TestStoreCorruptFileReadsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if got := store.APIKey(); got != "" {
		t.Fatalf("corrupt file should read empty, got %q", got)
	}
	if err := store.SetAPIKey("recovered"); err != nil {
		t.Fatalf("set over corrupt file failed: %v", err)
	}
	if got := store.APIKey(); got != "recovered" {
		t.Fatalf("unexpected key: %q", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Backend != BackendDashScope {
		t.Fatalf("unexpected backend: %q", cfg.Backend)
	}
	if cfg.FinalizeTimeout != 3*time.Second {
		t.Fatalf("unexpected finalize timeout: %s", cfg.FinalizeTimeout)
	}
	if cfg.SampleRate != 16000 || cfg.Channels != 1 {
		t.Fatalf("unexpected audio defaults: %+v", cfg)
	}
	if cfg.Hotkey != DefaultHotkey {
		t.Fatalf("unexpected hotkey: %q", cfg.Hotkey)
	}
}

func TestLoadEnvironmentWinsOverStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if err := store.SetAPIKey("from-store"); err != nil {
		t.Fatalf("set api key failed: %v", err)
	}
	if err := store.SetHotkey("ctrl+alt+s"); err != nil {
		t.Fatalf("set hotkey failed: %v", err)
	}

	t.Setenv("DASHSCOPE_API_KEY", "from-env")
	t.Setenv("VOICEPASTE_FINALIZE_TIMEOUT", "5s")

	cfg, err := Load(store)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.DashScopeAPIKey != "from-env" {
		t.Fatalf("environment should win, got %q", cfg.DashScopeAPIKey)
	}
	if cfg.Hotkey != "ctrl+alt+s" {
		t.Fatalf("store hotkey should fill the gap, got %q", cfg.Hotkey)
	}
	if cfg.FinalizeTimeout != 5*time.Second {
		t.Fatalf("unexpected finalize timeout: %s", cfg.FinalizeTimeout)
	}
}

func TestLoadStoreFillsCredentialGap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if err := store.SetAPIKey("persisted"); err != nil {
		t.Fatalf("set api key failed: %v", err)
	}

	t.Setenv("DASHSCOPE_API_KEY", "")
	cfg, err := Load(store)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.DashScopeAPIKey != "persisted" {
		t.Fatalf("expected store credential, got %q", cfg.DashScopeAPIKey)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("VOICEPASTE_BACKEND", "vosk")
	if _, err := Load(nil); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}
