package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mintforge/authority"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mintforge.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	if cfg.ListenAddress != ":8545" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
	if cfg.SignerKeystorePath == "" {
		t.Fatalf("expected generated keystore path")
	}
	if _, err := os.Stat(cfg.SignerKeystorePath); err != nil {
		t.Fatalf("keystore not created: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not persisted: %v", err)
	}
	if cfg.Watcher.PollInterval.Duration != 5*time.Second {
		t.Fatalf("unexpected poll interval %s", cfg.Watcher.PollInterval)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mintforge.toml")
	if _, err := Load(path); err != nil {
		t.Fatalf("create default: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if cfg.DataDir == "" || cfg.AuditDSN == "" || cfg.SnapshotPath == "" {
		t.Fatalf("defaults not applied on reload: %+v", cfg)
	}
	if cfg.JournalPath() != filepath.Join(cfg.DataDir, "journal") {
		t.Fatalf("unexpected journal path %q", cfg.JournalPath())
	}
}

func TestLoadAppliesPartialFileDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mintforge.toml")
	body := "ListenAddress = \":9000\"\n\n[watcher]\nEnabled = true\nNodeURL = \"http://localhost:8645\"\nPollInterval = \"2s\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
	if cfg.Watcher.PollInterval.Duration != 2*time.Second {
		t.Fatalf("unexpected poll interval %s", cfg.Watcher.PollInterval)
	}
	if cfg.Watcher.BatchSize != 100 || cfg.Watcher.Confirmations != 6 {
		t.Fatalf("watcher defaults not applied: %+v", cfg.Watcher)
	}
	if cfg.RPC.RequestsPerMinute != 600 {
		t.Fatalf("rpc defaults not applied: %+v", cfg.RPC)
	}
}

func TestLoadPolicyDefaults(t *testing.T) {
	policy, err := LoadPolicy("")
	if err != nil {
		t.Fatalf("load empty policy path: %v", err)
	}
	if policy != authority.DefaultPolicy() {
		t.Fatalf("expected default policy, got %+v", policy)
	}

	policy, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load missing policy file: %v", err)
	}
	if policy != authority.DefaultPolicy() {
		t.Fatalf("expected default policy for missing file, got %+v", policy)
	}
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := "claimCooldown: 10s\nmintWindow: 2m\nmintCapacity: 3\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if policy.ClaimCooldown != 10*time.Second {
		t.Fatalf("unexpected cooldown %s", policy.ClaimCooldown)
	}
	if policy.MintWindow != 2*time.Minute {
		t.Fatalf("unexpected window %s", policy.MintWindow)
	}
	if policy.MintCapacity != 3 {
		t.Fatalf("unexpected capacity %d", policy.MintCapacity)
	}
}

func TestLoadPolicyRejectsDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("enforce: false\n"), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	if _, err := LoadPolicy(path); !errors.Is(err, ErrPolicyDisabled) {
		t.Fatalf("expected ErrPolicyDisabled, got %v", err)
	}
}

func TestLoadPolicyRejectsNegative(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("claimCooldown: -5s\n"), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	if _, err := LoadPolicy(path); err == nil {
		t.Fatalf("expected error for negative cooldown")
	}
}
