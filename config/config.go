// Package config loads the daemon configuration from TOML and the rate
// limiting policy from YAML. A missing config file is populated with defaults,
// including a freshly generated signer keystore, so a first run comes up
// working.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mintforge/crypto"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so intervals can be written as "5s" or "2m" in
// the TOML file.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler so defaults round-trip.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LogConfig controls the optional rotating file sink next to stdout logging.
type LogConfig struct {
	Path       string `toml:"Path"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// RPCConfig tunes the HTTP surface of the daemon.
type RPCConfig struct {
	MaxConns          int     `toml:"MaxConns"`
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
	JWTIssuer         string  `toml:"JWTIssuer"`
	JWTAudience       string  `toml:"JWTAudience"`
}

// WatcherConfig points the burn watcher at a chain node.
type WatcherConfig struct {
	Enabled       bool     `toml:"Enabled"`
	NodeURL       string   `toml:"NodeURL"`
	PollInterval  Duration `toml:"PollInterval"`
	BatchSize     int      `toml:"BatchSize"`
	Confirmations uint64   `toml:"Confirmations"`
}

// Config is the daemon configuration loaded from TOML.
type Config struct {
	ListenAddress      string        `toml:"ListenAddress"`
	DataDir            string        `toml:"DataDir"`
	Environment        string        `toml:"Environment"`
	SignerKeystorePath string        `toml:"SignerKeystorePath"`
	PolicyPath         string        `toml:"PolicyPath"`
	AuditDSN           string        `toml:"AuditDSN"`
	SnapshotPath       string        `toml:"SnapshotPath"`
	Log                LogConfig     `toml:"log"`
	RPC                RPCConfig     `toml:"rpc"`
	Watcher            WatcherConfig `toml:"watcher"`
}

// Load reads the configuration at path, creating a populated default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults(path)
	return cfg, nil
}

func (c *Config) applyDefaults(configPath string) {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir(configPath)
	}
	if strings.TrimSpace(c.AuditDSN) == "" {
		c.AuditDSN = filepath.Join(c.DataDir, "audit.db")
	}
	if strings.TrimSpace(c.SnapshotPath) == "" {
		c.SnapshotPath = filepath.Join(c.DataDir, "state-snapshot.json")
	}
	if c.RPC.MaxConns <= 0 {
		c.RPC.MaxConns = 512
	}
	if c.RPC.RequestsPerMinute <= 0 {
		c.RPC.RequestsPerMinute = 600
	}
	if c.RPC.Burst <= 0 {
		c.RPC.Burst = 20
	}
	if c.Watcher.PollInterval.Duration <= 0 {
		c.Watcher.PollInterval = Duration{5 * time.Second}
	}
	if c.Watcher.BatchSize <= 0 {
		c.Watcher.BatchSize = 100
	}
	if c.Watcher.Confirmations == 0 {
		c.Watcher.Confirmations = 6
	}
}

// JournalPath returns where the authority's write-ahead journal lives.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "journal")
}

// WatcherStorePath returns where the burn watcher keeps its checkpoint store.
func (c *Config) WatcherStorePath() string {
	return filepath.Join(c.DataDir, "watcher.db")
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.SignerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.SignerKeystorePath != keystorePath {
		cfg.SignerKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file alongside a
// freshly generated signer keystore.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress: ":8545",
		DataDir:       defaultDataDir(path),
		Watcher: WatcherConfig{
			PollInterval: Duration{5 * time.Second},
			BatchSize:    100,
		},
	}
	cfg.SignerKeystorePath = keystorePath
	cfg.applyDefaults(path)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "signer.keystore")
}

func defaultDataDir(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "mintforge-data")
}
