package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultBatchSize       = 5
	defaultTestBatchSize   = 2
	defaultWebPort         = 8088
)

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

type Config struct {
	Inbox   InboxConfig   `yaml:"inbox"`
	Batch   BatchConfig   `yaml:"batch"`
	State   StateConfig   `yaml:"state"`
	Browser BrowserConfig `yaml:"browser"`
	Web     WebConfig     `yaml:"web,omitempty"`
}

// InboxConfig holds the mail store the change requests arrive in
type InboxConfig struct {
	Provider        string `yaml:"provider"`         // "gmail", "outlook", "imap", "maildir"
	Server          string `yaml:"server"`           // e.g., "imap.gmail.com"
	Port            int    `yaml:"port"`             // e.g., 993
	Email           string `yaml:"email"`            // Mailbox login
	Password        string `yaml:"password"`         // App password (not main password)
	Folder          string `yaml:"folder"`           // Folder with change requests (default: "INBOX")
	ProcessedFolder string `yaml:"processed_folder"` // Move committed messages here (optional)
	Maildir         string `yaml:"maildir"`          // Maildir root when provider is "maildir"
	MarkRead        *bool  `yaml:"mark_read"`        // Mark committed messages read (default: true)
}

// ShouldMarkRead reports whether committed messages get marked read.
func (c InboxConfig) ShouldMarkRead() bool {
	return c.MarkRead == nil || *c.MarkRead
}

// BatchConfig controls how many actionable items one view shows
type BatchConfig struct {
	Size            int `yaml:"size"`             // Items per batch (default: 5)
	TestSize        int `yaml:"test_size"`        // Items per batch in --test mode (default: 2)
}

// StateConfig selects where pending items and the ledger live
type StateConfig struct {
	Backend string `yaml:"backend"` // "file", "sqlite", "memory"
	Dir     string `yaml:"dir"`
}

// BrowserConfig holds settings for opening listing pages
type BrowserConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Headless   bool   `yaml:"headless"`
	ProfileDir string `yaml:"profile_dir"` // Chrome user data dir, keeps the marketplace login
	TimeoutSec int    `yaml:"timeout_sec"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

func DefaultConfigPath() string {
	return filepath.Join(defaultHome(), "config.yaml")
}

// DefaultStateDir is where state lives when state.dir is unset.
func DefaultStateDir() string {
	return filepath.Join(defaultHome(), "state")
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relist"
	}
	return filepath.Join(home, ".relist")
}

func Load(path string) (*Config, error) {
	if err := checkFilePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with every default filled in.
func Default() *Config {
	cfg := &Config{Browser: BrowserConfig{Enabled: true}}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	// Set inbox defaults
	if c.Inbox.Provider == "" {
		c.Inbox.Provider = "imap"
	}
	if c.Inbox.Folder == "" {
		c.Inbox.Folder = "INBOX"
	}
	if c.Inbox.Provider == "gmail" && c.Inbox.Server == "" {
		c.Inbox.Server = "imap.gmail.com"
		c.Inbox.Port = 993
	}
	if c.Inbox.Provider == "outlook" && c.Inbox.Server == "" {
		c.Inbox.Server = "outlook.office365.com"
		c.Inbox.Port = 993
	}
	if c.Inbox.Port == 0 {
		c.Inbox.Port = 993
	}
	c.Inbox.Maildir = expandHome(c.Inbox.Maildir)

	// Set batch defaults
	if c.Batch.Size <= 0 {
		c.Batch.Size = defaultBatchSize
	}
	if c.Batch.TestSize <= 0 {
		c.Batch.TestSize = defaultTestBatchSize
	}

	// Set state defaults
	if c.State.Backend == "" {
		c.State.Backend = "file"
	}
	if c.State.Dir == "" {
		c.State.Dir = DefaultStateDir()
	}
	c.State.Dir = expandHome(c.State.Dir)
	c.Browser.ProfileDir = expandHome(c.Browser.ProfileDir)

	if c.Browser.TimeoutSec == 0 {
		c.Browser.TimeoutSec = 30
	}
	if c.Web.Port == 0 {
		c.Web.Port = defaultWebPort
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	if c.Batch.Size <= 0 {
		return fmt.Errorf("batch: size must be positive")
	}
	switch c.State.Backend {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("state: unknown backend %q (use file, sqlite or memory)", c.State.Backend)
	}
	return c.ValidateInbox()
}

// ValidateInbox validates the mail store settings
func (c *Config) ValidateInbox() error {
	switch c.Inbox.Provider {
	case "maildir":
		if c.Inbox.Maildir == "" {
			return fmt.Errorf("inbox: maildir path is required for the maildir provider")
		}
		return nil
	case "gmail", "outlook", "imap":
	default:
		return fmt.Errorf("inbox: unknown provider %q", c.Inbox.Provider)
	}
	if c.Inbox.Email == "" {
		return fmt.Errorf("inbox: email address is required")
	}
	if c.Inbox.Password == "" {
		return fmt.Errorf("inbox: password (app password) is required")
	}
	if c.Inbox.Server == "" {
		return fmt.Errorf("inbox: IMAP server is required")
	}
	return nil
}
