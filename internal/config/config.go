package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.yaml.in/yaml/v4"

	"github.com/tracyhatemice/mailcode/internal/receiver"
	"github.com/tracyhatemice/mailcode/internal/report"
)

// DefaultHost is the mail server used when none is configured.
const DefaultHost = "domain-imap.cuiqiu.com"

// Config is the top-level application configuration.
type Config struct {
	LogLevel  string  `yaml:"log_level"`
	OutputDir string  `yaml:"output_dir"`
	Account   Account `yaml:"account"`
	Search    Search  `yaml:"search"`
	Extract   Extract `yaml:"extract"`
}

// Account describes the mailbox to read.
type Account struct {
	Protocol string `yaml:"protocol"` // "imap" or "pop3"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
}

// Search holds the default search parameters of a run.
type Search struct {
	Hours     int    `yaml:"hours"`
	Sender    string `yaml:"sender"`
	Subject   string `yaml:"subject"`
	Recipient string `yaml:"recipient"`
	Content   string `yaml:"content"`
}

// Extract tunes content extraction.
type Extract struct {
	ScanPlainText bool `yaml:"scan_plain_text"`
}

// GetPort returns the configured port or the protocol's implicit-TLS default.
func (a *Account) GetPort() int {
	if a.Port > 0 {
		return a.Port
	}
	switch {
	case a.Protocol == "pop3" && a.UseTLS:
		return 995
	case a.Protocol == "pop3":
		return 110
	case a.UseTLS:
		return 993
	default:
		return 143
	}
}

// Window returns the search window as a time.Duration, defaulting to 24h.
func (s *Search) Window() time.Duration {
	if s.Hours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.Hours) * time.Hour
}

// Criteria converts the search section into receiver criteria.
func (s *Search) Criteria() receiver.Criteria {
	return receiver.Criteria{
		Window:    s.Window(),
		Sender:    s.Sender,
		Subject:   s.Subject,
		Recipient: s.Recipient,
		Content:   s.Content,
	}
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		OutputDir: report.DefaultDir,
		Account: Account{
			Protocol: "imap",
			Host:     DefaultHost,
			UseTLS:   true,
		},
		Search: Search{
			Hours: 24,
		},
	}
}

// Load reads and parses a YAML configuration file. A missing file yields
// the defaults, since every value can also come from flags or prompts.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that must hold before connecting.
// Credentials are checked later because they may be prompted for.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}
	if c.Account.Protocol != "pop3" && c.Account.Protocol != "imap" {
		return fmt.Errorf("account: protocol must be pop3 or imap")
	}
	if c.Account.Host == "" {
		return fmt.Errorf("account: host is required")
	}
	if port := c.Account.GetPort(); port > 65535 {
		return fmt.Errorf("account: port must be between 1 and 65535")
	}
	if c.Search.Hours < 0 {
		return fmt.Errorf("search: hours must not be negative")
	}
	return nil
}
