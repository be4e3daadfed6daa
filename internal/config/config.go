package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/leadmail/internal/ipfilter"
	"github.com/foxzi/leadmail/internal/placeholder"
)

// Config represents the main configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	API          APIConfig          `yaml:"api"`
	Storage      StorageConfig      `yaml:"storage"`
	Leads        LeadsConfig        `yaml:"leads"`
	Placeholders PlaceholdersConfig `yaml:"placeholders"`
	Delivery     DeliveryConfig     `yaml:"delivery"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ServerConfig contains server-wide settings
type ServerConfig struct {
	Hostname string `yaml:"hostname"` // FQDN used in HELO and Message-ID
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 5m, sends can be slow)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
	AllowedIPs     []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to call /api/v1 (empty = allow all)
}

// StorageConfig contains template storage settings
type StorageConfig struct {
	Path string `yaml:"path"` // bbolt file
}

// LeadsConfig contains lead database settings
type LeadsConfig struct {
	Path string `yaml:"path"` // SQLite file
}

// PlaceholdersConfig holds the auto placeholder registry
type PlaceholdersConfig struct {
	Auto []placeholder.AutoPlaceholder `yaml:"auto"`
}

// DeliveryConfig contains outgoing mail settings
type DeliveryConfig struct {
	Mode        string     `yaml:"mode"` // smtp, log
	From        string     `yaml:"from"` // default sender address
	Concurrency int        `yaml:"concurrency"`
	SMTP        SMTPConfig `yaml:"smtp"`
	DKIM        DKIMConfig `yaml:"dkim"`
}

// SMTPConfig contains smarthost settings
type SMTPConfig struct {
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	RequireTLS bool          `yaml:"require_tls"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`
	Path          string        `yaml:"path"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	AllowedIPs    []string      `yaml:"allowed_ips"` // IP addresses/CIDRs allowed to scrape (empty = allow all)
}

// Delivery modes
const (
	DeliveryModeSMTP = "smtp"
	DeliveryModeLog  = "log"
)

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Server.Hostname = hostname
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 5 * time.Minute
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/leadmail/templates.db"
	}
	if c.Leads.Path == "" {
		c.Leads.Path = "/var/lib/leadmail/leads.db"
	}

	if len(c.Placeholders.Auto) == 0 {
		c.Placeholders.Auto = append([]placeholder.AutoPlaceholder(nil), placeholder.DefaultAutoPlaceholders...)
	}

	if c.Delivery.Mode == "" {
		c.Delivery.Mode = DeliveryModeLog
	}
	if c.Delivery.Concurrency == 0 {
		c.Delivery.Concurrency = 4
	}
	if c.Delivery.SMTP.Port == 0 {
		c.Delivery.SMTP.Port = 587
	}
	if c.Delivery.SMTP.Timeout == 0 {
		c.Delivery.SMTP.Timeout = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if _, err := placeholder.NewRegistry(c.Placeholders.Auto); err != nil {
		return fmt.Errorf("invalid placeholders.auto: %w", err)
	}

	if err := c.validateDelivery(); err != nil {
		return err
	}

	if err := c.validateDKIM(); err != nil {
		return err
	}

	if err := validateNetworks("api.allowed_ips", c.API.AllowedIPs); err != nil {
		return err
	}

	if err := validateNetworks("metrics.allowed_ips", c.Metrics.AllowedIPs); err != nil {
		return err
	}

	return nil
}

// validateDelivery validates delivery configuration
func (c *Config) validateDelivery() error {
	switch c.Delivery.Mode {
	case DeliveryModeLog:
	case DeliveryModeSMTP:
		if c.Delivery.SMTP.Host == "" {
			return fmt.Errorf("delivery.smtp.host is required when delivery.mode is smtp")
		}
		if c.Delivery.SMTP.Port < 1 || c.Delivery.SMTP.Port > 65535 {
			return fmt.Errorf("invalid delivery.smtp.port: %d", c.Delivery.SMTP.Port)
		}
		if c.Delivery.SMTP.Password != "" && c.Delivery.SMTP.Username == "" {
			return fmt.Errorf("delivery.smtp.username is required when a password is set")
		}
	default:
		return fmt.Errorf("invalid delivery.mode: %s (must be smtp or log)", c.Delivery.Mode)
	}

	if c.Delivery.Concurrency < 0 {
		return fmt.Errorf("delivery.concurrency must not be negative")
	}

	return nil
}

// validateDKIM validates DKIM configuration
func (c *Config) validateDKIM() error {
	dkim := c.Delivery.DKIM
	if !dkim.Enabled {
		return nil
	}

	if dkim.Selector == "" {
		return fmt.Errorf("delivery.dkim.selector is required when DKIM is enabled")
	}
	if dkim.KeyFile == "" {
		return fmt.Errorf("delivery.dkim.key_file is required when DKIM is enabled")
	}
	if dkim.Domain == "" {
		return fmt.Errorf("delivery.dkim.domain is required when DKIM is enabled")
	}

	return nil
}

func validateNetworks(field string, entries []string) error {
	for _, entry := range entries {
		if _, err := ipfilter.ParseNetwork(entry); err != nil {
			return fmt.Errorf("invalid %s entry: %s", field, entry)
		}
	}
	return nil
}
