// Package config provides configuration file support for hopwatch.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the hopwatch configuration file structure.
type Config struct {
	// Defaults are applied when flags are not specified
	Defaults Defaults `yaml:"defaults"`

	// MaxMind holds offline ASN/GeoIP database settings.
	MaxMind MaxMindConfig `yaml:"maxmind,omitempty"`

	// Aliases for common targets
	Aliases map[string]string `yaml:"aliases,omitempty"`
}

// MaxMindConfig configures the optional offline MaxMind GeoLite2 databases
// used by internal/enrich in place of the online ASN/GeoIP APIs.
type MaxMindConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LicenseKey  string `yaml:"license_key"`
	UpdateHours int    `yaml:"update_hours"`
}

// Defaults holds default values for the probe session.
type Defaults struct {
	// Output mode
	TUI     bool `yaml:"tui"`
	NoColor bool `yaml:"no_color"`

	MaxHops int `yaml:"max_hops"`

	// Enrichment
	Enrichment EnrichmentConfig `yaml:"enrichment"`

	// Continuous probe session
	Interval      float64  `yaml:"interval"`
	Count         int      `yaml:"count"`
	Numeric       bool     `yaml:"numeric"`
	Report        bool     `yaml:"report"`
	Fields        []string `yaml:"fields,omitempty"`
	ShowAll       bool     `yaml:"show_all"`
	Simulate      bool     `yaml:"simulate"`
	ForceSimulate bool     `yaml:"force_simulate"`
}

// EnrichmentConfig holds enrichment settings.
type EnrichmentConfig struct {
	Enabled bool `yaml:"enabled"`
	RDNS    bool `yaml:"rdns"`
	ASN     bool `yaml:"asn"`
	GeoIP   bool `yaml:"geoip"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Defaults: Defaults{
			TUI:     false,
			NoColor: false,
			MaxHops: 30,
			Enrichment: EnrichmentConfig{
				Enabled: true,
				RDNS:    true,
				ASN:     true,
				GeoIP:   true,
			},
			Interval: 1.0,
			Count:    0,
			Fields:   []string{"hop", "host", "loss", "sent", "last", "avg", "best", "worst"},
		},
		Aliases: make(map[string]string),
	}
}

// Load reads configuration from the default config file locations.
// It searches in order:
//  1. ./hopwatch.yaml (current directory)
//  2. ~/.config/hopwatch/config.yaml (Linux/macOS)
//  3. %APPDATA%\hopwatch\config.yaml (Windows)
//
// If no config file is found, returns default configuration.
func Load() (*Config, error) {
	paths := getConfigPaths()

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return LoadFrom(path)
		}
	}

	// No config file found, return defaults
	return DefaultConfig(), nil
}

// LoadFrom reads configuration from a specific file path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	return config, nil
}

// Save writes the configuration to the default user config path.
func (c *Config) Save() error {
	path := getUserConfigPath()

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// SaveTo writes the configuration to a specific file path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// getConfigPaths returns the list of config file paths to search.
func getConfigPaths() []string {
	paths := []string{
		"hopwatch.yaml",
		"hopwatch.yml",
		".hopwatch.yaml",
		".hopwatch.yml",
	}

	// Add user config path
	userPath := getUserConfigPath()
	if userPath != "" {
		paths = append(paths, userPath)
	}

	return paths
}

// getUserConfigPath returns the user-specific config file path.
func getUserConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "hopwatch", "config.yaml")
		}
	default: // Linux, macOS, etc.
		home, err := os.UserHomeDir()
		if err == nil {
			// Check XDG_CONFIG_HOME first
			xdgConfig := os.Getenv("XDG_CONFIG_HOME")
			if xdgConfig != "" {
				return filepath.Join(xdgConfig, "hopwatch", "config.yaml")
			}
			return filepath.Join(home, ".config", "hopwatch", "config.yaml")
		}
	}
	return ""
}

// GetConfigPath returns the path where user config would be saved.
func GetConfigPath() string {
	return getUserConfigPath()
}

// GetASNDBPath returns where the offline GeoLite2-ASN.mmdb is cached.
func GetASNDBPath() string {
	return filepath.Join(dataDir(), "GeoLite2-ASN.mmdb")
}

// GetGeoDBPath returns where the offline GeoLite2-City.mmdb is cached.
func GetGeoDBPath() string {
	return filepath.Join(dataDir(), "GeoLite2-City.mmdb")
}

// dataDir returns the directory MaxMind databases are cached in, alongside
// the user config directory.
func dataDir() string {
	path := getUserConfigPath()
	if path == "" {
		return "."
	}
	return filepath.Dir(path)
}

// GenerateExample generates an example configuration file content.
func GenerateExample() string {
	return `# hopwatch Configuration File
# Location: ~/.config/hopwatch/config.yaml (Linux/macOS)
#           %APPDATA%\hopwatch\config.yaml (Windows)
#           ./hopwatch.yaml (current directory)

defaults:
  # Output mode
  tui: false              # Interactive TUI mode
  no_color: false         # Disable colors

  max_hops: 30            # Maximum number of hops

  # Enrichment settings
  enrichment:
    enabled: true         # Master switch for all enrichment
    rdns: true            # Reverse DNS lookups
    asn: true             # ASN lookups
    geoip: true           # GeoIP lookups

  # Continuous mode (mtr-style)
  interval: 1.0           # Seconds between rounds
  count: 0                # Rounds before exit (0 = run until cancelled)
  numeric: false          # Disable reverse DNS in continuous mode
  report: false           # Run count rounds, print a report, exit
  show_all: false         # Show every column regardless of fields
  simulate: false         # Use the Sim transport instead of raw sockets
  force_simulate: false   # Use Sim even when raw privileges are available
  fields:                 # Ordered subset of: hop,host,loss,sent,last,avg,ema,jitter,jitter-avg,best,worst,paths,graph
    - hop
    - host
    - loss
    - sent
    - last
    - avg
    - best
    - worst

maxmind:
  enabled: false          # Use offline GeoLite2 databases instead of online lookups
  license_key: ""         # MaxMind license key (required to download databases)
  update_hours: 168       # Hours between automatic database refreshes

# Target aliases (optional)
aliases:
  dns: 8.8.8.8
  cf: 1.1.1.1
  google: google.com
`
}
