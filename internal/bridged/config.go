package bridged

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/audiobridge/upnpbridge/internal/bridge"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server       ServerConfig       `toml:"server"`
	Discovery    DiscoveryConfig    `toml:"discovery"`
	Browse       BrowseConfig       `toml:"browse"`
	Events       EventsConfig       `toml:"events"`
	EmbeddedMQTT EmbeddedMQTTConfig `toml:"embedded_mqtt"`
}

// ServerConfig defines the HTTP listener and logging.
type ServerConfig struct {
	Listen    string `toml:"listen"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogOutput string `toml:"log_output"`
}

// DiscoveryConfig tunes SSDP discovery.
type DiscoveryConfig struct {
	SearchIntervalS int64 `toml:"search_interval_s"`
}

// BrowseConfig tunes the content browser.
type BrowseConfig struct {
	// CandidatePaths overrides the ordered ContentDirectory control
	// path fallback list. Empty means the built-in list.
	CandidatePaths []string `toml:"candidate_paths"`
}

// EventsConfig configures the MQTT event publisher.
type EventsConfig struct {
	Enabled  bool   `toml:"enabled"`
	Broker   string `toml:"broker"`
	ClientID string `toml:"client_id"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	TLSCA    string `toml:"tls_ca"`
	TLSCert  string `toml:"tls_cert"`
	TLSKey   string `toml:"tls_key"`
}

// EmbeddedMQTTConfig configures the in-process broker.
type EmbeddedMQTTConfig struct {
	Enabled        bool   `toml:"enabled"`
	Listen         string `toml:"listen"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
}

// LoadConfig loads the config file. The bridge is a zero-configuration
// tool, so a missing file yields pure defaults rather than an error.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults only.
		case err != nil:
			return Config{}, err
		case info.IsDir():
			return Config{}, errors.New("config path is a directory")
		default:
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, err
			}
		}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = listenFromEnv()
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = "text"
	}
	if cfg.Server.LogOutput == "" {
		cfg.Server.LogOutput = "stdout"
	}
	if cfg.Discovery.SearchIntervalS <= 0 {
		cfg.Discovery.SearchIntervalS = 30
	}
	if cfg.EmbeddedMQTT.Listen == "" {
		cfg.EmbeddedMQTT.Listen = "127.0.0.1:1883"
	}
}

// listenFromEnv honors BRIDGE_PORT, defaulting to the well-known port.
func listenFromEnv() string {
	if raw := os.Getenv("BRIDGE_PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 && port < 65536 {
			return fmt.Sprintf(":%d", port)
		}
	}
	return fmt.Sprintf(":%d", bridge.DefaultPort)
}

// DefaultConfigPath returns the default config location.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "upnpbridge", "upnpbridged.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "upnpbridge", "upnpbridged.toml"), nil
}
