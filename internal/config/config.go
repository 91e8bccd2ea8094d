// Package config implements the Config + Logger component (C10): layered
// YAML-plus-environment configuration and a structured JSON logger.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"
)

// TLS holds the optional TLS termination settings. TLS termination itself
// is an external collaborator; this only carries the configured paths.
type TLS struct {
	Enabled bool   `yaml:"enabled"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

// Retention holds the (currently unenforced) retention policy fields.
type Retention struct {
	Enabled    bool `yaml:"enabled"`
	KeepLastN  int  `yaml:"keepLastN"`
	MaxAgeDays int  `yaml:"maxAgeDays"`
}

// Config is the fully layered (defaults, then file, then environment)
// runtime configuration.
type Config struct {
	DataRoot      string    `yaml:"dataRoot"`
	LogPath       string    `yaml:"logPath"`
	Port          int       `yaml:"port"`
	BindAddress   string    `yaml:"bindAddress"`
	TLS           TLS       `yaml:"tls"`
	Retention     Retention `yaml:"retention"`
	MaxUploadSize int64     `yaml:"maxUploadSize"`
	AllowedRepos  []string  `yaml:"allowedRepos"`
	CORSOrigins   []string  `yaml:"corsOrigins"`
	AdminKey      string    `yaml:"adminKey"`
	APIKeysPath   string    `yaml:"apiKeysPath"`

	OIDCAudience       string              `yaml:"oidcAudience"`
	OIDCAllowedOwners  []string            `yaml:"oidcAllowedOwners"`
	OIDCRequirePrivate bool                `yaml:"oidcRequirePrivate"`
	OIDCOverrides      map[string][]string `yaml:"oidcOverrides"`

	// AuthOnDownload gates /repo/... downloads behind the read role. Some
	// deployments front the service with a proxy that handles this, so it
	// is a config toggle rather than a hardcoded requirement.
	AuthOnDownload bool `yaml:"authOnDownload"`
}

// Defaults returns the built-in baseline configuration, the first and
// lowest-priority layer.
func Defaults() Config {
	return Config{
		DataRoot:       "/var/lib/pository/data",
		LogPath:        "/var/log/pository/access.log",
		Port:           8080,
		BindAddress:    "0.0.0.0",
		MaxUploadSize:  512 * 1024 * 1024,
		APIKeysPath:    "/etc/pository/keys.json",
		AuthOnDownload: true,
	}
}

// Load builds the layered configuration: defaults, then the YAML file at
// path (if non-empty and present), then environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else {
			dec := yaml.NewDecoder(strings.NewReader(string(b)))
			dec.KnownFields(true)
			if err := dec.Decode(&cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POSITORY_DATA_ROOT"); v != "" {
		cfg.DataRoot = v
	}
	if v := os.Getenv("POSITORY_LOG_PATH"); v != "" {
		cfg.LogPath = v
	}
	if v := os.Getenv("POSITORY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("POSITORY_BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("POSITORY_ADMIN_KEY"); v != "" {
		cfg.AdminKey = v
	}
	if v := os.Getenv("POSITORY_API_KEYS_PATH"); v != "" {
		cfg.APIKeysPath = v
	}
	if v := os.Getenv("POSITORY_TLS_CERT"); v != "" {
		cfg.TLS.Cert = v
		cfg.TLS.Enabled = true
	}
	if v := os.Getenv("POSITORY_TLS_KEY"); v != "" {
		cfg.TLS.Key = v
	}
	if v := os.Getenv("POSITORY_MAX_UPLOAD_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadSize = n
		}
	}
	if v := os.Getenv("POSITORY_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = strings.Split(v, ",")
	}
}

// EnsureDirectories creates the directories this configuration needs:
// data root, the log file's containing directory, and the key store's
// containing directory.
func (c Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataRoot, dirOf(c.LogPath), dirOf(c.APIKeysPath)} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}
