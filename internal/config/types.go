package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds every option the asset service reads at startup.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Assets     AssetsConfig     `koanf:"assets"`
	Versioning VersioningConfig `koanf:"versioning"`
	Remote     RemoteConfig     `koanf:"remote"`
	Preload    PreloadConfig    `koanf:"preload"`
}

// ServerConfig collects the HTTP listener and logging knobs.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AssetsConfig shapes the loader: where assets live, per-type cache budgets,
// which compression policies start enabled, and pipeline validators applied
// before any bytes are decoded.
type AssetsConfig struct {
	BasePath    string            `koanf:"basePath"`
	Watch       bool              `koanf:"watch"`
	CacheLimits map[string]int64  `koanf:"cacheLimits"`
	Compression []string          `koanf:"compression"`
	Validators  []ValidatorConfig `koanf:"validators"`
}

// ValidatorConfig declares one pipeline validation expression scoped to an
// asset type ("*" applies to every type).
type ValidatorConfig struct {
	Type       string `koanf:"type"`
	Expression string `koanf:"expression"`
}

// VersioningConfig selects where version records persist.
type VersioningConfig struct {
	Backend string       `koanf:"backend"`
	Valkey  ValkeyConfig `koanf:"valkey"`
}

// ValkeyConfig carries connection settings for the valkey backend.
type ValkeyConfig struct {
	Address   string          `koanf:"address"`
	Username  string          `koanf:"username"`
	Password  string          `koanf:"password"`
	DB        int             `koanf:"db"`
	KeyPrefix string          `koanf:"keyPrefix"`
	TLS       ValkeyTLSConfig `koanf:"tls"`
}

type ValkeyTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// RemoteConfig shapes CDN retrieval.
type RemoteConfig struct {
	CDNBase        string `koanf:"cdnBase"`
	CachingEnabled bool   `koanf:"cachingEnabled"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
	URLTemplate    string `koanf:"urlTemplate"`
}

// PreloadConfig points at an optional manifest loaded at startup.
type PreloadConfig struct {
	Manifest string `koanf:"manifest"`
}

// Validate enforces invariants that keep the runtime predictable before
// serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	for assetType, limit := range c.Assets.CacheLimits {
		switch assetType {
		case "image", "sound", "font":
		default:
			return fmt.Errorf("config: assets.cacheLimits unknown type: %s", assetType)
		}
		if limit < 0 {
			return fmt.Errorf("config: assets.cacheLimits.%s invalid: %d", assetType, limit)
		}
	}
	for _, kind := range c.Assets.Compression {
		switch strings.TrimSpace(strings.ToLower(kind)) {
		case "none", "texture", "audio", "general":
		default:
			return fmt.Errorf("config: assets.compression unsupported kind: %s", kind)
		}
	}
	for i, validator := range c.Assets.Validators {
		if strings.TrimSpace(validator.Expression) == "" {
			return fmt.Errorf("config: assets.validators[%d] has no expression", i)
		}
	}
	backend := strings.TrimSpace(strings.ToLower(c.Versioning.Backend))
	switch backend {
	case "", "memory":
	case "valkey":
		if strings.TrimSpace(c.Versioning.Valkey.Address) == "" {
			return errors.New("config: versioning.valkey.address required for valkey backend")
		}
	default:
		return fmt.Errorf("config: versioning.backend unsupported: %s", c.Versioning.Backend)
	}
	if c.Remote.TimeoutSeconds < 0 {
		return fmt.Errorf("config: remote.timeoutSeconds invalid: %d", c.Remote.TimeoutSeconds)
	}
	return nil
}

// DefaultConfig returns the baseline values the service starts from.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
		},
		Assets: AssetsConfig{
			BasePath: "./assets",
			Watch:    false,
		},
		Versioning: VersioningConfig{
			Backend: "memory",
		},
		Remote: RemoteConfig{
			TimeoutSeconds: 30,
		},
	}
}
