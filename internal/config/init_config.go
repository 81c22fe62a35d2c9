package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 10000
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultDialTimeout      = 5 * time.Second
	DefaultLogLevel         = "info"

	secretSize = 16
	maxTarget  = 5
)

// NewViper returns a viper instance with defaults and environment bindings.
// PORT and SECRET are honoured as-is so the relay runs on PaaS hosts that inject them.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("host", DefaultHost)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("handshake_timeout", DefaultHandshakeTimeout)
	v.SetDefault("dial_timeout", DefaultDialTimeout)
	v.SetDefault("log_level", DefaultLogLevel)

	_ = v.BindEnv("host", "MTRELAY_HOST", "HOST")
	_ = v.BindEnv("port", "MTRELAY_PORT", "PORT")
	_ = v.BindEnv("secret", "MTRELAY_SECRET", "SECRET")
	_ = v.BindEnv("public_host", "MTRELAY_PUBLIC_HOST")
	_ = v.BindEnv("dns_server", "MTRELAY_DNS_SERVER")
	_ = v.BindEnv("log_level", "MTRELAY_LOG_LEVEL", "LOG_LEVEL")
	return v
}

func Load(path string) (*Config, error) {
	return LoadWith(NewViper(), path)
}

// LoadWith reads path (if set) into v, applies defaults and validates.
// A random secret is generated when none was configured.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	cfg.Secret = strings.ToLower(strings.TrimSpace(cfg.Secret))

	if cfg.Secret == "" {
		secret, err := GenerateSecret()
		if err != nil {
			return nil, err
		}
		cfg.Secret = secret
		cfg.SecretGenerated = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GenerateSecret returns 16 random bytes as 32 hex characters.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret failed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if _, err := c.SecretBytes(); err != nil {
		return err
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive")
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be positive")
	}
	if _, err := c.BackendOverrides(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s, must be one of: debug, info, warn, error", c.LogLevel)
	}
	return nil
}

// SecretBytes decodes the hex secret.
func (c *Config) SecretBytes() ([]byte, error) {
	raw, err := hex.DecodeString(c.Secret)
	if err != nil {
		return nil, fmt.Errorf("secret must be hex: %w", err)
	}
	if len(raw) != secretSize {
		return nil, fmt.Errorf("secret must be %d bytes (%d hex chars), got %d bytes", secretSize, secretSize*2, len(raw))
	}
	return raw, nil
}

// MaskedSecret keeps the first four characters for logs.
func (c *Config) MaskedSecret() string {
	if len(c.Secret) < 4 {
		return "****"
	}
	return c.Secret[:4] + "...****"
}

// BackendOverrides parses the backends section into target id -> address.
func (c *Config) BackendOverrides() (map[int]string, error) {
	if len(c.Backends) == 0 {
		return nil, nil
	}
	out := make(map[int]string, len(c.Backends))
	for k, addr := range c.Backends {
		id, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || id < 1 || id > maxTarget {
			return nil, fmt.Errorf("invalid backend id %q, must be 1..%d", k, maxTarget)
		}
		if strings.TrimSpace(addr) == "" {
			return nil, fmt.Errorf("backend %d has an empty address", id)
		}
		out[id] = strings.TrimSpace(addr)
	}
	return out, nil
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Save writes cfg as YAML, or as JSON when path ends in .json.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}

	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	// 密钥写入文件，权限收紧
	return os.WriteFile(path, data, 0o600)
}
