package config

import "time"

type Config struct {
	Host             string            `mapstructure:"host" json:"host" yaml:"host"`
	Port             int               `mapstructure:"port" json:"port" yaml:"port"`
	Secret           string            `mapstructure:"secret" json:"secret" yaml:"secret"` // 32 个十六进制字符
	PublicHost       string            `mapstructure:"public_host" json:"public_host,omitempty" yaml:"public_host,omitempty"`
	HandshakeTimeout time.Duration     `mapstructure:"handshake_timeout" json:"handshake_timeout" yaml:"handshake_timeout"`
	DialTimeout      time.Duration     `mapstructure:"dial_timeout" json:"dial_timeout" yaml:"dial_timeout"`
	Backends         map[string]string `mapstructure:"backends" json:"backends,omitempty" yaml:"backends,omitempty"` // 覆盖默认 DC 地址，键为 1..5
	DNSServer        string            `mapstructure:"dns_server" json:"dns_server,omitempty" yaml:"dns_server,omitempty"`
	LogLevel         string            `mapstructure:"log_level" json:"log_level" yaml:"log_level"`

	// SecretGenerated is set by Load when no secret was supplied.
	SecretGenerated bool `mapstructure:"-" json:"-" yaml:"-"`
}
