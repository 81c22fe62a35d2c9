/*
Copyright (C) 2025 by ふたい <contact me via issue>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.

In addition, no derivative work may use the name or imply association
with this application without prior consent.
*/
package apis

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/saba-futai/mtrelay/internal/config"
	"github.com/saba-futai/mtrelay/internal/handshake"
)

// ProtocolConfig 定义了中继所需的所有参数
type ProtocolConfig struct {
	// ServerAddress 中继地址 (仅客户端使用)，格式 "host:port"
	ServerAddress string

	// Secret 16 字节共享密钥的十六进制形式 (32 个字符)
	// 服务端用它重新封装发往后端的握手区域
	Secret string

	// Target 客户端请求的后端编号，绝对值必须在 1..5 (仅客户端使用)
	Target int16

	// Backends 覆盖默认后端地址 (仅服务端使用)，键为 1..5
	Backends map[int]string

	// HandshakeTimeoutSeconds 读取首个探测包的超时 (仅服务端使用)
	HandshakeTimeoutSeconds int

	// DialTimeoutSeconds 连接后端的超时 (仅服务端使用)
	DialTimeoutSeconds int
}

// Validate 验证配置的有效性
func (c *ProtocolConfig) Validate() error {
	if _, err := c.secretBytes(); err != nil {
		return err
	}
	if c.HandshakeTimeoutSeconds < 0 {
		return fmt.Errorf("HandshakeTimeoutSeconds must be >= 0, got %d", c.HandshakeTimeoutSeconds)
	}
	if c.DialTimeoutSeconds < 0 {
		return fmt.Errorf("DialTimeoutSeconds must be >= 0, got %d", c.DialTimeoutSeconds)
	}
	for id := range c.Backends {
		if id < 1 || id > handshake.MaxTarget {
			return fmt.Errorf("Backends key %d out of range 1..%d", id, handshake.MaxTarget)
		}
	}
	return nil
}

// ValidateClient ensures the config carries the required client-side fields.
func (c *ProtocolConfig) ValidateClient() error {
	if c.ServerAddress == "" {
		return fmt.Errorf("ServerAddress cannot be empty")
	}
	if !handshake.ValidTarget(c.Target) {
		return fmt.Errorf("Target must be within ±1..%d, got %d", handshake.MaxTarget, c.Target)
	}
	return nil
}

// DefaultConfig 返回默认配置，Secret 仍需设置
func DefaultConfig() *ProtocolConfig {
	return &ProtocolConfig{
		Target:                  2,
		HandshakeTimeoutSeconds: 5,
		DialTimeoutSeconds:      5,
	}
}

// ConfigFromShareLink builds a client config from a tg://proxy or t.me/proxy link.
func ConfigFromShareLink(link string) (*ProtocolConfig, error) {
	parsed, err := config.ParseShareLink(link)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	cfg.ServerAddress = parsed.Addr()
	cfg.Secret = parsed.Secret
	return cfg, nil
}

func (c *ProtocolConfig) secretBytes() ([]byte, error) {
	raw, err := hex.DecodeString(c.Secret)
	if err != nil {
		return nil, fmt.Errorf("Secret must be hex: %w", err)
	}
	if len(raw) != handshake.SecretSize {
		return nil, fmt.Errorf("Secret must be %d bytes, got %d", handshake.SecretSize, len(raw))
	}
	return raw, nil
}

func (c *ProtocolConfig) handshakeTimeout() time.Duration {
	if c.HandshakeTimeoutSeconds == 0 {
		return handshake.HandshakeTimeout
	}
	return time.Duration(c.HandshakeTimeoutSeconds) * time.Second
}

func (c *ProtocolConfig) dialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}
