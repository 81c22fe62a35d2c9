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
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/saba-futai/mtrelay/internal/backend"
	"github.com/saba-futai/mtrelay/internal/handshake"
	"github.com/saba-futai/mtrelay/internal/session"
)

// HandshakeResult 是一次成功握手的结果
type HandshakeResult struct {
	// Target 客户端请求的后端编号 (可能为负，查表时取绝对值)
	Target int16

	// BackendPayload 需要首先写入后端连接的字节 (重新封装后的握手区域)
	BackendPayload []byte
}

// ServerHandshake 读取并验证刚 Accept 的连接发来的 117 字节探测包
// 输入: rawConn，握手失败时调用方应直接关闭连接，不要回写任何数据
// 输出: 请求的后端编号以及需要发往后端的首包
func ServerHandshake(rawConn net.Conn, cfg *ProtocolConfig) (*HandshakeResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	secret, _ := cfg.secretBytes()

	res, err := handshake.Accept(rawConn, cfg.handshakeTimeout())
	if err != nil {
		return nil, err
	}
	payload, err := handshake.Rewrap(res.Probe, secret)
	if err != nil {
		return nil, err
	}
	return &HandshakeResult{Target: res.Target, BackendPayload: payload}, nil
}

// Serve 在 l 上运行完整的中继，直到 ctx 结束或 l 被关闭
// 已建立的会话不受 ctx 取消影响，会自然结束
func Serve(ctx context.Context, l net.Listener, cfg *ProtocolConfig, logger *zap.Logger) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	secret, _ := cfg.secretBytes()

	table := backend.DefaultTable()
	if len(cfg.Backends) > 0 {
		var err error
		if table, err = table.WithOverrides(cfg.Backends); err != nil {
			return err
		}
	}

	handler, err := session.NewHandler(secret, backend.NewDialer(table, nil, cfg.dialTimeout()), cfg.handshakeTimeout(), logger)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	sessionCtx := context.WithoutCancel(ctx)
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go handler.Serve(sessionCtx, conn)
	}
}
