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
	"time"

	"github.com/saba-futai/mtrelay/internal/handshake"
)

// Dial 建立一条到中继的连接，并发送请求 cfg.Target 的探测包
//
// 参数:
//   - ctx: 用于控制连接建立的上下文（可以设置超时或取消）
//   - cfg: 必须包含 ServerAddress 与 Target
//
// 返回值:
//   - net.Conn: 已发送探测包的连接，后续字节原样转发到后端
//   - error: 任何阶段失败都会返回错误
//
// 注意：中继拒绝连接时不会回写任何数据，只会关闭连接，
// 因此 Dial 成功并不代表握手被接受。
func Dial(ctx context.Context, cfg *ProtocolConfig) (net.Conn, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.ServerAddress)
	if err != nil {
		return nil, fmt.Errorf("dial relay failed: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	if err := handshake.ClientHandshake(conn, cfg.Target); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Time{})
	return conn, nil
}
