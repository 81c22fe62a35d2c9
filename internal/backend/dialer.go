package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/saba-futai/mtrelay/pkg/dnsutil"
)

const DialTimeout = 5 * time.Second

// Dialer opens the backend connection for a validated target.
type Dialer struct {
	Table    *Table
	Resolver *dnsutil.Resolver // nil uses the shared cached resolver
	Timeout  time.Duration
}

func NewDialer(table *Table, resolver *dnsutil.Resolver, timeout time.Duration) *Dialer {
	if table == nil {
		table = DefaultTable()
	}
	if timeout <= 0 {
		timeout = DialTimeout
	}
	return &Dialer{Table: table, Resolver: resolver, Timeout: timeout}
}

// Dial connects to the backend for target. Name resolution and the TCP
// connect share one timeout; there is no retry.
func (d *Dialer) Dial(ctx context.Context, target int16) (net.Conn, error) {
	if d.Table == nil {
		return nil, errors.New("backend table is not configured")
	}
	addr, err := d.Table.Resolve(target)
	if err != nil {
		return nil, err
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DialTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var resolved string
	if d.Resolver != nil {
		resolved, err = d.Resolver.Resolve(ctx, addr)
	} else {
		resolved, err = dnsutil.ResolveWithCache(ctx, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve backend %s failed: %w", addr, err)
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", resolved)
	if err != nil {
		return nil, fmt.Errorf("dial backend %s failed: %w", addr, err)
	}
	return conn, nil
}
