package backend

import (
	"fmt"
	"net"
	"strconv"

	"github.com/saba-futai/mtrelay/internal/handshake"
)

const DefaultPort = 443

// ErrUnknownTarget is returned for identifiers outside 1..5.
var ErrUnknownTarget = handshake.ErrUnknownTarget

var defaultAddrs = [handshake.MaxTarget + 1]string{
	1: "149.154.175.50:443",
	2: "149.154.167.51:443",
	3: "149.154.175.100:443",
	4: "149.154.167.91:443",
	5: "149.154.171.5:443",
}

// Table maps a target identifier to its backend address. A Table is never
// modified after construction and is safe to share between sessions.
type Table struct {
	addrs [handshake.MaxTarget + 1]string
}

func DefaultTable() *Table {
	return &Table{addrs: defaultAddrs}
}

// Resolve looks up the backend for |target|. There is no fallback entry.
func (t *Table) Resolve(target int16) (string, error) {
	id := int(target)
	if id < 0 {
		id = -id
	}
	if id < 1 || id > handshake.MaxTarget || t.addrs[id] == "" {
		return "", fmt.Errorf("%w: %d", ErrUnknownTarget, target)
	}
	return t.addrs[id], nil
}

// WithOverrides returns a copy of t with some entries replaced.
// Addresses without a port get DefaultPort.
func (t *Table) WithOverrides(overrides map[int]string) (*Table, error) {
	next := &Table{addrs: t.addrs}
	for id, addr := range overrides {
		if id < 1 || id > handshake.MaxTarget {
			return nil, fmt.Errorf("%w: override for %d", ErrUnknownTarget, id)
		}
		if addr == "" {
			return nil, fmt.Errorf("empty backend address for %d", id)
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
		}
		next.addrs[id] = addr
	}
	return next, nil
}

// Entries lists the table in identifier order, e.g. for startup logging.
func (t *Table) Entries() []string {
	out := make([]string, 0, handshake.MaxTarget)
	for id := 1; id <= handshake.MaxTarget; id++ {
		out = append(out, fmt.Sprintf("%d=%s", id, t.addrs[id]))
	}
	return out
}
