// pkg/dnsutil/resolver.go
package dnsutil

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"
)

const (
	defaultTTL       = 10 * time.Minute
	defaultCacheSize = 256
	dnsQueryTimeout  = 3 * time.Second
)

// lookupIPFunc abstracts DNS lookups for easier testing.
type lookupIPFunc func(ctx context.Context, network, host string) ([]net.IP, error)

type cacheEntry struct {
	ip        net.IP
	expiresAt time.Time
}

// Resolver turns host:port into ip:port. Expired entries stay in the LRU so a
// failed refresh can still fall back to the last known address.
type Resolver struct {
	cache    *lru.Cache[string, cacheEntry]
	ttl      time.Duration
	lookupFn lookupIPFunc
}

func newResolver(ttl time.Duration, fn lookupIPFunc) *Resolver {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if fn == nil {
		fn = func(ctx context.Context, network, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, network, host)
		}
	}
	cache, err := lru.New[string, cacheEntry](defaultCacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Resolver{
		cache:    cache,
		ttl:      ttl,
		lookupFn: fn,
	}
}

// NewResolver builds a resolver that queries server (host or host:port) directly.
// An empty server uses the system resolver.
func NewResolver(ttl time.Duration, server string) (*Resolver, error) {
	if server == "" {
		return newResolver(ttl, nil), nil
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		return nil, fmt.Errorf("invalid dns server %q: %w", server, err)
	}
	return newResolver(ttl, serverLookup(server)), nil
}

var defaultResolver = newResolver(defaultTTL, nil)

// ResolveWithCache resolves addr (host:port) into ip:port using
// concurrent DNS lookups (IPv4/IPv6) and optimistic caching.
//
// Behavior:
//   - If host is already an IP, returns addr directly.
//   - If a fresh cache entry exists, returns it without DNS queries.
//   - If cache is stale and DNS fails, falls back to stale IP (optimistic cache).
//   - DNS lookups for IPv4/IPv6 are performed concurrently.
func ResolveWithCache(ctx context.Context, addr string) (string, error) {
	return defaultResolver.Resolve(ctx, addr)
}

// Resolve performs the actual resolution logic on a resolver instance.
func (r *Resolver) Resolve(ctx context.Context, addr string) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("empty address")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}

	if ip := net.ParseIP(host); ip != nil {
		return addr, nil
	}

	now := time.Now()
	entry, cached := r.cache.Get(host)
	if cached && now.Before(entry.expiresAt) {
		return net.JoinHostPort(entry.ip.String(), port), nil
	}

	ips, err := r.lookupConcurrently(ctx, host)
	if err != nil {
		if cached {
			return net.JoinHostPort(entry.ip.String(), port), nil
		}
		return "", fmt.Errorf("dns lookup failed for %s: %w", host, err)
	}

	selected := firstNonNilIP(ips)
	if selected == nil {
		if cached {
			return net.JoinHostPort(entry.ip.String(), port), nil
		}
		return "", fmt.Errorf("no usable ip found for host %s", host)
	}

	r.cache.Add(host, cacheEntry{
		ip:        append(net.IP(nil), selected...),
		expiresAt: now.Add(r.ttl),
	})
	return net.JoinHostPort(selected.String(), port), nil
}

func (r *Resolver) lookupConcurrently(ctx context.Context, host string) ([]net.IP, error) {
	type result struct {
		ips []net.IP
		err error
	}

	networks := []string{"ip4", "ip6"}
	ch := make(chan result, len(networks))

	var wg sync.WaitGroup
	for _, network := range networks {
		network := network
		wg.Add(1)
		go func() {
			defer wg.Done()
			ips, err := r.lookupFn(ctx, network, host)
			ch <- result{ips: ips, err: err}
		}()
	}
	wg.Wait()
	close(ch)

	var allIPs []net.IP
	var firstErr error
	for res := range ch {
		if res.err == nil && len(res.ips) > 0 {
			allIPs = append(allIPs, res.ips...)
		} else if res.err != nil && firstErr == nil {
			firstErr = res.err
		}
	}

	if len(allIPs) == 0 {
		if firstErr == nil {
			firstErr = fmt.Errorf("no ip records found")
		}
		return nil, firstErr
	}
	return allIPs, nil
}

// serverLookup queries a single DNS server over UDP.
func serverLookup(server string) lookupIPFunc {
	client := &dns.Client{Timeout: dnsQueryTimeout}
	return func(ctx context.Context, network, host string) ([]net.IP, error) {
		qtype := dns.TypeA
		if network == "ip6" {
			qtype = dns.TypeAAAA
		}

		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		resp, _, err := client.ExchangeContext(ctx, msg, server)
		if err != nil {
			return nil, err
		}
		if resp.Rcode != dns.RcodeSuccess {
			return nil, fmt.Errorf("query %s %s: %s", host, dns.TypeToString[qtype], dns.RcodeToString[resp.Rcode])
		}

		var ips []net.IP
		for _, rr := range resp.Answer {
			switch v := rr.(type) {
			case *dns.A:
				ips = append(ips, v.A)
			case *dns.AAAA:
				ips = append(ips, v.AAAA)
			}
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("no %s records for %s", dns.TypeToString[qtype], host)
		}
		return ips, nil
	}
}

func firstNonNilIP(ips []net.IP) net.IP {
	for _, ip := range ips {
		if ip != nil {
			return ip
		}
	}
	return nil
}
