package dnsutil

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func TestResolve_IPLiteralBypassDNS(t *testing.T) {
	r := newResolver(1*time.Minute, func(ctx context.Context, network, host string) ([]net.IP, error) {
		t.Fatalf("DNS should not be called for IP literal")
		return nil, nil
	})

	addr, err := r.Resolve(context.Background(), "149.154.167.51:443")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "149.154.167.51:443" {
		t.Fatalf("unexpected addr: %s", addr)
	}
}

func TestResolve_CacheHitAvoidsDNS(t *testing.T) {
	var calls atomic.Int32
	lookup := func(ctx context.Context, network, host string) ([]net.IP, error) {
		calls.Add(1)
		if network == "ip6" {
			return nil, fmt.Errorf("no ipv6")
		}
		return []net.IP{net.ParseIP("10.0.0.2")}, nil
	}

	r := newResolver(time.Minute, lookup)
	ctx := context.Background()

	addr1, err := r.Resolve(ctx, "dc2.example:443")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if addr1 != "10.0.0.2:443" {
		t.Fatalf("unexpected addr1: %s", addr1)
	}
	first := calls.Load()

	addr2, err := r.Resolve(ctx, "dc2.example:443")
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if addr2 != addr1 {
		t.Fatalf("cache mismatch: %s vs %s", addr1, addr2)
	}
	if calls.Load() != first {
		t.Fatalf("fresh cache entry triggered %d extra lookups", calls.Load()-first)
	}
}

func TestResolve_OptimisticCacheOnFailure(t *testing.T) {
	ip := net.ParseIP("10.0.0.3")

	var mu sync.Mutex
	fail := false

	lookup := func(ctx context.Context, network, host string) ([]net.IP, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, fmt.Errorf("dns failure")
		}
		if network == "ip4" {
			return []net.IP{ip}, nil
		}
		return nil, fmt.Errorf("no ipv6")
	}

	r := newResolver(20*time.Millisecond, lookup)
	ctx := context.Background()

	addr1, err := r.Resolve(ctx, "dc3.example:443")
	if err != nil {
		t.Fatalf("initial resolve failed: %v", err)
	}
	expected := "10.0.0.3:443"
	if addr1 != expected {
		t.Fatalf("unexpected addr1: %s", addr1)
	}

	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	fail = true
	mu.Unlock()

	addr2, err := r.Resolve(ctx, "dc3.example:443")
	if err != nil {
		t.Fatalf("resolve with failing DNS should still succeed via optimistic cache: %v", err)
	}
	if addr2 != expected {
		t.Fatalf("unexpected addr2 with optimistic cache: %s", addr2)
	}
}

func TestResolve_FailureWithoutCache(t *testing.T) {
	r := newResolver(time.Minute, func(ctx context.Context, network, host string) ([]net.IP, error) {
		return nil, fmt.Errorf("nxdomain")
	})
	if _, err := r.Resolve(context.Background(), "missing.example:443"); err == nil {
		t.Fatalf("expected error when DNS fails and nothing is cached")
	}
}

func TestResolve_InvalidAddress(t *testing.T) {
	r := newResolver(1*time.Minute, nil)
	if _, err := r.Resolve(context.Background(), "bad-address"); err == nil {
		t.Fatalf("expected error for invalid address")
	}
	if _, err := r.Resolve(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

func startDNSServer(t *testing.T, records map[string]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		q := req.Question[0]
		if ip, ok := records[q.Name]; ok && q.Qtype == dns.TypeA {
			rr, err := dns.NewRR(fmt.Sprintf("%s 60 IN A %s", q.Name, ip))
			if err == nil {
				resp.Answer = append(resp.Answer, rr)
			}
		} else if !ok {
			resp.Rcode = dns.RcodeNameError
		}
		w.WriteMsg(resp)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go srv.ActivateAndServe()
	<-started
	t.Cleanup(func() { srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestNewResolver_QueriesConfiguredServer(t *testing.T) {
	server := startDNSServer(t, map[string]string{"dc1.staging.": "10.9.8.7"})

	r, err := NewResolver(time.Minute, server)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr, err := r.Resolve(ctx, "dc1.staging:443")
	if err != nil {
		t.Fatalf("resolve via dns server failed: %v", err)
	}
	if addr != "10.9.8.7:443" {
		t.Fatalf("unexpected addr: %s", addr)
	}

	if _, err := r.Resolve(ctx, "unknown.staging:443"); err == nil {
		t.Fatalf("expected NXDOMAIN to surface as an error")
	}
}

func TestNewResolver_DefaultsPort53(t *testing.T) {
	r, err := NewResolver(0, "127.0.0.1")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if r.ttl != defaultTTL {
		t.Fatalf("ttl default not applied: %v", r.ttl)
	}
}
