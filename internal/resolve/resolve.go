// Package resolve turns a command-line target into an address for the probe
// engine, and turns discovered hop addresses back into hostnames for
// display. It prefers an explicitly configured nameserver queried directly
// via github.com/miekg/dns, and falls back to the system resolver
// otherwise — the same fallback shape the teacher uses in
// internal/trace/tracer.go and internal/enrich/rdns.go.
package resolve

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hopwatch/hopwatch/internal/logging"
	"github.com/miekg/dns"
)

var log = logging.New(logging.NSResolve)

// Resolver resolves targets and reverse-resolves hop addresses.
type Resolver struct {
	// Nameserver, if set, is queried directly instead of the OS resolver.
	// May be a bare IP (port 53 assumed) or host:port.
	Nameserver string
	Timeout    time.Duration
}

// New returns a Resolver. An empty nameserver means "use the OS resolver".
func New(nameserver string) *Resolver {
	return &Resolver{Nameserver: nameserver, Timeout: 2 * time.Second}
}

// ResolveTarget resolves target to an address, preferring an already-valid
// IP literal — an IP address in dotted form resolves trivially. It matches
// the mtrengine.SessionConfig.Resolve
// function signature so it can be wired in directly.
func (r *Resolver) ResolveTarget(ctx context.Context, target string) (net.IP, error) {
	if ip := net.ParseIP(target); ip != nil {
		return ip, nil
	}

	if r.Nameserver != "" {
		if ip, err := r.resolveViaNameserver(target); err == nil {
			return ip, nil
		} else {
			log.Warn("nameserver lookup for %s failed, falling back to system resolver: %v", target, err)
		}
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, target)
	if err != nil || len(addrs) == 0 {
		return nil, fmt.Errorf("resolve: %s: %w", target, errUnresolvable)
	}
	return addrs[0].IP, nil
}

func (r *Resolver) resolveViaNameserver(target string) (net.IP, error) {
	server := r.Nameserver
	if net.ParseIP(server) != nil {
		server = net.JoinHostPort(server, "53")
	}

	c := &dns.Client{Net: "udp", Timeout: r.timeout()}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(target), dns.TypeA)

	resp, _, err := c.Exchange(m, server)
	if err != nil {
		return nil, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("nameserver returned %s", dns.RcodeToString[resp.Rcode])
	}
	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			return a.A, nil
		}
	}
	return nil, fmt.Errorf("no A record for %s", target)
}

// ReverseLookup resolves addr back to a hostname, or "" if none is found.
// DNS failures are not propagated as errors — a hop simply displays numeric
// when reverse DNS has nothing to offer, matching the teacher's rdns.go
// "return empty string, not error" policy.
func (r *Resolver) ReverseLookup(ctx context.Context, addr net.IP) string {
	if addr == nil {
		return ""
	}

	if r.Nameserver != "" {
		if name, err := r.reverseViaNameserver(addr); err == nil && name != "" {
			return name
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(lookupCtx, addr.String())
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

func (r *Resolver) reverseViaNameserver(addr net.IP) (string, error) {
	server := r.Nameserver
	if net.ParseIP(server) != nil {
		server = net.JoinHostPort(server, "53")
	}

	rev, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return "", err
	}

	c := &dns.Client{Net: "udp", Timeout: r.timeout()}
	m := new(dns.Msg)
	m.SetQuestion(rev, dns.TypePTR)

	resp, _, err := c.Exchange(m, server)
	if err != nil {
		return "", err
	}
	for _, ans := range resp.Answer {
		if ptr, ok := ans.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", nil
}

func (r *Resolver) timeout() time.Duration {
	if r.Timeout <= 0 {
		return 2 * time.Second
	}
	return r.Timeout
}

var errUnresolvable = fmt.Errorf("no address records found")
