package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// ErrNotResolved is returned when a hostname has no A/AAAA records.
var ErrNotResolved = errors.New("could not resolve host")

// Resolver turns device hosts into addresses. Literal IPs pass through.
type Resolver struct {
	Servers []string
	Timeout time.Duration

	client *dns.Client
}

// NewResolver uses servers when given, else the nameservers in resolvConf.
// A resolver without servers falls back to the system resolver.
func NewResolver(servers []string, resolvConf string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	var out []string
	for _, s := range servers {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		out = append(out, s)
	}
	if len(out) == 0 && strings.TrimSpace(resolvConf) != "" {
		if cc, err := dns.ClientConfigFromFile(resolvConf); err == nil {
			for _, s := range cc.Servers {
				out = append(out, net.JoinHostPort(s, cc.Port))
			}
		}
	}
	return &Resolver{
		Servers: out,
		Timeout: timeout,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// Resolve returns the first address for host.
func (r *Resolver) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	host = strings.TrimSpace(host)
	if a, err := netip.ParseAddr(host); err == nil {
		return a, nil
	}
	if host == "" {
		return netip.Addr{}, fmt.Errorf("%w: empty host", ErrNotResolved)
	}
	if r == nil || len(r.Servers) == 0 {
		addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		if err != nil || len(addrs) == 0 {
			return netip.Addr{}, fmt.Errorf("%w: %s", ErrNotResolved, host)
		}
		return addrs[0].Unmap(), nil
	}

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		if a, ok := r.query(ctx, host, qtype); ok {
			return a, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("%w: %s", ErrNotResolved, host)
}

func (r *Resolver) query(ctx context.Context, host string, qtype uint16) (netip.Addr, bool) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	for _, server := range r.Servers {
		if ctx.Err() != nil {
			return netip.Addr{}, false
		}
		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil || resp == nil || resp.Rcode != dns.RcodeSuccess {
			continue
		}
		for _, rr := range resp.Answer {
			switch v := rr.(type) {
			case *dns.A:
				if a, ok := netip.AddrFromSlice(v.A.To4()); ok {
					return a, true
				}
			case *dns.AAAA:
				if a, ok := netip.AddrFromSlice(v.AAAA); ok {
					return a, true
				}
			}
		}
	}
	return netip.Addr{}, false
}

// resolveOutput must contain a phrase recognised by health.FailureReason.
func resolveOutput(host string) string {
	return fmt.Sprintf("Could not resolve host: %s", host)
}
