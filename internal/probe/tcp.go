package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"ampnm/core-go/internal/model"
)

// TCPProber reports a device as reachable when a TCP handshake on its check
// port completes.
type TCPProber struct {
	Resolver *Resolver
	dialer   net.Dialer
}

func NewTCPProber(r *Resolver) *TCPProber {
	return &TCPProber{Resolver: r}
}

func (p *TCPProber) Probe(ctx context.Context, t Target) model.CheckResult {
	if t.Port <= 0 || t.Port > 65535 {
		return failed(fmt.Sprintf("invalid check port %d", t.Port))
	}
	addr, err := p.Resolver.Resolve(ctx, t.Host)
	if err != nil {
		return failed(resolveOutput(t.Host))
	}

	hostPort := net.JoinHostPort(addr.String(), strconv.Itoa(t.Port))
	start := time.Now()
	conn, err := p.dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return failed(fmt.Sprintf("connect to %s: %s", hostPort, timeoutOutput(ctx, hostPort, err)))
	}
	rtt := time.Since(start)
	_ = conn.Close()
	return succeeded(rtt, fmt.Sprintf("connected to %s time=%.3f ms", hostPort, float64(rtt.Microseconds())/1000))
}
