package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"ampnm/core-go/internal/model"
)

const (
	protocolICMP     = 1
	protocolIPv6ICMP = 58
)

// ICMPPinger sends a single echo request per probe. With Privileged unset it
// uses unprivileged datagram sockets (Linux net.ipv4.ping_group_range).
type ICMPPinger struct {
	Privileged bool
	Resolver   *Resolver

	id  int
	seq atomic.Uint32
}

func NewICMPPinger(privileged bool, r *Resolver) *ICMPPinger {
	return &ICMPPinger{Privileged: privileged, Resolver: r, id: os.Getpid() & 0xffff}
}

func (p *ICMPPinger) Probe(ctx context.Context, t Target) model.CheckResult {
	addr, err := p.Resolver.Resolve(ctx, t.Host)
	if err != nil {
		return failed(resolveOutput(t.Host))
	}

	network, listen, proto := "udp4", "0.0.0.0", protocolICMP
	var reqType icmp.Type = ipv4.ICMPTypeEcho
	if addr.Is6() {
		network, listen, proto = "udp6", "::", protocolIPv6ICMP
		reqType = ipv6.ICMPTypeEchoRequest
	}
	if p.Privileged {
		if addr.Is6() {
			network = "ip6:ipv6-icmp"
		} else {
			network = "ip4:icmp"
		}
	}

	conn, err := icmp.ListenPacket(network, listen)
	if err != nil {
		return failed(fmt.Sprintf("icmp listen: %v", err))
	}
	defer conn.Close()

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: reqType,
		Code: 0,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: []byte("ampnm")},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return failed(fmt.Sprintf("icmp marshal: %v", err))
	}

	var dst net.Addr = &net.UDPAddr{IP: addr.AsSlice()}
	if p.Privileged {
		dst = &net.IPAddr{IP: addr.AsSlice()}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Second)
	}
	_ = conn.SetDeadline(deadline)

	start := time.Now()
	if _, err := conn.WriteTo(wire, dst); err != nil {
		return failed(fmt.Sprintf("From %s icmp_seq=%d Destination Host Unreachable (%v)", addr, seq, err))
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return failed(timeoutOutput(ctx, addr.String(), err))
		}
		reply, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil {
			continue
		}
		switch reply.Type {
		case ipv4.ICMPTypeEchoReply, ipv6.ICMPTypeEchoReply:
			echo, ok := reply.Body.(*icmp.Echo)
			if !ok || echo.Seq != seq {
				continue
			}
			// Unprivileged sockets rewrite the identifier, so only the sequence is matched there.
			if p.Privileged && echo.ID != p.id {
				continue
			}
			rtt := time.Since(start)
			return succeeded(rtt, fmt.Sprintf("reply from %s: icmp_seq=%d time=%.3f ms", addr, seq, float64(rtt.Microseconds())/1000))
		case ipv4.ICMPTypeDestinationUnreachable, ipv6.ICMPTypeDestinationUnreachable:
			return failed(fmt.Sprintf("From %s icmp_seq=%d Destination Host Unreachable", addr, seq))
		}
		if ctx.Err() != nil {
			return failed(timeoutOutput(ctx, addr.String(), ctx.Err()))
		}
	}
}
