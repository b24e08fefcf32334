package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ampnm/core-go/internal/health"
	"ampnm/core-go/internal/model"
)

func TestParsePingOutput(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		avg      float64
		latency  bool
		loss     float64
		received int
	}{
		{
			name: "linux_ok",
			raw: "PING 10.0.0.1 (10.0.0.1) 56(84) bytes of data.\n" +
				"64 bytes from 10.0.0.1: icmp_seq=1 ttl=64 time=0.412 ms\n\n" +
				"--- 10.0.0.1 ping statistics ---\n" +
				"1 packets transmitted, 1 received, 0% packet loss, time 0ms\n" +
				"rtt min/avg/max/mdev = 0.412/0.412/0.412/0.000 ms",
			avg: 0.412, latency: true, loss: 0, received: 1,
		},
		{
			name: "linux_timeout",
			raw: "PING 10.0.0.9 (10.0.0.9) 56(84) bytes of data.\n\n" +
				"--- 10.0.0.9 ping statistics ---\n" +
				"1 packets transmitted, 0 received, 100% packet loss, time 0ms",
			loss: 100, received: 0,
		},
		{
			name: "bsd_round_trip",
			raw: "3 packets transmitted, 3 packets received, 0.0% packet loss\n" +
				"round-trip min/avg/max/stddev = 10.100/12.500/14.900/1.900 ms",
			avg: 12.5, latency: true, loss: 0, received: 3,
		},
		{
			name: "windows",
			raw: "Reply from 10.0.0.1: bytes=32 time=3ms TTL=64\r\n" +
				"    Packets: Sent = 4, Received = 3, Lost = 1 (25% loss),\r\n" +
				"    Minimum = 2ms, Maximum = 5ms, Average = 3ms",
			avg: 3, latency: true, loss: 25, received: 3,
		},
		{
			name: "replies_without_summary",
			raw:  "64 bytes from 10.0.0.1: time=10 ms\n64 bytes from 10.0.0.1: time=20 ms",
			avg:  15, latency: true, received: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := ParsePingOutput(tt.raw)
			assert.Equal(t, tt.latency, st.HasLatency)
			if tt.latency {
				assert.InDelta(t, tt.avg, st.AvgMs, 0.0001)
			}
			assert.InDelta(t, tt.loss, st.LossPct, 0.0001)
			assert.Equal(t, tt.received, st.Received)
		})
	}
}

func TestExecPinger_Success(t *testing.T) {
	var gotArgs []string
	p := &ExecPinger{Path: "/bin/ping", Count: 1, run: func(_ context.Context, _ string, args ...string) ([]byte, error) {
		gotArgs = args
		return []byte("64 bytes from 10.0.0.1: icmp_seq=1 ttl=64 time=12.0 ms\n1 packets transmitted, 1 received, 0% packet loss"), nil
	}}

	res := p.Probe(context.Background(), Target{Host: "10.0.0.1", Method: model.MonitorPing})
	require.True(t, res.Succeeded)
	require.NotNil(t, res.LatencyMs)
	assert.InDelta(t, 12.0, *res.LatencyMs, 0.001)
	assert.Equal(t, 0.0, res.PacketLossPct)
	assert.Equal(t, []string{"-c", "1", "-W", "1", "10.0.0.1"}, gotArgs)
}

func TestExecPinger_Failure(t *testing.T) {
	p := &ExecPinger{Path: "/bin/ping", Count: 1, run: func(context.Context, string, ...string) ([]byte, error) {
		return []byte("From 10.0.0.1 icmp_seq=1 Destination Host Unreachable\n1 packets transmitted, 0 received, 100% packet loss"), errors.New("exit status 1")
	}}

	res := p.Probe(context.Background(), Target{Host: "10.0.0.2"})
	assert.False(t, res.Succeeded)
	assert.Nil(t, res.LatencyMs)
	assert.Equal(t, 100.0, res.PacketLossPct)
	assert.Equal(t, "From 10.0.0.1 icmp_seq=1 Destination Host Unreachable", health.FailureReason(res.RawOutput))
}

func TestExecPinger_MissingBinary(t *testing.T) {
	p := &ExecPinger{}
	res := p.Probe(context.Background(), Target{Host: "10.0.0.2"})
	assert.False(t, res.Succeeded)
	assert.Equal(t, 100.0, res.PacketLossPct)
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	p := NewTCPProber(NewResolver(nil, "", time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res := p.Probe(ctx, Target{Host: "127.0.0.1", Port: port, Method: model.MonitorPort})
	require.True(t, res.Succeeded, res.RawOutput)
	require.NotNil(t, res.LatencyMs)
	assert.Equal(t, 0.0, res.PacketLossPct)

	require.NoError(t, ln.Close())
	res = p.Probe(ctx, Target{Host: "127.0.0.1", Port: port, Method: model.MonitorPort})
	assert.False(t, res.Succeeded)
	assert.Equal(t, 100.0, res.PacketLossPct)
	assert.Contains(t, res.RawOutput, "127.0.0.1:"+strconv.Itoa(port))
}

func TestTCPProber_InvalidPort(t *testing.T) {
	res := NewTCPProber(nil).Probe(context.Background(), Target{Host: "127.0.0.1"})
	assert.False(t, res.Succeeded)
}

func TestResolver_LiteralAddress(t *testing.T) {
	r := NewResolver([]string{"192.0.2.53"}, "", time.Second)
	assert.Equal(t, []string{"192.0.2.53:53"}, r.Servers)

	a, err := r.Resolve(context.Background(), "10.1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", a.String())

	_, err = r.Resolve(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrNotResolved)
}

func TestMux_RoutesByMethod(t *testing.T) {
	var seen []model.MonitorMethod
	record := ProberFunc(func(_ context.Context, tg Target) model.CheckResult {
		seen = append(seen, tg.Method)
		return model.CheckResult{Succeeded: true}
	})
	m := NewMux().Handle(model.MonitorPing, record).Handle(model.MonitorPort, record)

	res := m.Probe(context.Background(), Target{Host: "h"})
	assert.True(t, res.Succeeded)
	assert.False(t, res.CheckedAt.IsZero())

	m.Probe(context.Background(), Target{Host: "h", Method: model.MonitorPort, Port: 22})
	assert.Equal(t, []model.MonitorMethod{"", model.MonitorPort}, seen)

	res = m.Probe(context.Background(), Target{Host: "h", Method: model.MonitorSNMP})
	assert.False(t, res.Succeeded)
	assert.Contains(t, res.RawOutput, "unsupported")
}

func TestMux_AppliesTimeout(t *testing.T) {
	m := NewMux().Handle(model.MonitorPing, ProberFunc(func(ctx context.Context, _ Target) model.CheckResult {
		<-ctx.Done()
		return failed(timeoutOutput(ctx, "10.0.0.1", ctx.Err()))
	}))

	start := time.Now()
	res := m.Probe(context.Background(), Target{Host: "10.0.0.1", Timeout: 20 * time.Millisecond})
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, res.Succeeded)
	assert.Equal(t, "Request to 10.0.0.1 timed out.", health.FailureReason(res.RawOutput))
}
