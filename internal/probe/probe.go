// Package probe runs single reachability checks against device addresses.
//
// Probers never return errors: every failure is folded into a
// model.CheckResult with Succeeded=false and a human-readable RawOutput, which
// the health package turns into an offline status and a failure reason.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ampnm/core-go/internal/model"
)

type Target struct {
	DeviceID string
	Host     string
	Method   model.MonitorMethod
	Port     int
	Timeout  time.Duration
}

func (t Target) String() string {
	if t.Port > 0 {
		return fmt.Sprintf("%s:%d/%s", t.Host, t.Port, t.Method)
	}
	return fmt.Sprintf("%s/%s", t.Host, t.Method)
}

// Prober checks one target.
type Prober interface {
	Probe(ctx context.Context, t Target) model.CheckResult
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, t Target) model.CheckResult

func (f ProberFunc) Probe(ctx context.Context, t Target) model.CheckResult { return f(ctx, t) }

// Mux routes targets to a prober by monitor method.
type Mux struct {
	probers map[model.MonitorMethod]Prober
}

func NewMux() *Mux {
	return &Mux{probers: make(map[model.MonitorMethod]Prober)}
}

func (m *Mux) Handle(method model.MonitorMethod, p Prober) *Mux {
	if p != nil {
		m.probers[method] = p
	}
	return m
}

func (m *Mux) Probe(ctx context.Context, t Target) model.CheckResult {
	method := t.Method
	if method == "" {
		method = model.MonitorPing
	}
	p, ok := m.probers[method]
	if !ok {
		return failed(fmt.Sprintf("unsupported monitor method %q", method))
	}
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	res := p.Probe(ctx, t)
	if res.CheckedAt.IsZero() {
		res.CheckedAt = time.Now().UTC()
	}
	return res
}

func failed(raw string) model.CheckResult {
	return model.CheckResult{
		Succeeded:     false,
		PacketLossPct: 100,
		RawOutput:     raw,
		CheckedAt:     time.Now().UTC(),
	}
}

func succeeded(latency time.Duration, raw string) model.CheckResult {
	ms := float64(latency.Microseconds()) / 1000
	return model.CheckResult{
		Succeeded: true,
		LatencyMs: &ms,
		RawOutput: raw,
		CheckedAt: time.Now().UTC(),
	}
}

// timeoutOutput renders a context expiry the same way ping reports a lost echo.
func timeoutOutput(ctx context.Context, host string, err error) string {
	if ctx.Err() != nil || isTimeout(err) {
		return fmt.Sprintf("Request to %s timed out.", host)
	}
	if err == nil {
		return "No response"
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "i/o timeout") {
		return fmt.Sprintf("Request to %s timed out.", host)
	}
	return msg
}

type timeoutErr interface{ Timeout() bool }

func isTimeout(err error) bool {
	var te timeoutErr
	return errors.As(err, &te) && te.Timeout()
}
