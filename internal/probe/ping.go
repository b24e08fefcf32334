package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ampnm/core-go/internal/model"
)

// ExecPinger shells out to the system ping binary and keeps its output.
type ExecPinger struct {
	Path  string
	Count int

	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewExecPinger(count int) *ExecPinger {
	if count <= 0 {
		count = 1
	}
	path, err := exec.LookPath("ping")
	if err != nil {
		path = ""
	}
	return &ExecPinger{Path: path, Count: count, run: runCombined}
}

func runCombined(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

func (p *ExecPinger) Probe(ctx context.Context, t Target) model.CheckResult {
	if p.Path == "" {
		return failed("ping: command not found")
	}
	wait := 1
	if dl, ok := ctx.Deadline(); ok {
		if secs := int(time.Until(dl).Seconds()); secs > 1 {
			wait = secs
		}
	}

	args := []string{"-c", strconv.Itoa(p.Count), "-W", strconv.Itoa(wait), t.Host}
	out, err := p.run(ctx, p.Path, args...)
	raw := strings.TrimSpace(string(out))
	if ctx.Err() != nil && raw == "" {
		raw = fmt.Sprintf("Request to %s timed out.", t.Host)
	}

	stats := ParsePingOutput(raw)
	res := model.CheckResult{
		RawOutput: raw,
		CheckedAt: time.Now().UTC(),
	}
	res.Succeeded = err == nil && stats.Received > 0
	if !stats.HasLoss {
		if res.Succeeded {
			stats.LossPct = 0
		} else {
			stats.LossPct = 100
		}
	}
	res.PacketLossPct = stats.LossPct
	if res.Succeeded && stats.HasLatency {
		v := stats.AvgMs
		res.LatencyMs = &v
	}
	return res
}

var (
	rePingTime    = regexp.MustCompile(`time[=<]\s*([0-9]+(?:\.[0-9]+)?)\s*ms`)
	rePingLoss    = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%\s*(?:packet\s+)?loss`)
	rePingRTT     = regexp.MustCompile(`(?:rtt|round-trip)[^=]*=\s*[0-9.]+/([0-9.]+)/`)
	rePingWinAvg  = regexp.MustCompile(`Average\s*=\s*([0-9]+)\s*ms`)
	rePingRecv    = regexp.MustCompile(`([0-9]+)\s+(?:packets\s+)?received`)
	rePingWinRecv = regexp.MustCompile(`Received\s*=\s*([0-9]+)`)
)

// PingStats holds what could be read from ping output.
type PingStats struct {
	AvgMs      float64
	HasLatency bool
	LossPct    float64
	HasLoss    bool
	Received   int
}

// ParsePingOutput understands the Linux/BSD summary and the Windows summary.
// Per-reply "time=" values are averaged when no summary line is present.
func ParsePingOutput(raw string) PingStats {
	var st PingStats

	if m := rePingRTT.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			st.AvgMs, st.HasLatency = v, true
		}
	} else if m := rePingWinAvg.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			st.AvgMs, st.HasLatency = v, true
		}
	} else if all := rePingTime.FindAllStringSubmatch(raw, -1); len(all) > 0 {
		var sum float64
		var n int
		for _, m := range all {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				sum += v
				n++
			}
		}
		if n > 0 {
			st.AvgMs, st.HasLatency = sum/float64(n), true
		}
	}

	if m := rePingLoss.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			st.LossPct, st.HasLoss = v, true
		}
	}

	if m := rePingRecv.FindStringSubmatch(raw); m != nil {
		st.Received, _ = strconv.Atoi(m[1])
	} else if m := rePingWinRecv.FindStringSubmatch(raw); m != nil {
		st.Received, _ = strconv.Atoi(m[1])
	} else if st.HasLatency {
		st.Received = 1
	}
	return st
}
