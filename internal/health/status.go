// Package health maps raw probe results to device status tiers and aggregates
// recorded status transitions into time buckets for the status-log chart.
package health

import (
	"bufio"
	"strings"

	"ampnm/core-go/internal/model"
)

const defaultFailureReason = "No response"

var failurePhrases = []string{
	"could not resolve host",
	"unknown host",
	"name or service not known",
	"unreachable",
	"timed out",
	"connection refused",
	"no route to host",
	"100% packet loss",
}

// Evaluate derives a status from a single check result.
func Evaluate(res model.CheckResult, t model.Thresholds) model.Status {
	if !res.Succeeded {
		return model.StatusOffline
	}

	loss := res.PacketLossPct
	if exceeds(res.LatencyMs, t.CritLatencyMs) || exceedsValue(loss, t.CritLossPct) {
		return model.StatusCritical
	}
	if exceeds(res.LatencyMs, t.WarnLatencyMs) || exceedsValue(loss, t.WarnLossPct) {
		return model.StatusWarning
	}
	return model.StatusOnline
}

func exceeds(v *float64, threshold float64) bool {
	if v == nil {
		return false
	}
	return exceedsValue(*v, threshold)
}

func exceedsValue(v, threshold float64) bool {
	if threshold <= 0 {
		return false
	}
	return v >= threshold
}

// FailureReason returns the first line of raw probe output that names a
// reachability failure.
func FailureReason(raw string) string {
	s := bufio.NewScanner(strings.NewReader(raw))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		for _, phrase := range failurePhrases {
			if strings.Contains(lower, phrase) {
				return line
			}
		}
	}
	return defaultFailureReason
}

// Snapshot is the status-bearing part of a device after one check.
type Snapshot struct {
	Status        model.Status
	Result        model.CheckResult
	FailureReason string
}

// Assess combines Evaluate and FailureReason.
func Assess(res model.CheckResult, t model.Thresholds) Snapshot {
	snap := Snapshot{
		Status: Evaluate(res, t),
		Result: res,
	}
	if !res.Succeeded {
		snap.FailureReason = FailureReason(res.RawOutput)
	}
	return snap
}
