package health

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"ampnm/core-go/internal/model"
)

// Period selects the window and bucket width of a status-log query.
type Period string

const (
	Period24h  Period = "24h"
	Period7d   Period = "7d"
	Period30d  Period = "30d"
	PeriodLive Period = "live"
)

func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case Period24h, Period7d, Period30d, PeriodLive:
		return p, nil
	case "":
		return Period24h, nil
	default:
		return "", model.Invalid("period", fmt.Sprintf("unsupported period %q", s))
	}
}

// Window is the lookback covered by the period. The live view uses the 24h window.
func (p Period) Window() time.Duration {
	switch p {
	case Period7d:
		return 7 * 24 * time.Hour
	case Period30d:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Hourly reports whether buckets are one hour wide (otherwise one day).
func (p Period) Hourly() bool {
	return p == Period24h || p == PeriodLive || p == ""
}

// Bucket counts transitions into degraded states within one time group.
type Bucket struct {
	TimeGroup time.Time `json:"time_group"`
	Critical  int       `json:"critical_count"`
	Warning   int       `json:"warning_count"`
	Offline   int       `json:"offline_count"`
}

func (b Bucket) empty() bool {
	return b.Critical == 0 && b.Warning == 0 && b.Offline == 0
}

// Filter scopes a status-log query.
type Filter struct {
	MapID    string
	DeviceID string
	Period   Period
}

// BucketEvents groups events inside [now-window, now] into hour or day buckets.
// Transitions into online or unknown are not counted and buckets with no
// degraded transitions are left out. The result is sorted by time group.
func BucketEvents(events []model.StatusEvent, f Filter, now time.Time, loc *time.Location) []Bucket {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	from := now.Add(-f.Period.Window())

	byGroup := make(map[int64]*Bucket)
	for _, ev := range events {
		if f.MapID != "" && ev.MapID != "" && ev.MapID != f.MapID {
			continue
		}
		if f.DeviceID != "" && ev.DeviceID != f.DeviceID {
			continue
		}
		at := ev.ObservedAt.In(loc)
		if at.Before(from) || at.After(now) {
			continue
		}
		if !ev.Status.Degraded() {
			continue
		}

		group := truncate(at, f.Period.Hourly())
		key := group.Unix()
		b := byGroup[key]
		if b == nil {
			b = &Bucket{TimeGroup: group}
			byGroup[key] = b
		}
		switch ev.Status {
		case model.StatusCritical:
			b.Critical++
		case model.StatusWarning:
			b.Warning++
		case model.StatusOffline:
			b.Offline++
		}
	}

	out := make([]Bucket, 0, len(byGroup))
	for _, b := range byGroup {
		if b.empty() {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TimeGroup.Before(out[j].TimeGroup)
	})
	return out
}

func truncate(t time.Time, hourly bool) time.Time {
	if hourly {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
