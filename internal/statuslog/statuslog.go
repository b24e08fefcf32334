// Package statuslog serves the status-log chart: recorded transitions grouped
// into hour or day buckets.
package statuslog

import (
	"context"
	"strings"
	"time"

	"ampnm/core-go/internal/access"
	"ampnm/core-go/internal/health"
	"ampnm/core-go/internal/model"
)

// EventSource lists recorded transitions. Both *EventLog and the store client
// implement it.
type EventSource interface {
	ListStatusEvents(ctx context.Context, mapID, deviceID string, since time.Time) ([]model.StatusEvent, error)
}

type Service struct {
	src EventSource
	loc *time.Location
	now func() time.Time
}

// New returns a Service bucketing in loc (UTC when nil).
func New(src EventSource, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{src: src, loc: loc, now: time.Now}
}

// Query returns the non-empty buckets of mapID (optionally one device) for the
// named period ("24h", "7d", "30d" or "live"; empty means 24h).
func (s *Service) Query(ctx context.Context, gate access.Gate, mapID, deviceID, period string) ([]health.Bucket, error) {
	if err := gate.Check(access.Read, "view status log"); err != nil {
		return nil, err
	}
	mapID = strings.TrimSpace(mapID)
	if mapID == "" {
		return nil, model.Invalid("map_id", "required")
	}
	p, err := health.ParsePeriod(period)
	if err != nil {
		return nil, err
	}

	now := s.now()
	f := health.Filter{MapID: mapID, DeviceID: strings.TrimSpace(deviceID), Period: p}
	events, err := s.src.ListStatusEvents(ctx, f.MapID, f.DeviceID, now.Add(-p.Window()))
	if err != nil {
		return nil, err
	}
	return health.BucketEvents(events, f, now, s.loc), nil
}
