package statuslog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ampnm/core-go/internal/model"
	"ampnm/core-go/internal/sqlcgen"
	"ampnm/core-go/internal/topology"
)

// maxEvents caps one ListStatusEvents read.
const maxEvents = 100000

// Queries is the part of sqlcgen.Queries the event log uses.
type Queries interface {
	InsertStatusEvent(ctx context.Context, arg sqlcgen.InsertStatusEventParams) (sqlcgen.DeviceStatusEvent, error)
	ListStatusEvents(ctx context.Context, arg sqlcgen.ListStatusEventsParams) ([]sqlcgen.DeviceStatusEvent, error)
	DeleteStatusEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventLog is the append-only Postgres record of status transitions. It is a
// poller.TransitionSink and an EventSource.
type EventLog struct {
	q     Queries
	newID func() string
	limit int32
}

func NewEventLog(q Queries) *EventLog {
	return &EventLog{q: q, newID: uuid.NewString, limit: maxEvents}
}

func (l *EventLog) RecordTransition(ctx context.Context, tr topology.Transition) error {
	if !tr.Changed() {
		return nil
	}
	var prev *string
	if tr.Previous != "" {
		p := string(tr.Previous)
		prev = &p
	}
	at := tr.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := l.q.InsertStatusEvent(ctx, sqlcgen.InsertStatusEventParams{
		ID:             l.newID(),
		MapID:          tr.MapID,
		DeviceID:       tr.DeviceID,
		Status:         string(tr.Current),
		PreviousStatus: prev,
		ObservedAt:     at.UTC(),
	})
	if err != nil {
		return fmt.Errorf("insert status event for device %s: %w", tr.DeviceID, err)
	}
	return nil
}

func (l *EventLog) ListStatusEvents(ctx context.Context, mapID, deviceID string, since time.Time) ([]model.StatusEvent, error) {
	arg := sqlcgen.ListStatusEventsParams{MapID: mapID, Since: since.UTC(), Limit: l.limit}
	if deviceID != "" {
		arg.DeviceID = &deviceID
	}
	rows, err := l.q.ListStatusEvents(ctx, arg)
	if err != nil {
		return nil, err
	}
	// Rows come newest first so the cap drops the oldest events.
	out := make([]model.StatusEvent, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		ev := model.StatusEvent{
			ID:         r.ID,
			MapID:      r.MapID,
			DeviceID:   r.DeviceID,
			Status:     model.ParseStatus(r.Status),
			ObservedAt: r.ObservedAt,
		}
		if r.PreviousStatus != nil {
			ev.PreviousStatus = model.ParseStatus(*r.PreviousStatus)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Prune deletes events observed before the cutoff.
func (l *EventLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	return l.q.DeleteStatusEventsBefore(ctx, before.UTC())
}
