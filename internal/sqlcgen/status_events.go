package sqlcgen

import (
	"context"
	"time"
)

const insertStatusEvent = `-- name: InsertStatusEvent :one
INSERT INTO device_status_events (
  id,
  map_id,
  device_id,
  status,
  previous_status,
  observed_at
)
VALUES ($1::uuid, $2, $3, $4, $5, $6)
RETURNING id::text, map_id, device_id, status, previous_status, observed_at
`

type InsertStatusEventParams struct {
	ID             string
	MapID          string
	DeviceID       string
	Status         string
	PreviousStatus *string
	ObservedAt     time.Time
}

func (q *Queries) InsertStatusEvent(ctx context.Context, arg InsertStatusEventParams) (DeviceStatusEvent, error) {
	row := q.db.QueryRow(ctx, insertStatusEvent,
		arg.ID,
		arg.MapID,
		arg.DeviceID,
		arg.Status,
		arg.PreviousStatus,
		arg.ObservedAt,
	)
	var i DeviceStatusEvent
	err := row.Scan(&i.ID, &i.MapID, &i.DeviceID, &i.Status, &i.PreviousStatus, &i.ObservedAt)
	return i, err
}

const listStatusEvents = `-- name: ListStatusEvents :many
SELECT id::text, map_id, device_id, status, previous_status, observed_at
FROM device_status_events
WHERE map_id = $1
  AND ($2::text IS NULL OR device_id = $2::text)
  AND observed_at >= $3
ORDER BY observed_at DESC, id DESC
LIMIT $4
`

type ListStatusEventsParams struct {
	MapID    string
	DeviceID *string
	Since    time.Time
	Limit    int32
}

func (q *Queries) ListStatusEvents(ctx context.Context, arg ListStatusEventsParams) ([]DeviceStatusEvent, error) {
	rows, err := q.db.Query(ctx, listStatusEvents, arg.MapID, arg.DeviceID, arg.Since, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []DeviceStatusEvent
	for rows.Next() {
		var i DeviceStatusEvent
		if err := rows.Scan(&i.ID, &i.MapID, &i.DeviceID, &i.Status, &i.PreviousStatus, &i.ObservedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteStatusEventsBefore = `-- name: DeleteStatusEventsBefore :execrows
DELETE FROM device_status_events
WHERE observed_at < $1
`

func (q *Queries) DeleteStatusEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteStatusEventsBefore, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
