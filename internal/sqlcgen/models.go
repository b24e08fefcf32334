package sqlcgen

import "time"

type DeviceStatusEvent struct {
	ID             string
	MapID          string
	DeviceID       string
	Status         string
	PreviousStatus *string
	ObservedAt     time.Time
}
