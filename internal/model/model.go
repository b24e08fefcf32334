package model

import (
	"strings"
	"time"
)

// Status is the derived health tier of a device.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusOnline   Status = "online"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusOffline  Status = "offline"
)

// Degraded reports whether the status is one surfaced by the status-log chart.
func (s Status) Degraded() bool {
	switch s {
	case StatusWarning, StatusCritical, StatusOffline:
		return true
	default:
		return false
	}
}

func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusOnline:
		return StatusOnline
	case StatusWarning:
		return StatusWarning
	case StatusCritical:
		return StatusCritical
	case StatusOffline:
		return StatusOffline
	default:
		return StatusUnknown
	}
}

type MonitorMethod string

const (
	MonitorPing MonitorMethod = "ping"
	MonitorPort MonitorMethod = "port"
	MonitorSNMP MonitorMethod = "snmp"
)

func (m MonitorMethod) Valid() bool {
	switch m {
	case MonitorPing, MonitorPort, MonitorSNMP:
		return true
	}
	return false
}

// ConnectionType is a styling/legend key for an edge.
type ConnectionType string

const (
	ConnectionCat5          ConnectionType = "cat5"
	ConnectionCat6          ConnectionType = "cat6"
	ConnectionFiber         ConnectionType = "fiber"
	ConnectionLAN           ConnectionType = "lan"
	ConnectionWiFi          ConnectionType = "wifi"
	ConnectionRadio         ConnectionType = "radio"
	ConnectionLogicalTunnel ConnectionType = "logical-tunnel"
)

// Wireless reports whether the link type is drawn with a static dashed pattern.
func (c ConnectionType) Wireless() bool {
	switch c {
	case ConnectionWiFi, ConnectionRadio, ConnectionLogicalTunnel:
		return true
	}
	return false
}

// Thresholds are per-device escalation cutoffs. Zero or negative values are unset
// and never trigger.
type Thresholds struct {
	WarnLatencyMs float64 `json:"warning_latency_threshold,omitempty"`
	WarnLossPct   float64 `json:"warning_packetloss_threshold,omitempty"`
	CritLatencyMs float64 `json:"critical_latency_threshold,omitempty"`
	CritLossPct   float64 `json:"critical_packetloss_threshold,omitempty"`
}

type Map struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	BackgroundColor    string `json:"background_color,omitempty"`
	BackgroundImageURL string `json:"background_image_url,omitempty"`
	PublicViewEnabled  bool   `json:"public_view_enabled"`
}

// MapUpdate carries the editable map fields. Nil fields are left unchanged.
type MapUpdate struct {
	Name               *string `json:"name,omitempty"`
	BackgroundColor    *string `json:"background_color,omitempty"`
	BackgroundImageURL *string `json:"background_image_url,omitempty"`
	PublicViewEnabled  *bool   `json:"public_view_enabled,omitempty"`
}

// Apply returns m with the update applied.
func (u MapUpdate) Apply(m Map) Map {
	if u.Name != nil {
		m.Name = *u.Name
	}
	if u.BackgroundColor != nil {
		m.BackgroundColor = *u.BackgroundColor
	}
	if u.BackgroundImageURL != nil {
		m.BackgroundImageURL = *u.BackgroundImageURL
	}
	if u.PublicViewEnabled != nil {
		m.PublicViewEnabled = *u.PublicViewEnabled
	}
	return m
}

type Device struct {
	ID                  string        `json:"id"`
	MapID               string        `json:"map_id"`
	Name                string        `json:"name"`
	IP                  string        `json:"ip,omitempty"`
	DeviceType          string        `json:"type,omitempty"`
	IconURL             string        `json:"icon_url,omitempty"`
	X                   float64       `json:"x"`
	Y                   float64       `json:"y"`
	PingIntervalSeconds int           `json:"ping_interval,omitempty"`
	MonitorMethod       MonitorMethod `json:"monitor_method,omitempty"`
	CheckPort           int           `json:"check_port,omitempty"`
	Thresholds
	ShowLivePing bool `json:"show_live_ping"`

	Status             Status     `json:"status"`
	LastSeenAt         *time.Time `json:"last_seen,omitempty"`
	LastAvgLatencyMs   *float64   `json:"last_avg_time,omitempty"`
	LastPacketLossPct  *float64   `json:"last_packet_loss,omitempty"`
	LastCheckRawOutput string     `json:"last_ping_output,omitempty"`
	FailureReason      string     `json:"failure_reason,omitempty"`
}

// Pollable reports whether the device gets a polling task at all.
func (d Device) Pollable() bool {
	return strings.TrimSpace(d.IP) != "" && d.PingIntervalSeconds > 0
}

// Method returns the monitor method with the ping default applied.
func (d Device) Method() MonitorMethod {
	if d.MonitorMethod == "" {
		return MonitorPing
	}
	return d.MonitorMethod
}

// Editable returns a copy holding only admin-settable fields; the status fields are reset.
func (d Device) Editable() Device {
	return Device{
		ID:                  d.ID,
		MapID:               d.MapID,
		Name:                d.Name,
		IP:                  d.IP,
		DeviceType:          d.DeviceType,
		IconURL:             d.IconURL,
		X:                   d.X,
		Y:                   d.Y,
		PingIntervalSeconds: d.PingIntervalSeconds,
		MonitorMethod:       d.MonitorMethod,
		CheckPort:           d.CheckPort,
		Thresholds:          d.Thresholds,
		ShowLivePing:        d.ShowLivePing,
		Status:              StatusUnknown,
	}
}

// Clone returns a deep copy.
func (d Device) Clone() Device {
	out := d
	if d.LastSeenAt != nil {
		t := *d.LastSeenAt
		out.LastSeenAt = &t
	}
	if d.LastAvgLatencyMs != nil {
		v := *d.LastAvgLatencyMs
		out.LastAvgLatencyMs = &v
	}
	if d.LastPacketLossPct != nil {
		v := *d.LastPacketLossPct
		out.LastPacketLossPct = &v
	}
	return out
}

// DeviceUpdate carries a partial edit. Nil fields are left unchanged.
type DeviceUpdate struct {
	Name                *string        `json:"name,omitempty"`
	IP                  *string        `json:"ip,omitempty"`
	DeviceType          *string        `json:"type,omitempty"`
	IconURL             *string        `json:"icon_url,omitempty"`
	X                   *float64       `json:"x,omitempty"`
	Y                   *float64       `json:"y,omitempty"`
	PingIntervalSeconds *int           `json:"ping_interval,omitempty"`
	MonitorMethod       *MonitorMethod `json:"monitor_method,omitempty"`
	CheckPort           *int           `json:"check_port,omitempty"`
	Thresholds          *Thresholds    `json:"thresholds,omitempty"`
	ShowLivePing        *bool          `json:"show_live_ping,omitempty"`
}

// Apply returns d with the update applied.
func (u DeviceUpdate) Apply(d Device) Device {
	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.IP != nil {
		d.IP = *u.IP
	}
	if u.DeviceType != nil {
		d.DeviceType = *u.DeviceType
	}
	if u.IconURL != nil {
		d.IconURL = *u.IconURL
	}
	if u.X != nil {
		d.X = *u.X
	}
	if u.Y != nil {
		d.Y = *u.Y
	}
	if u.PingIntervalSeconds != nil {
		d.PingIntervalSeconds = *u.PingIntervalSeconds
	}
	if u.MonitorMethod != nil {
		d.MonitorMethod = *u.MonitorMethod
	}
	if u.CheckPort != nil {
		d.CheckPort = *u.CheckPort
	}
	if u.Thresholds != nil {
		d.Thresholds = *u.Thresholds
	}
	if u.ShowLivePing != nil {
		d.ShowLivePing = *u.ShowLivePing
	}
	return d
}

type Connection struct {
	ID             string         `json:"id"`
	MapID          string         `json:"map_id"`
	SourceDeviceID string         `json:"source_id"`
	TargetDeviceID string         `json:"target_id"`
	ConnectionType ConnectionType `json:"connection_type"`
}

// StatusEvent is one recorded status transition.
type StatusEvent struct {
	ID             string    `json:"id,omitempty"`
	MapID          string    `json:"map_id"`
	DeviceID       string    `json:"device_id"`
	Status         Status    `json:"status"`
	PreviousStatus Status    `json:"previous_status,omitempty"`
	ObservedAt     time.Time `json:"created_at"`
}

// Graph is a full map snapshot.
type Graph struct {
	Map         Map          `json:"map"`
	Devices     []Device     `json:"devices"`
	Connections []Connection `json:"edges"`
}

// CheckResult is the outcome of one reachability probe.
type CheckResult struct {
	Succeeded bool
	// LatencyMs is nil when no round trip was measured.
	LatencyMs *float64
	// PacketLossPct is reported by probes that measure it; single-shot probes
	// report 0 on success and 100 on failure.
	PacketLossPct float64
	RawOutput     string
	CheckedAt     time.Time
}
