package model

import (
	"strings"
)

func ValidateMapName(name string) error {
	if strings.TrimSpace(name) == "" {
		return Invalid("name", "map name must not be empty")
	}
	return nil
}

// Validate checks admin-settable device fields.
func (d Device) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return Invalid("name", "device name must not be empty")
	}
	if strings.TrimSpace(d.MapID) == "" {
		return Invalid("map_id", "device must belong to a map")
	}
	if d.PingIntervalSeconds < 0 {
		return Invalid("ping_interval", "must not be negative")
	}
	if d.MonitorMethod != "" && !d.MonitorMethod.Valid() {
		return Invalid("monitor_method", "must be ping, port or snmp")
	}
	if d.CheckPort < 0 || d.CheckPort > 65535 {
		return Invalid("check_port", "must be between 1 and 65535")
	}
	if d.MonitorMethod == MonitorPort && d.CheckPort == 0 {
		return Invalid("check_port", "required when monitoring a port")
	}
	t := d.Thresholds
	if t.WarnLatencyMs < 0 || t.CritLatencyMs < 0 || t.WarnLossPct < 0 || t.CritLossPct < 0 {
		return Invalid("thresholds", "must not be negative")
	}
	if t.WarnLossPct > 100 || t.CritLossPct > 100 {
		return Invalid("thresholds", "packet loss thresholds are percentages")
	}
	return nil
}

// Validate checks a connection against the set of device ids on its map.
func (c Connection) Validate(deviceOnMap func(id string) bool) error {
	if strings.TrimSpace(c.SourceDeviceID) == "" || strings.TrimSpace(c.TargetDeviceID) == "" {
		return Invalid("endpoints", "source and target are required")
	}
	if deviceOnMap != nil {
		if !deviceOnMap(c.SourceDeviceID) {
			return Invalid("source_id", "device is not on this map")
		}
		if !deviceOnMap(c.TargetDeviceID) {
			return Invalid("target_id", "device is not on this map")
		}
	}
	return nil
}
