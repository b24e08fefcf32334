package session

import (
	"context"

	"ampnm/core-go/internal/access"
	"ampnm/core-go/internal/model"
	"ampnm/core-go/internal/topology"
)

func (s *Session) ListMaps(ctx context.Context, gate access.Gate) ([]model.Map, error) {
	if err := gate.Check(access.Read, "list maps"); err != nil {
		return nil, err
	}
	maps, err := s.store.GetMaps(ctx)
	if err != nil {
		return nil, err
	}
	if maps == nil {
		maps = []model.Map{}
	}
	return maps, nil
}

// Snapshot returns a copy of the open map with live statuses.
func (s *Session) Snapshot(gate access.Gate) (topology.Snapshot, error) {
	if err := gate.Check(access.Read, "view map"); err != nil {
		return topology.Snapshot{}, err
	}
	if _, _, err := s.openMap(); err != nil {
		return topology.Snapshot{}, err
	}
	return s.graph.Snapshot(), nil
}

// ExportMap returns the open map's configuration without runtime status.
func (s *Session) ExportMap(gate access.Gate) (model.Graph, error) {
	snap, err := s.Snapshot(gate)
	if err != nil {
		return model.Graph{}, err
	}
	g := snap.Graph()
	for i, d := range g.Devices {
		g.Devices[i] = d.Editable()
	}
	return g, nil
}

// CheckNow probes one device of the open map outside its schedule.
func (s *Session) CheckNow(ctx context.Context, gate access.Gate, deviceID string) (model.Device, error) {
	if err := gate.Check(access.Probe, "check device"); err != nil {
		return model.Device{}, err
	}
	if _, _, err := s.openMap(); err != nil {
		return model.Device{}, err
	}
	if _, err := s.requireDevice(deviceID); err != nil {
		return model.Device{}, err
	}
	return s.poller.CheckNow(ctx, deviceID)
}

// RefreshAll probes every pollable device of the open map once and returns
// how many results were applied.
func (s *Session) RefreshAll(ctx context.Context, gate access.Gate) (int, error) {
	if err := gate.Check(access.Probe, "refresh all"); err != nil {
		return 0, err
	}
	if _, _, err := s.openMap(); err != nil {
		return 0, err
	}
	return s.poller.RefreshAll(ctx, s.graph.Snapshot().Devices)
}
