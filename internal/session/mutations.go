package session

import (
	"context"
	"fmt"
	"math"
	"strings"

	"ampnm/core-go/internal/access"
	"ampnm/core-go/internal/model"
)

// CreateDevice persists d on the open map and adds it to the graph.
func (s *Session) CreateDevice(ctx context.Context, gate access.Gate, d model.Device) (model.Device, error) {
	if err := gate.Check(access.Mutate, "create device"); err != nil {
		return model.Device{}, err
	}
	mapID, gen, err := s.openMap()
	if err != nil {
		return model.Device{}, err
	}
	if d.MapID == "" {
		d.MapID = mapID
	}
	if d.MapID != mapID {
		return model.Device{}, model.Invalid("map_id", "device must be created on the open map")
	}
	d = d.Editable()
	if err := d.Validate(); err != nil {
		return model.Device{}, err
	}

	created, err := s.store.CreateDevice(ctx, d)
	if err != nil {
		return model.Device{}, err
	}
	created = mergeDevice(d, created)

	s.applyIfCurrent(gen, "create device", func() {
		s.graph.UpsertDevice(created)
		s.poller.Sync(created)
	})
	s.log.Info().Str("map_id", mapID).Str("device_id", created.ID).Msg("device created")
	return s.deviceOr(created), nil
}

// UpdateDevice applies a partial edit. Status fields are never client-settable.
func (s *Session) UpdateDevice(ctx context.Context, gate access.Gate, id string, u model.DeviceUpdate) (model.Device, error) {
	if err := gate.Check(access.Mutate, "update device"); err != nil {
		return model.Device{}, err
	}
	return s.updateDevice(ctx, id, u)
}

// MoveDevice repositions a device on the canvas.
func (s *Session) MoveDevice(ctx context.Context, gate access.Gate, id string, x, y float64) (model.Device, error) {
	if err := gate.Check(access.Mutate, "move device"); err != nil {
		return model.Device{}, err
	}
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return model.Device{}, model.Invalid("position", "coordinates must be finite")
	}
	return s.updateDevice(ctx, id, model.DeviceUpdate{X: &x, Y: &y})
}

func (s *Session) updateDevice(ctx context.Context, id string, u model.DeviceUpdate) (model.Device, error) {
	_, gen, err := s.openMap()
	if err != nil {
		return model.Device{}, err
	}
	current, err := s.requireDevice(id)
	if err != nil {
		return model.Device{}, err
	}
	next := u.Apply(current.Editable())
	if err := next.Validate(); err != nil {
		return model.Device{}, err
	}

	updated, err := s.store.UpdateDevice(ctx, id, u)
	if err != nil {
		return model.Device{}, err
	}
	updated = mergeDevice(next, updated)

	s.applyIfCurrent(gen, "update device", func() {
		s.graph.UpsertDevice(updated)
		s.poller.Sync(updated)
	})
	return s.deviceOr(updated), nil
}

// DeleteDevice removes a device and, locally, every connection touching it.
func (s *Session) DeleteDevice(ctx context.Context, gate access.Gate, id string) error {
	if err := gate.Check(access.Mutate, "delete device"); err != nil {
		return err
	}
	mapID, gen, err := s.openMap()
	if err != nil {
		return err
	}
	if _, err := s.requireDevice(id); err != nil {
		return err
	}
	if err := s.store.DeleteDevice(ctx, id); err != nil {
		return err
	}
	s.applyIfCurrent(gen, "delete device", func() {
		s.poller.Remove(id)
		removed := s.graph.RemoveDevice(id)
		s.log.Info().Str("map_id", mapID).Str("device_id", id).Strs("edges_removed", removed).Msg("device deleted")
	})
	return nil
}

func (s *Session) CreateConnection(ctx context.Context, gate access.Gate, c model.Connection) (model.Connection, error) {
	if err := gate.Check(access.Mutate, "create connection"); err != nil {
		return model.Connection{}, err
	}
	mapID, gen, err := s.openMap()
	if err != nil {
		return model.Connection{}, err
	}
	if c.MapID == "" {
		c.MapID = mapID
	}
	if c.MapID != mapID {
		return model.Connection{}, model.Invalid("map_id", "connection must be created on the open map")
	}
	if c.ConnectionType == "" {
		c.ConnectionType = model.ConnectionCat5
	}
	if err := c.Validate(s.graph.HasDevice); err != nil {
		return model.Connection{}, err
	}
	if c.SourceDeviceID == c.TargetDeviceID {
		return model.Connection{}, model.Invalid("target_id", "a device cannot connect to itself")
	}

	created, err := s.store.CreateEdge(ctx, c)
	if err != nil {
		return model.Connection{}, err
	}
	created = mergeConnection(c, created)

	s.applyIfCurrent(gen, "create connection", func() {
		s.graph.UpsertConnection(created)
	})
	return created, nil
}

// UpdateConnection changes the link type of a connection.
func (s *Session) UpdateConnection(ctx context.Context, gate access.Gate, id string, ct model.ConnectionType) (model.Connection, error) {
	if err := gate.Check(access.Mutate, "update connection"); err != nil {
		return model.Connection{}, err
	}
	_, gen, err := s.openMap()
	if err != nil {
		return model.Connection{}, err
	}
	current, err := s.requireConnection(id)
	if err != nil {
		return model.Connection{}, err
	}
	if strings.TrimSpace(string(ct)) == "" {
		return model.Connection{}, model.Invalid("connection_type", "required")
	}

	updated, err := s.store.UpdateEdge(ctx, id, ct)
	if err != nil {
		return model.Connection{}, err
	}
	next := current
	next.ConnectionType = ct
	updated = mergeConnection(next, updated)

	s.applyIfCurrent(gen, "update connection", func() {
		s.graph.UpsertConnection(updated)
	})
	return updated, nil
}

func (s *Session) DeleteConnection(ctx context.Context, gate access.Gate, id string) error {
	if err := gate.Check(access.Mutate, "delete connection"); err != nil {
		return err
	}
	_, gen, err := s.openMap()
	if err != nil {
		return err
	}
	if _, err := s.requireConnection(id); err != nil {
		return err
	}
	if err := s.store.DeleteEdge(ctx, id); err != nil {
		return err
	}
	s.applyIfCurrent(gen, "delete connection", func() {
		s.graph.RemoveConnection(id)
	})
	return nil
}

func (s *Session) CreateMap(ctx context.Context, gate access.Gate, name string) (model.Map, error) {
	if err := gate.Check(access.Mutate, "create map"); err != nil {
		return model.Map{}, err
	}
	name = strings.TrimSpace(name)
	if err := model.ValidateMapName(name); err != nil {
		return model.Map{}, err
	}
	m, err := s.store.CreateMap(ctx, model.Map{Name: name})
	if err != nil {
		return model.Map{}, err
	}
	if m.Name == "" {
		m.Name = name
	}
	s.log.Info().Str("map_id", m.ID).Msg("map created")
	return m, nil
}

func (s *Session) RenameMap(ctx context.Context, gate access.Gate, id, name string) (model.Map, error) {
	name = strings.TrimSpace(name)
	if err := gate.Check(access.Mutate, "rename map"); err != nil {
		return model.Map{}, err
	}
	if err := model.ValidateMapName(name); err != nil {
		return model.Map{}, err
	}
	return s.UpdateMap(ctx, gate, id, model.MapUpdate{Name: &name})
}

// UpdateMap edits map settings (name, background, public view flag) and keeps
// the open map's header in step.
func (s *Session) UpdateMap(ctx context.Context, gate access.Gate, id string, u model.MapUpdate) (model.Map, error) {
	if err := gate.Check(access.Mutate, "update map"); err != nil {
		return model.Map{}, err
	}
	if strings.TrimSpace(id) == "" {
		return model.Map{}, model.Invalid("id", "required")
	}
	if u.Name != nil {
		if err := model.ValidateMapName(*u.Name); err != nil {
			return model.Map{}, err
		}
	}
	gen := s.graph.Generation()

	updated, err := s.store.UpdateMap(ctx, id, u)
	if err != nil {
		return model.Map{}, err
	}
	if updated.ID == "" {
		updated.ID = id
	}
	if current, loaded := s.graph.Map(); loaded && current.ID == id {
		if updated.Name == "" {
			updated = u.Apply(current)
		}
		s.applyIfCurrent(gen, "update map", func() {
			s.graph.SetMap(updated)
		})
	}
	return updated, nil
}

// DeleteMap deletes a map; deleting the open map closes the session.
func (s *Session) DeleteMap(ctx context.Context, gate access.Gate, id string) error {
	if err := gate.Check(access.Mutate, "delete map"); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return model.Invalid("id", "required")
	}
	if err := s.store.DeleteMap(ctx, id); err != nil {
		return err
	}
	if _, open := s.State(); open == id {
		s.Close()
	}
	s.log.Info().Str("map_id", id).Msg("map deleted")
	return nil
}

// ImportMap replaces every device and connection of the target map (the open
// map when g.Map.ID is empty) and reloads it if it is open.
func (s *Session) ImportMap(ctx context.Context, gate access.Gate, g model.Graph) error {
	if err := gate.Check(access.Mutate, "import map"); err != nil {
		return err
	}
	mapID := strings.TrimSpace(g.Map.ID)
	if mapID == "" {
		st, open := s.State()
		if st != Open {
			return model.Invalid("map.id", "no target map for import")
		}
		mapID = open
	}

	ids := make(map[string]struct{}, len(g.Devices))
	devices := make([]model.Device, 0, len(g.Devices))
	for i, d := range g.Devices {
		d.MapID = mapID
		d = d.Editable()
		if err := d.Validate(); err != nil {
			return fmt.Errorf("device %d: %w", i, err)
		}
		if d.ID != "" {
			ids[d.ID] = struct{}{}
		}
		devices = append(devices, d)
	}
	edges := make([]model.Connection, 0, len(g.Connections))
	for i, c := range g.Connections {
		c.MapID = mapID
		err := c.Validate(func(id string) bool {
			_, ok := ids[id]
			return ok
		})
		if err != nil {
			return fmt.Errorf("connection %d: %w", i, err)
		}
		edges = append(edges, c)
	}

	if err := s.store.ImportMap(ctx, mapID, devices, edges); err != nil {
		return err
	}
	s.log.Info().Str("map_id", mapID).Int("devices", len(devices)).Int("edges", len(edges)).Msg("map imported")
	return s.reload(ctx, mapID)
}

// deviceOr returns the graph's copy of d (with live status) when present.
func (s *Session) deviceOr(d model.Device) model.Device {
	if cur, ok := s.graph.Device(d.ID); ok {
		return cur
	}
	return d
}

// mergeDevice fills fields the store left out of its reply from what was sent.
func mergeDevice(sent, got model.Device) model.Device {
	if got.ID == "" {
		got.ID = sent.ID
	}
	if got.Name == "" {
		id := got.ID
		got = sent
		got.ID = id
	}
	if got.MapID == "" {
		got.MapID = sent.MapID
	}
	return got.Editable()
}

func mergeConnection(sent, got model.Connection) model.Connection {
	if got.ID == "" {
		got.ID = sent.ID
	}
	if got.SourceDeviceID == "" || got.TargetDeviceID == "" {
		id := got.ID
		got = sent
		got.ID = id
	}
	if got.MapID == "" {
		got.MapID = sent.MapID
	}
	if got.ConnectionType == "" {
		got.ConnectionType = sent.ConnectionType
	}
	return got
}
