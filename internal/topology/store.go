// Package topology holds the in-memory graph of the currently open map.
package topology

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ampnm/core-go/internal/health"
	"ampnm/core-go/internal/model"
)

// Loader is the slice of the store collaborator needed to populate a map.
type Loader interface {
	GetMap(ctx context.Context, mapID string) (model.Map, error)
	GetDevices(ctx context.Context, mapID string) ([]model.Device, error)
	GetEdges(ctx context.Context, mapID string) ([]model.Connection, error)
}

// ChangeKind names what changed in a Change notification.
type ChangeKind string

const (
	ChangeLoaded         ChangeKind = "loaded"
	ChangeReset          ChangeKind = "reset"
	ChangeDeviceUpserted ChangeKind = "device_upserted"
	ChangeDeviceRemoved  ChangeKind = "device_removed"
	ChangeEdgeUpserted   ChangeKind = "edge_upserted"
	ChangeEdgeRemoved    ChangeKind = "edge_removed"
	ChangeStatus         ChangeKind = "status"
	ChangeMapUpdated     ChangeKind = "map_updated"
)

type Change struct {
	Kind       ChangeKind
	Generation uint64
	ID         string
}

// Transition describes the status change caused by one applied update.
type Transition struct {
	MapID    string
	DeviceID string
	Previous model.Status
	Current  model.Status
	At       time.Time
	Device   model.Device
}

// Changed reports whether the update moved the device to a different status.
func (t Transition) Changed() bool { return t.Previous != t.Current }

// Store is the single mutable structure shared by the mutation API, the poller
// and the animator. Every write holds the lock; readers get deep copies.
type Store struct {
	log zerolog.Logger

	mu          sync.RWMutex
	generation  uint64
	loaded      bool
	m           model.Map
	devices     map[string]model.Device
	connections map[string]model.Connection

	obsMu     sync.RWMutex
	observers []func(Change)
}

func New(log zerolog.Logger) *Store {
	return &Store{
		log:         log,
		devices:     make(map[string]model.Device),
		connections: make(map[string]model.Connection),
	}
}

// Observe registers fn to be called after every mutation. fn must not call back
// into a mutating Store method.
func (s *Store) Observe(fn func(Change)) {
	if fn == nil {
		return
	}
	s.obsMu.Lock()
	s.observers = append(s.observers, fn)
	s.obsMu.Unlock()
}

func (s *Store) notify(c Change) {
	s.obsMu.RLock()
	obs := append([]func(Change){}, s.observers...)
	s.obsMu.RUnlock()
	for _, fn := range obs {
		fn(c)
	}
}

// Load replaces the whole store with the given map. Fetching happens before the
// lock is taken; on any failure the previous contents stay untouched.
func (s *Store) Load(ctx context.Context, mapID string, loader Loader) (uint64, error) {
	m, err := loader.GetMap(ctx, mapID)
	if err != nil {
		return 0, &model.LoadError{MapID: mapID, Err: err}
	}
	devices, err := loader.GetDevices(ctx, mapID)
	if err != nil {
		return 0, &model.LoadError{MapID: mapID, Err: err}
	}
	edges, err := loader.GetEdges(ctx, mapID)
	if err != nil {
		return 0, &model.LoadError{MapID: mapID, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return 0, &model.LoadError{MapID: mapID, Err: err}
	}
	return s.Replace(m, devices, edges), nil
}

// Replace swaps in a complete graph and returns the new generation.
func (s *Store) Replace(m model.Map, devices []model.Device, edges []model.Connection) uint64 {
	nextDevices := make(map[string]model.Device, len(devices))
	for _, d := range devices {
		if d.Status == "" {
			d.Status = model.StatusUnknown
		}
		if d.MapID == "" {
			d.MapID = m.ID
		}
		nextDevices[d.ID] = d.Clone()
	}
	nextEdges := make(map[string]model.Connection, len(edges))
	for _, e := range edges {
		if _, ok := nextDevices[e.SourceDeviceID]; !ok {
			s.log.Warn().Str("map_id", m.ID).Str("edge_id", e.ID).Str("device_id", e.SourceDeviceID).Msg("dropping edge with unknown source device")
			continue
		}
		if _, ok := nextDevices[e.TargetDeviceID]; !ok {
			s.log.Warn().Str("map_id", m.ID).Str("edge_id", e.ID).Str("device_id", e.TargetDeviceID).Msg("dropping edge with unknown target device")
			continue
		}
		if e.MapID == "" {
			e.MapID = m.ID
		}
		nextEdges[e.ID] = e
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.loaded = true
	s.m = m
	s.devices = nextDevices
	s.connections = nextEdges
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeLoaded, Generation: gen, ID: m.ID})
	return gen
}

// Reset discards the contents; any outstanding generation becomes stale.
func (s *Store) Reset() {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.loaded = false
	s.m = model.Map{}
	s.devices = make(map[string]model.Device)
	s.connections = make(map[string]model.Connection)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReset, Generation: gen})
}

func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Map returns the open map and whether one is loaded.
func (s *Store) Map() (model.Map, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m, s.loaded
}

// SetMap replaces the map header (name, background, public flag) in place.
func (s *Store) SetMap(m model.Map) bool {
	s.mu.Lock()
	if !s.loaded || s.m.ID != m.ID {
		s.mu.Unlock()
		return false
	}
	s.m = m
	gen := s.generation
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMapUpdated, Generation: gen, ID: m.ID})
	return true
}

func (s *Store) Device(id string) (model.Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return model.Device{}, false
	}
	return d.Clone(), true
}

func (s *Store) HasDevice(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.devices[id]
	return ok
}

func (s *Store) Connection(id string) (model.Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[id]
	return c, ok
}

// Snapshot returns copies of all records sorted by id.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Generation:  s.generation,
		Loaded:      s.loaded,
		Map:         s.m,
		Devices:     make([]model.Device, 0, len(s.devices)),
		Connections: make([]model.Connection, 0, len(s.connections)),
	}
	for _, d := range s.devices {
		snap.Devices = append(snap.Devices, d.Clone())
	}
	for _, c := range s.connections {
		snap.Connections = append(snap.Connections, c)
	}
	sort.Slice(snap.Devices, func(i, j int) bool { return snap.Devices[i].ID < snap.Devices[j].ID })
	sort.Slice(snap.Connections, func(i, j int) bool { return snap.Connections[i].ID < snap.Connections[j].ID })
	return snap
}

// UpsertDevice inserts or replaces admin-settable fields. Status fields of an
// existing device are preserved.
func (s *Store) UpsertDevice(d model.Device) {
	s.mu.Lock()
	if existing, ok := s.devices[d.ID]; ok {
		d.Status = existing.Status
		d.LastSeenAt = existing.LastSeenAt
		d.LastAvgLatencyMs = existing.LastAvgLatencyMs
		d.LastPacketLossPct = existing.LastPacketLossPct
		d.LastCheckRawOutput = existing.LastCheckRawOutput
		d.FailureReason = existing.FailureReason
	} else if d.Status == "" {
		d.Status = model.StatusUnknown
	}
	if d.MapID == "" {
		d.MapID = s.m.ID
	}
	s.devices[d.ID] = d.Clone()
	gen := s.generation
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeDeviceUpserted, Generation: gen, ID: d.ID})
}

// RemoveDevice deletes the device and every connection referencing it.
func (s *Store) RemoveDevice(id string) []string {
	s.mu.Lock()
	if _, ok := s.devices[id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.devices, id)
	var removedEdges []string
	for eid, c := range s.connections {
		if c.SourceDeviceID == id || c.TargetDeviceID == id {
			delete(s.connections, eid)
			removedEdges = append(removedEdges, eid)
		}
	}
	gen := s.generation
	s.mu.Unlock()

	sort.Strings(removedEdges)
	s.notify(Change{Kind: ChangeDeviceRemoved, Generation: gen, ID: id})
	return removedEdges
}

// UpsertConnection stores c if both endpoints are present.
func (s *Store) UpsertConnection(c model.Connection) bool {
	s.mu.Lock()
	_, srcOK := s.devices[c.SourceDeviceID]
	_, dstOK := s.devices[c.TargetDeviceID]
	if !srcOK || !dstOK {
		s.mu.Unlock()
		s.log.Warn().Str("edge_id", c.ID).Str("source_id", c.SourceDeviceID).Str("target_id", c.TargetDeviceID).Msg("dropping edge with unknown endpoint")
		return false
	}
	if c.MapID == "" {
		c.MapID = s.m.ID
	}
	s.connections[c.ID] = c
	gen := s.generation
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeEdgeUpserted, Generation: gen, ID: c.ID})
	return true
}

func (s *Store) RemoveConnection(id string) bool {
	s.mu.Lock()
	if _, ok := s.connections[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.connections, id)
	gen := s.generation
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeEdgeRemoved, Generation: gen, ID: id})
	return true
}

// ApplyStatusUpdate is the only write path for probe results. Updates for an
// older generation or an unknown device are dropped.
func (s *Store) ApplyStatusUpdate(gen uint64, deviceID string, snap health.Snapshot) (Transition, bool) {
	s.mu.Lock()
	if gen != s.generation {
		current := s.generation
		s.mu.Unlock()
		s.log.Debug().Str("device_id", deviceID).Uint64("generation", gen).Uint64("current_generation", current).Msg("discarding status update for stale map")
		return Transition{}, false
	}
	d, ok := s.devices[deviceID]
	if !ok {
		s.mu.Unlock()
		s.log.Warn().Str("device_id", deviceID).Msg("discarding status update for unknown device")
		return Transition{}, false
	}

	at := snap.Result.CheckedAt
	if at.IsZero() {
		at = time.Now()
	}
	prev := d.Status
	d.Status = snap.Status
	d.LastCheckRawOutput = snap.Result.RawOutput
	d.FailureReason = snap.FailureReason
	loss := snap.Result.PacketLossPct
	d.LastPacketLossPct = &loss
	if snap.Result.Succeeded {
		seen := at
		d.LastSeenAt = &seen
		if snap.Result.LatencyMs != nil {
			v := *snap.Result.LatencyMs
			d.LastAvgLatencyMs = &v
		}
	} else {
		d.LastAvgLatencyMs = nil
	}
	s.devices[deviceID] = d
	mapID := s.m.ID
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeStatus, Generation: gen, ID: deviceID})
	return Transition{
		MapID:    mapID,
		DeviceID: deviceID,
		Previous: prev,
		Current:  d.Status,
		At:       at,
		Device:   d.Clone(),
	}, true
}
