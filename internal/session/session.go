// Package session owns the lifecycle of the one open map: its graph store,
// its polling tasks and its animation tick.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"ampnm/core-go/internal/access"
	"ampnm/core-go/internal/model"
	"ampnm/core-go/internal/topology"
)

// Store is the remote persistence the session reads from and writes through.
type Store interface {
	topology.Loader
	GetMaps(ctx context.Context) ([]model.Map, error)
	CreateMap(ctx context.Context, m model.Map) (model.Map, error)
	UpdateMap(ctx context.Context, id string, u model.MapUpdate) (model.Map, error)
	DeleteMap(ctx context.Context, id string) error
	CreateDevice(ctx context.Context, d model.Device) (model.Device, error)
	UpdateDevice(ctx context.Context, id string, u model.DeviceUpdate) (model.Device, error)
	DeleteDevice(ctx context.Context, id string) error
	CreateEdge(ctx context.Context, e model.Connection) (model.Connection, error)
	UpdateEdge(ctx context.Context, id string, ct model.ConnectionType) (model.Connection, error)
	DeleteEdge(ctx context.Context, id string) error
	ImportMap(ctx context.Context, mapID string, devices []model.Device, edges []model.Connection) error
}

// Poller is the slice of poller.Poller the session drives.
type Poller interface {
	Start(ctx context.Context, gen uint64, devices []model.Device)
	Sync(d model.Device)
	Remove(deviceID string)
	Stop()
	CheckNow(ctx context.Context, deviceID string) (model.Device, error)
	RefreshAll(ctx context.Context, devices []model.Device) (int, error)
}

// Animator is the slice of animator.Animator the session drives.
type Animator interface {
	Start(ctx context.Context)
	Stop()
}

type State int

const (
	Closed State = iota
	Loading
	Open
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Open:
		return "open"
	default:
		return "closed"
	}
}

type nopAnimator struct{}

func (nopAnimator) Start(context.Context) {}
func (nopAnimator) Stop() {}

type Session struct {
	log      zerolog.Logger
	store    Store
	graph    *topology.Store
	poller   Poller
	animator Animator

	// lifecycle serialises Open, Close and reloads.
	lifecycle sync.Mutex

	mu     sync.RWMutex
	state  State
	mapID  string
	cancel context.CancelFunc
}

func New(log zerolog.Logger, store Store, graph *topology.Store, p Poller, a Animator) *Session {
	if a == nil {
		a = nopAnimator{}
	}
	return &Session{
		log:      log,
		store:    store,
		graph:    graph,
		poller:   p,
		animator: a,
	}
}

// State returns the lifecycle state and the id of the open (or loading) map.
func (s *Session) State() (State, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.mapID
}

func (s *Session) setState(st State, mapID string) {
	s.mu.Lock()
	s.state = st
	s.mapID = mapID
	s.mu.Unlock()
}

// Graph exposes the graph store of the session.
func (s *Session) Graph() *topology.Store { return s.graph }

// Open closes any open map and loads mapID. On failure the session is Closed
// and a *model.LoadError is returned.
func (s *Session) Open(ctx context.Context, gate access.Gate, mapID string) error {
	if err := gate.Check(access.Read, "open map"); err != nil {
		return err
	}
	mapID = strings.TrimSpace(mapID)
	if mapID == "" {
		return model.Invalid("map_id", "required")
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stopLocked()
	s.setState(Loading, mapID)

	if err := s.startLocked(ctx, mapID); err != nil {
		s.graph.Reset()
		s.setState(Closed, "")
		s.log.Warn().Err(err).Str("map_id", mapID).Msg("map load failed")
		return err
	}
	s.setState(Open, mapID)
	s.log.Info().Str("map_id", mapID).Msg("map opened")
	return nil
}

func (s *Session) startLocked(ctx context.Context, mapID string) error {
	gen, err := s.graph.Load(ctx, mapID, s.store)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.poller.Start(runCtx, gen, s.graph.Snapshot().Devices)
	s.animator.Start(runCtx)
	return nil
}

// Close stops polling and animation and discards the graph.
func (s *Session) Close() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	st, mapID := s.State()
	s.stopLocked()
	s.graph.Reset()
	s.setState(Closed, "")
	if st != Closed {
		s.log.Info().Str("map_id", mapID).Msg("map closed")
	}
}

func (s *Session) stopLocked() {
	s.poller.Stop()
	s.animator.Stop()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

// reload re-fetches the open map after a bulk change such as an import.
func (s *Session) reload(ctx context.Context, mapID string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if st, open := s.State(); st != Open || open != mapID {
		return nil
	}
	s.stopLocked()
	s.setState(Loading, mapID)
	if err := s.startLocked(ctx, mapID); err != nil {
		s.graph.Reset()
		s.setState(Closed, "")
		return err
	}
	s.setState(Open, mapID)
	return nil
}

// openMap returns the open map id and the graph generation mutations are
// applied against.
func (s *Session) openMap() (string, uint64, error) {
	st, mapID := s.State()
	if st != Open {
		return "", 0, model.ErrSessionClosed
	}
	return mapID, s.graph.Generation(), nil
}

// applyIfCurrent runs fn only while the graph still holds generation gen.
func (s *Session) applyIfCurrent(gen uint64, what string, fn func()) {
	if s.graph.Generation() != gen {
		s.log.Debug().Str("operation", what).Msg("map changed while waiting for store; skipping local apply")
		return
	}
	fn()
}

func (s *Session) requireDevice(id string) (model.Device, error) {
	d, ok := s.graph.Device(id)
	if !ok {
		return model.Device{}, fmt.Errorf("device %s: %w", id, model.ErrNotFound)
	}
	return d, nil
}

func (s *Session) requireConnection(id string) (model.Connection, error) {
	c, ok := s.graph.Connection(id)
	if !ok {
		return model.Connection{}, fmt.Errorf("connection %s: %w", id, model.ErrNotFound)
	}
	return c, nil
}
