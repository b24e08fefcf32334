// Package share toggles the read-only public view of a map and serves it.
package share

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"ampnm/core-go/internal/access"
	"ampnm/core-go/internal/model"
	"ampnm/core-go/internal/topology"
)

// MapUpdater is satisfied by *session.Session.
type MapUpdater interface {
	UpdateMap(ctx context.Context, gate access.Gate, id string, u model.MapUpdate) (model.Map, error)
}

type PublicSource interface {
	GetPublicMapData(ctx context.Context, mapID string) (model.Graph, error)
}

// LiveGraph is the open map's graph store.
type LiveGraph interface {
	Snapshot() topology.Snapshot
}

// Link is the public state of one map.
type Link struct {
	MapID   string `json:"map_id"`
	Enabled bool   `json:"public_view_enabled"`
	URL     string `json:"url"`
}

type Manager struct {
	log    zerolog.Logger
	origin string
	maps   MapUpdater
	public PublicSource
	live   LiveGraph
}

// New returns a Manager rendering links under origin (scheme://host[:port]).
// live may be nil.
func New(log zerolog.Logger, origin string, maps MapUpdater, public PublicSource, live LiveGraph) *Manager {
	return &Manager{
		log:    log,
		origin: strings.TrimRight(strings.TrimSpace(origin), "/"),
		maps:   maps,
		public: public,
		live:   live,
	}
}

// URL renders the share link of mapID. The same id always yields the same URL.
func (m *Manager) URL(mapID string) string {
	return URL(m.origin, mapID)
}

func URL(origin, mapID string) string {
	origin = strings.TrimRight(origin, "/")
	return origin + "/public_map.php?map_id=" + url.QueryEscape(mapID)
}

// Enable turns on the public view of mapID. Enabling an already public map
// succeeds and leaves it public.
func (m *Manager) Enable(ctx context.Context, gate access.Gate, mapID string) (Link, error) {
	return m.set(ctx, gate, mapID, true)
}

// Disable turns off the public view of mapID. It is idempotent.
func (m *Manager) Disable(ctx context.Context, gate access.Gate, mapID string) (Link, error) {
	return m.set(ctx, gate, mapID, false)
}

func (m *Manager) set(ctx context.Context, gate access.Gate, mapID string, enabled bool) (Link, error) {
	if err := gate.Check(access.Mutate, "toggle public view"); err != nil {
		return Link{}, err
	}
	mapID = strings.TrimSpace(mapID)
	if mapID == "" {
		return Link{}, model.Invalid("map_id", "required")
	}
	if _, err := m.maps.UpdateMap(ctx, gate, mapID, model.MapUpdate{PublicViewEnabled: &enabled}); err != nil {
		return Link{}, err
	}
	m.log.Info().Str("map_id", mapID).Bool("public_view_enabled", enabled).Msg("public view updated")

	link := Link{MapID: mapID, Enabled: enabled}
	if enabled {
		link.URL = m.URL(mapID)
	}
	return link, nil
}

// PublicView returns the read-only graph of a shared map. A map whose public
// view is disabled is refused with model.ErrPermissionDenied.
func (m *Manager) PublicView(ctx context.Context, mapID string) (model.Graph, error) {
	mapID = strings.TrimSpace(mapID)
	if mapID == "" {
		return model.Graph{}, model.Invalid("map_id", "required")
	}
	g, err := m.public.GetPublicMapData(ctx, mapID)
	if err != nil {
		var re *model.RemoteError
		if errors.As(err, &re) {
			return model.Graph{}, fmt.Errorf("public view of map %s: %s: %w", mapID, re.Message, model.ErrPermissionDenied)
		}
		return model.Graph{}, err
	}
	if g.Map.ID == "" {
		g.Map.ID = mapID
	}
	if g.Devices == nil {
		g.Devices = []model.Device{}
	}
	if g.Connections == nil {
		g.Connections = []model.Connection{}
	}
	m.overlay(&g)
	return g, nil
}

// overlay replaces stored statuses with live ones when mapID is the open map.
func (m *Manager) overlay(g *model.Graph) {
	if m.live == nil {
		return
	}
	snap := m.live.Snapshot()
	if !snap.Loaded || snap.Map.ID != g.Map.ID {
		return
	}
	idx := snap.DeviceIndex()
	for i, d := range g.Devices {
		j, ok := idx[d.ID]
		if !ok {
			continue
		}
		cur := snap.Devices[j]
		d.Status = cur.Status
		d.LastSeenAt = cur.LastSeenAt
		d.LastAvgLatencyMs = cur.LastAvgLatencyMs
		d.LastPacketLossPct = cur.LastPacketLossPct
		d.LastCheckRawOutput = cur.LastCheckRawOutput
		d.FailureReason = cur.FailureReason
		g.Devices[i] = d
	}
}
