// Package animator turns graph snapshots into edge and node rendering
// instructions on a steady tick.
package animator

import (
	"math"

	"ampnm/core-go/internal/model"
	"ampnm/core-go/internal/topology"
)

// EdgeStyle is the rendering mode chosen for one connection.
type EdgeStyle string

const (
	StyleSolid   EdgeStyle = "solid"
	StyleFlow    EdgeStyle = "flow"
	StyleDashed  EdgeStyle = "dashed"
	StyleOffline EdgeStyle = "offline"
)

const OfflineColor = "#ef4444"

var (
	// FlowDash is the dash pattern of animated edges; the offset wraps at its length.
	FlowDash     = []float64{10, 6}
	WirelessDash = []float64{5, 5}
	OfflineDash  = []float64{4, 4}
)

var baseColors = map[model.ConnectionType]string{
	model.ConnectionCat5:          "#a78bfa",
	model.ConnectionCat6:          "#8b5cf6",
	model.ConnectionFiber:         "#f97316",
	model.ConnectionLAN:           "#60a5fa",
	model.ConnectionWiFi:          "#38bdf8",
	model.ConnectionRadio:         "#84cc16",
	model.ConnectionLogicalTunnel: "#c084fc",
}

const defaultColor = "#94a3b8"

// BaseColor returns the legend colour of a connection type.
func BaseColor(t model.ConnectionType) string {
	if c, ok := baseColors[t]; ok {
		return c
	}
	return defaultColor
}

var statusColors = map[model.Status]string{
	model.StatusOnline:   "#22c55e",
	model.StatusWarning:  "#f59e0b",
	model.StatusCritical: "#ef4444",
	model.StatusOffline:  "#64748b",
	model.StatusUnknown:  "#94a3b8",
}

type EdgeInstruction struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Type       string    `json:"connection_type"`
	Style      EdgeStyle `json:"style"`
	Color      string    `json:"color"`
	Dashes     []float64 `json:"dashes,omitempty"`
	DashOffset float64   `json:"dash_offset"`
}

type NodeInstruction struct {
	ID       string       `json:"id"`
	Label    string       `json:"label"`
	X        float64      `json:"x"`
	Y        float64      `json:"y"`
	Status   model.Status `json:"status"`
	Color    string       `json:"color"`
	IconURL  string       `json:"icon_url,omitempty"`
	LivePing *float64     `json:"live_ping_ms,omitempty"`
}

// Frame is one complete set of rendering instructions.
type Frame struct {
	MapID      string            `json:"map_id"`
	Generation uint64            `json:"generation"`
	Phase      float64           `json:"phase"`
	Nodes      []NodeInstruction `json:"nodes"`
	Edges      []EdgeInstruction `json:"edges"`
}

func patternLength(p []float64) float64 {
	var n float64
	for _, v := range p {
		n += v
	}
	return n
}

// Compute derives a frame from snap. It has no side effects.
//
// Per edge: an offline endpoint wins, then wireless types get a static dash,
// then two online endpoints get the flowing dash, otherwise the edge is solid.
func Compute(snap topology.Snapshot, phase float64) Frame {
	f := Frame{
		MapID:      snap.Map.ID,
		Generation: snap.Generation,
		Phase:      phase,
		Nodes:      make([]NodeInstruction, 0, len(snap.Devices)),
		Edges:      make([]EdgeInstruction, 0, len(snap.Connections)),
	}

	status := make(map[string]model.Status, len(snap.Devices))
	for _, d := range snap.Devices {
		st := d.Status
		if st == "" {
			st = model.StatusUnknown
		}
		status[d.ID] = st
		n := NodeInstruction{
			ID:      d.ID,
			Label:   d.Name,
			X:       d.X,
			Y:       d.Y,
			Status:  st,
			Color:   statusColors[st],
			IconURL: d.IconURL,
		}
		if d.ShowLivePing && d.LastAvgLatencyMs != nil {
			v := *d.LastAvgLatencyMs
			n.LivePing = &v
		}
		f.Nodes = append(f.Nodes, n)
	}

	flowLen := patternLength(FlowDash)
	offset := 0.0
	if flowLen > 0 {
		offset = math.Mod(phase, flowLen)
		if offset < 0 {
			offset += flowLen
		}
	}

	for _, c := range snap.Connections {
		src, srcOK := status[c.SourceDeviceID]
		dst, dstOK := status[c.TargetDeviceID]
		if !srcOK || !dstOK {
			continue
		}
		e := EdgeInstruction{
			ID:   c.ID,
			From: c.SourceDeviceID,
			To:   c.TargetDeviceID,
			Type: string(c.ConnectionType),
		}
		switch {
		case src == model.StatusOffline || dst == model.StatusOffline:
			e.Style = StyleOffline
			e.Color = OfflineColor
			e.Dashes = OfflineDash
		case c.ConnectionType.Wireless():
			e.Style = StyleDashed
			e.Color = BaseColor(c.ConnectionType)
			e.Dashes = WirelessDash
		case src == model.StatusOnline && dst == model.StatusOnline:
			e.Style = StyleFlow
			e.Color = BaseColor(c.ConnectionType)
			e.Dashes = FlowDash
			e.DashOffset = offset
		default:
			e.Style = StyleSolid
			e.Color = BaseColor(c.ConnectionType)
		}
		f.Edges = append(f.Edges, e)
	}
	return f
}
