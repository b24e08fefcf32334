package topology

import "ampnm/core-go/internal/model"

// Snapshot is an immutable copy of the store contents.
type Snapshot struct {
	Generation  uint64             `json:"generation"`
	Loaded      bool               `json:"loaded"`
	Map         model.Map          `json:"map"`
	Devices     []model.Device     `json:"devices"`
	Connections []model.Connection `json:"edges"`
}

// DeviceIndex maps device ids to their position in Devices.
func (s Snapshot) DeviceIndex() map[string]int {
	idx := make(map[string]int, len(s.Devices))
	for i, d := range s.Devices {
		idx[d.ID] = i
	}
	return idx
}

// Graph converts the snapshot into the export/import shape.
func (s Snapshot) Graph() model.Graph {
	return model.Graph{Map: s.Map, Devices: s.Devices, Connections: s.Connections}
}
