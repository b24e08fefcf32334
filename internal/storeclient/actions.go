package storeclient

import (
	"context"
	"fmt"
	"time"

	"ampnm/core-go/internal/model"
)

type mapIDRequest struct {
	MapID string `json:"map_id"`
}

type idRequest struct {
	ID string `json:"id"`
}

type updateMapRequest struct {
	ID      string          `json:"id"`
	Updates model.MapUpdate `json:"updates"`
}

type updateDeviceRequest struct {
	ID      string             `json:"id"`
	Updates model.DeviceUpdate `json:"updates"`
}

type updateEdgeRequest struct {
	ID             string               `json:"id"`
	ConnectionType model.ConnectionType `json:"connection_type"`
}

type importMapRequest struct {
	MapID   string             `json:"map_id"`
	Devices []model.Device     `json:"devices"`
	Edges   []model.Connection `json:"edges"`
}

type statusLogsRequest struct {
	MapID    string    `json:"map_id"`
	DeviceID string    `json:"device_id,omitempty"`
	Since    time.Time `json:"since"`
}

func (c *Client) GetMaps(ctx context.Context) ([]model.Map, error) {
	var out []model.Map
	if err := c.call(ctx, "get_maps", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMap finds one map in the get_maps listing.
func (c *Client) GetMap(ctx context.Context, mapID string) (model.Map, error) {
	maps, err := c.GetMaps(ctx)
	if err != nil {
		return model.Map{}, err
	}
	for _, m := range maps {
		if m.ID == mapID {
			return m, nil
		}
	}
	return model.Map{}, fmt.Errorf("map %s: %w", mapID, model.ErrNotFound)
}

func (c *Client) CreateMap(ctx context.Context, m model.Map) (model.Map, error) {
	var out model.Map
	if err := c.call(ctx, "create_map", m, &out); err != nil {
		return model.Map{}, err
	}
	return out, nil
}

func (c *Client) UpdateMap(ctx context.Context, id string, u model.MapUpdate) (model.Map, error) {
	var out model.Map
	if err := c.call(ctx, "update_map", updateMapRequest{ID: id, Updates: u}, &out); err != nil {
		return model.Map{}, err
	}
	return out, nil
}

func (c *Client) DeleteMap(ctx context.Context, id string) error {
	return c.call(ctx, "delete_map", idRequest{ID: id}, nil)
}

func (c *Client) GetDevices(ctx context.Context, mapID string) ([]model.Device, error) {
	var out []model.Device
	if err := c.call(ctx, "get_devices", mapIDRequest{MapID: mapID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateDevice(ctx context.Context, d model.Device) (model.Device, error) {
	var out model.Device
	if err := c.call(ctx, "create_device", d.Editable(), &out); err != nil {
		return model.Device{}, err
	}
	return out, nil
}

func (c *Client) UpdateDevice(ctx context.Context, id string, u model.DeviceUpdate) (model.Device, error) {
	var out model.Device
	if err := c.call(ctx, "update_device", updateDeviceRequest{ID: id, Updates: u}, &out); err != nil {
		return model.Device{}, err
	}
	return out, nil
}

func (c *Client) DeleteDevice(ctx context.Context, id string) error {
	return c.call(ctx, "delete_device", idRequest{ID: id}, nil)
}

func (c *Client) GetEdges(ctx context.Context, mapID string) ([]model.Connection, error) {
	var out []model.Connection
	if err := c.call(ctx, "get_edges", mapIDRequest{MapID: mapID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateEdge(ctx context.Context, e model.Connection) (model.Connection, error) {
	var out model.Connection
	if err := c.call(ctx, "create_edge", e, &out); err != nil {
		return model.Connection{}, err
	}
	return out, nil
}

func (c *Client) UpdateEdge(ctx context.Context, id string, ct model.ConnectionType) (model.Connection, error) {
	var out model.Connection
	if err := c.call(ctx, "update_edge", updateEdgeRequest{ID: id, ConnectionType: ct}, &out); err != nil {
		return model.Connection{}, err
	}
	return out, nil
}

func (c *Client) DeleteEdge(ctx context.Context, id string) error {
	return c.call(ctx, "delete_edge", idRequest{ID: id}, nil)
}

// ImportMap replaces every device and edge of mapID.
func (c *Client) ImportMap(ctx context.Context, mapID string, devices []model.Device, edges []model.Connection) error {
	editable := make([]model.Device, 0, len(devices))
	for _, d := range devices {
		editable = append(editable, d.Editable())
	}
	if edges == nil {
		edges = []model.Connection{}
	}
	return c.call(ctx, "import_map", importMapRequest{MapID: mapID, Devices: editable, Edges: edges}, nil)
}

// GetPublicMapData returns the read-only view of a shared map. The store
// refuses maps whose public view is disabled.
func (c *Client) GetPublicMapData(ctx context.Context, mapID string) (model.Graph, error) {
	var out model.Graph
	if err := c.call(ctx, "get_public_map_data", mapIDRequest{MapID: mapID}, &out); err != nil {
		return model.Graph{}, err
	}
	return out, nil
}

// ListStatusEvents returns recorded transitions since the given time.
func (c *Client) ListStatusEvents(ctx context.Context, mapID, deviceID string, since time.Time) ([]model.StatusEvent, error) {
	var out []model.StatusEvent
	req := statusLogsRequest{MapID: mapID, DeviceID: deviceID, Since: since.UTC()}
	if err := c.call(ctx, "get_status_logs", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}
