package topology

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ampnm/core-go/internal/health"
	"ampnm/core-go/internal/model"
)

type fakeLoader struct {
	getMapFn     func(ctx context.Context, mapID string) (model.Map, error)
	getDevicesFn func(ctx context.Context, mapID string) ([]model.Device, error)
	getEdgesFn   func(ctx context.Context, mapID string) ([]model.Connection, error)
}

func (f fakeLoader) GetMap(ctx context.Context, mapID string) (model.Map, error) {
	if f.getMapFn == nil {
		return model.Map{ID: mapID, Name: "map " + mapID}, nil
	}
	return f.getMapFn(ctx, mapID)
}

func (f fakeLoader) GetDevices(ctx context.Context, mapID string) ([]model.Device, error) {
	if f.getDevicesFn == nil {
		return nil, nil
	}
	return f.getDevicesFn(ctx, mapID)
}

func (f fakeLoader) GetEdges(ctx context.Context, mapID string) ([]model.Connection, error) {
	if f.getEdgesFn == nil {
		return nil, nil
	}
	return f.getEdgesFn(ctx, mapID)
}

func threeDeviceLoader() fakeLoader {
	return fakeLoader{
		getDevicesFn: func(context.Context, string) ([]model.Device, error) {
			return []model.Device{
				{ID: "d1", Name: "core", IP: "10.0.0.1", PingIntervalSeconds: 30},
				{ID: "d2", Name: "edge", IP: "10.0.0.2", PingIntervalSeconds: 30},
				{ID: "d3", Name: "ap", IP: "10.0.0.3"},
			}, nil
		},
		getEdgesFn: func(context.Context, string) ([]model.Connection, error) {
			return []model.Connection{
				{ID: "e1", SourceDeviceID: "d1", TargetDeviceID: "d2", ConnectionType: model.ConnectionCat6},
				{ID: "e2", SourceDeviceID: "d2", TargetDeviceID: "d3", ConnectionType: model.ConnectionWiFi},
				{ID: "e3", SourceDeviceID: "d1", TargetDeviceID: "ghost", ConnectionType: model.ConnectionLAN},
			}, nil
		},
	}
}

func TestLoad_PopulatesAndDropsDanglingEdges(t *testing.T) {
	s := New(zerolog.Nop())
	gen, err := s.Load(context.Background(), "m1", threeDeviceLoader())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	snap := s.Snapshot()
	assert.True(t, snap.Loaded)
	assert.Equal(t, "m1", snap.Map.ID)
	require.Len(t, snap.Devices, 3)
	require.Len(t, snap.Connections, 2)
	for _, d := range snap.Devices {
		assert.Equal(t, model.StatusUnknown, d.Status)
		assert.Equal(t, "m1", d.MapID)
	}
}

func TestLoad_FailureKeepsPreviousContents(t *testing.T) {
	s := New(zerolog.Nop())
	_, err := s.Load(context.Background(), "m1", threeDeviceLoader())
	require.NoError(t, err)
	before := s.Generation()

	boom := errors.New("connection refused")
	_, err = s.Load(context.Background(), "m2", fakeLoader{
		getEdgesFn: func(context.Context, string) ([]model.Connection, error) { return nil, boom },
	})
	require.Error(t, err)
	var le *model.LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "m2", le.MapID)
	assert.ErrorIs(t, err, boom)

	m, ok := s.Map()
	assert.True(t, ok)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, before, s.Generation())
	assert.Len(t, s.Snapshot().Devices, 3)
}

func TestRemoveDevice_CascadesEdges(t *testing.T) {
	s := New(zerolog.Nop())
	_, err := s.Load(context.Background(), "m1", threeDeviceLoader())
	require.NoError(t, err)

	removed := s.RemoveDevice("d2")
	assert.Equal(t, []string{"e1", "e2"}, removed)
	snap := s.Snapshot()
	assert.Len(t, snap.Devices, 2)
	assert.Empty(t, snap.Connections)

	assert.Nil(t, s.RemoveDevice("d2"))
}

func TestUpsertConnection_RequiresEndpoints(t *testing.T) {
	s := New(zerolog.Nop())
	_, err := s.Load(context.Background(), "m1", threeDeviceLoader())
	require.NoError(t, err)

	assert.False(t, s.UpsertConnection(model.Connection{ID: "e9", SourceDeviceID: "d1", TargetDeviceID: "nope"}))
	assert.True(t, s.UpsertConnection(model.Connection{ID: "e9", SourceDeviceID: "d1", TargetDeviceID: "d3", ConnectionType: model.ConnectionFiber}))

	c, ok := s.Connection("e9")
	require.True(t, ok)
	assert.Equal(t, "m1", c.MapID)
	assert.True(t, s.RemoveConnection("e9"))
	assert.False(t, s.RemoveConnection("e9"))
}

func TestUpsertDevice_PreservesStatusFields(t *testing.T) {
	s := New(zerolog.Nop())
	gen, err := s.Load(context.Background(), "m1", threeDeviceLoader())
	require.NoError(t, err)

	latency := 12.0
	_, ok := s.ApplyStatusUpdate(gen, "d1", health.Snapshot{
		Status: model.StatusOnline,
		Result: model.CheckResult{Succeeded: true, LatencyMs: &latency, CheckedAt: time.Now()},
	})
	require.True(t, ok)

	d, _ := s.Device("d1")
	d.Name = "core-renamed"
	d.Status = model.StatusOffline
	s.UpsertDevice(d.Editable())

	got, ok := s.Device("d1")
	require.True(t, ok)
	assert.Equal(t, "core-renamed", got.Name)
	assert.Equal(t, model.StatusOnline, got.Status)
	require.NotNil(t, got.LastAvgLatencyMs)
	assert.Equal(t, 12.0, *got.LastAvgLatencyMs)
}

func TestApplyStatusUpdate(t *testing.T) {
	s := New(zerolog.Nop())
	gen, err := s.Load(context.Background(), "m1", threeDeviceLoader())
	require.NoError(t, err)

	checked := time.Date(2026, 10, 8, 12, 0, 0, 0, time.UTC)
	latency := 450.0
	tr, ok := s.ApplyStatusUpdate(gen, "d1", health.Snapshot{
		Status: model.StatusCritical,
		Result: model.CheckResult{Succeeded: true, LatencyMs: &latency, CheckedAt: checked, RawOutput: "time=450 ms"},
	})
	require.True(t, ok)
	assert.True(t, tr.Changed())
	assert.Equal(t, model.StatusUnknown, tr.Previous)
	assert.Equal(t, model.StatusCritical, tr.Current)
	assert.Equal(t, "m1", tr.MapID)

	d, _ := s.Device("d1")
	require.NotNil(t, d.LastSeenAt)
	assert.True(t, checked.Equal(*d.LastSeenAt))
	assert.Equal(t, "time=450 ms", d.LastCheckRawOutput)

	tr, ok = s.ApplyStatusUpdate(gen, "d1", health.Snapshot{
		Status:        model.StatusOffline,
		Result:        model.CheckResult{Succeeded: false, PacketLossPct: 100, CheckedAt: checked.Add(time.Minute)},
		FailureReason: "Request timed out.",
	})
	require.True(t, ok)
	assert.Equal(t, model.StatusCritical, tr.Previous)
	d, _ = s.Device("d1")
	assert.Nil(t, d.LastAvgLatencyMs)
	assert.True(t, checked.Equal(*d.LastSeenAt), "last seen only moves on success")
	assert.Equal(t, "Request timed out.", d.FailureReason)
}

func TestApplyStatusUpdate_DropsStaleAndUnknown(t *testing.T) {
	s := New(zerolog.Nop())
	oldGen, err := s.Load(context.Background(), "m1", threeDeviceLoader())
	require.NoError(t, err)
	_, err = s.Load(context.Background(), "m2", threeDeviceLoader())
	require.NoError(t, err)

	_, ok := s.ApplyStatusUpdate(oldGen, "d1", health.Snapshot{Status: model.StatusOffline})
	assert.False(t, ok)
	d, _ := s.Device("d1")
	assert.Equal(t, model.StatusUnknown, d.Status)

	_, ok = s.ApplyStatusUpdate(s.Generation(), "ghost", health.Snapshot{Status: model.StatusOffline})
	assert.False(t, ok)

	gen := s.Generation()
	s.Reset()
	_, ok = s.ApplyStatusUpdate(gen, "d1", health.Snapshot{Status: model.StatusOnline})
	assert.False(t, ok)
	_, loaded := s.Map()
	assert.False(t, loaded)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	s := New(zerolog.Nop())
	gen, err := s.Load(context.Background(), "m1", threeDeviceLoader())
	require.NoError(t, err)
	latency := 5.0
	_, _ = s.ApplyStatusUpdate(gen, "d1", health.Snapshot{
		Status: model.StatusOnline,
		Result: model.CheckResult{Succeeded: true, LatencyMs: &latency},
	})

	snap := s.Snapshot()
	*snap.Devices[0].LastAvgLatencyMs = 999
	snap.Devices[0].Name = "mutated"

	d, _ := s.Device("d1")
	assert.Equal(t, 5.0, *d.LastAvgLatencyMs)
	assert.Equal(t, "core", d.Name)
}

func TestObserve_ReceivesChanges(t *testing.T) {
	s := New(zerolog.Nop())
	var mu sync.Mutex
	var kinds []ChangeKind
	s.Observe(func(c Change) {
		mu.Lock()
		kinds = append(kinds, c.Kind)
		mu.Unlock()
	})

	_, err := s.Load(context.Background(), "m1", threeDeviceLoader())
	require.NoError(t, err)
	s.RemoveConnection("e1")
	s.Reset()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ChangeKind{ChangeLoaded, ChangeEdgeRemoved, ChangeReset}, kinds)
}

func TestConcurrentUpdatesAndReads(t *testing.T) {
	s := New(zerolog.Nop())
	gen, err := s.Load(context.Background(), "m1", threeDeviceLoader())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.ApplyStatusUpdate(gen, "d1", health.Snapshot{Status: model.StatusOnline, Result: model.CheckResult{Succeeded: true}})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Snapshot()
			}
		}()
	}
	wg.Wait()

	d, _ := s.Device("d1")
	assert.Equal(t, model.StatusOnline, d.Status)
}
