package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ampnm/core-go/internal/model"
	"ampnm/core-go/internal/probe"
	"ampnm/core-go/internal/topology"
)

func ms(v float64) *float64 { return &v }

func okProber(latency float64) probe.ProberFunc {
	return func(context.Context, probe.Target) model.CheckResult {
		return model.CheckResult{Succeeded: true, LatencyMs: ms(latency), CheckedAt: time.Now()}
	}
}

func loadStore(t *testing.T, mapID string, devices ...model.Device) (*topology.Store, uint64) {
	t.Helper()
	s := topology.New(zerolog.Nop())
	gen := s.Replace(model.Map{ID: mapID, Name: mapID}, devices, nil)
	return s, gen
}

func newPoller(t *testing.T, s Store, pr probe.Prober, sinks ...TransitionSink) *Poller {
	t.Helper()
	p, err := New(zerolog.Nop(), s, pr, Options{ProbeTimeout: time.Second, Workers: 16}, nil, sinks...)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func device(id, ip string, interval int) model.Device {
	return model.Device{ID: id, Name: id, IP: ip, PingIntervalSeconds: interval}
}

func TestNew_requiresCollaborators(t *testing.T) {
	_, err := New(zerolog.Nop(), nil, okProber(1), Options{}, nil)
	assert.Error(t, err)
	s, _ := loadStore(t, "m1")
	_, err = New(zerolog.Nop(), s, nil, Options{}, nil)
	assert.Error(t, err)
}

func TestStart_onlyPollableDevicesGetTasks(t *testing.T) {
	devices := []model.Device{
		device("d1", "10.0.0.1", 30),
		device("d2", "", 30),
		device("d3", "10.0.0.3", 0),
		{ID: "d4", Name: "d4", IP: "10.0.0.4", PingIntervalSeconds: 30, MonitorMethod: model.MonitorPort},
		{ID: "d5", Name: "d5", IP: "10.0.0.5", PingIntervalSeconds: 30, MonitorMethod: model.MonitorPort, CheckPort: 443},
	}
	s, gen := loadStore(t, "m1", devices...)

	var mu sync.Mutex
	probed := map[string]probe.Target{}
	p := newPoller(t, s, probe.ProberFunc(func(_ context.Context, tg probe.Target) model.CheckResult {
		mu.Lock()
		probed[tg.DeviceID] = tg
		mu.Unlock()
		return model.CheckResult{Succeeded: true, LatencyMs: ms(5)}
	}))

	p.Start(context.Background(), gen, devices)
	assert.Equal(t, 2, p.Tasks())

	require.Eventually(t, func() bool {
		d1, _ := s.Device("d1")
		d5, _ := s.Device("d5")
		return d1.Status == model.StatusOnline && d5.Status == model.StatusOnline
	}, 2*time.Second, 10*time.Millisecond)

	d4, _ := s.Device("d4")
	assert.Equal(t, model.StatusUnknown, d4.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, probed, 2)
	assert.Equal(t, model.MonitorPort, probed["d5"].Method)
	assert.Equal(t, 443, probed["d5"].Port)
	assert.Equal(t, time.Second, probed["d1"].Timeout)
}

func TestTarget_timeoutCappedByInterval(t *testing.T) {
	s, _ := loadStore(t, "m1")
	p, err := New(zerolog.Nop(), s, okProber(1), Options{ProbeTimeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	defer p.Close()

	tg, err := p.target(device("d1", "10.0.0.1", 2))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, tg.Timeout)
	assert.Equal(t, model.MonitorPing, tg.Method)

	_, err = p.target(model.Device{ID: "d2", IP: "10.0.0.2", MonitorMethod: model.MonitorPort})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestScenarioB_mapSwitchDiscardsInFlightResults(t *testing.T) {
	var m1 []model.Device
	for _, id := range []string{"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8", "a9"} {
		m1 = append(m1, device(id, "10.1.0.1", 30))
	}
	m2 := []model.Device{device("b0", "10.2.0.1", 30)}

	s, gen1 := loadStore(t, "m1", m1...)

	release := make(chan struct{})
	var started atomic.Int32
	pr := probe.ProberFunc(func(_ context.Context, tg probe.Target) model.CheckResult {
		if tg.Host == "10.1.0.1" {
			started.Add(1)
			<-release
		}
		return model.CheckResult{Succeeded: true, LatencyMs: ms(1)}
	})
	p := newPoller(t, s, pr)

	var mu sync.Mutex
	var statusIDs []string
	s.Observe(func(c topology.Change) {
		if c.Kind == topology.ChangeStatus {
			mu.Lock()
			statusIDs = append(statusIDs, c.ID)
			mu.Unlock()
		}
	})

	p.Start(context.Background(), gen1, m1)
	require.Eventually(t, func() bool { return started.Load() == 10 }, 2*time.Second, 5*time.Millisecond)

	gen2 := s.Replace(model.Map{ID: "m2"}, m2, nil)
	p.Start(context.Background(), gen2, m2)
	close(release)

	require.Eventually(t, func() bool {
		d, _ := s.Device("b0")
		return d.Status == model.StatusOnline
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"b0"}, statusIDs)
	assert.Equal(t, 1, p.Tasks())
}

func TestSync_restartsOnlyChangedTask(t *testing.T) {
	devices := []model.Device{device("d1", "10.0.0.1", 30), device("d2", "10.0.0.2", 30)}
	s, gen := loadStore(t, "m1", devices...)
	p := newPoller(t, s, okProber(1))
	p.Start(context.Background(), gen, devices)

	p.mu.Lock()
	before1, before2 := p.tasks["d1"], p.tasks["d2"]
	p.mu.Unlock()

	changed := devices[0]
	changed.PingIntervalSeconds = 60
	p.Sync(changed)

	renamed := devices[1]
	renamed.Name = "renamed"
	renamed.Thresholds = model.Thresholds{WarnLatencyMs: 10}
	p.Sync(renamed)

	p.mu.Lock()
	after1, after2 := p.tasks["d1"], p.tasks["d2"]
	p.mu.Unlock()
	assert.NotSame(t, before1, after1)
	assert.Same(t, before2, after2)

	cleared := devices[1]
	cleared.IP = ""
	p.Sync(cleared)
	assert.Equal(t, 1, p.Tasks())

	p.Remove("d1")
	assert.Equal(t, 0, p.Tasks())

	p.Sync(device("d3", "10.0.0.3", 30))
	assert.Equal(t, 1, p.Tasks())
}

func TestTick_skipsWhileInFlight(t *testing.T) {
	s, gen := loadStore(t, "m1", device("d1", "10.0.0.1", 30))
	var calls atomic.Int32
	p := newPoller(t, s, probe.ProberFunc(func(context.Context, probe.Target) model.CheckResult {
		calls.Add(1)
		return model.CheckResult{Succeeded: true}
	}))

	tk := newTask(taskKey{}, func() {})
	require.True(t, tk.tryClaim())
	p.tick(context.Background(), gen, "d1", tk)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	tk.release()
	p.tick(context.Background(), gen, "d1", tk)
	require.Eventually(t, func() bool { return calls.Load() == 1 && !tk.inFlight() }, time.Second, 5*time.Millisecond)
}

func TestCheckNow_waitsForScheduledProbe(t *testing.T) {
	d := device("d1", "10.0.0.1", 30)
	s, gen := loadStore(t, "m1", d)

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	var calls atomic.Int32
	p := newPoller(t, s, probe.ProberFunc(func(context.Context, probe.Target) model.CheckResult {
		if calls.Add(1) == 1 {
			entered <- struct{}{}
			<-release
			return model.CheckResult{Succeeded: false, PacketLossPct: 100, RawOutput: "Request timed out."}
		}
		return model.CheckResult{Succeeded: true, LatencyMs: ms(2)}
	}))
	p.Start(context.Background(), gen, []model.Device{d})
	<-entered

	done := make(chan model.Device, 1)
	go func() {
		got, err := p.CheckNow(context.Background(), "d1")
		assert.NoError(t, err)
		done <- got
	}()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	close(release)

	select {
	case got := <-done:
		assert.Equal(t, model.StatusOnline, got.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("CheckNow did not return")
	}
	cur, _ := s.Device("d1")
	assert.Equal(t, model.StatusOnline, cur.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefreshAll_sharesWorkerBoundWithSchedule(t *testing.T) {
	var devices []model.Device
	for _, id := range []string{"d1", "d2", "d3", "d4", "d5", "d6"} {
		devices = append(devices, device(id, "10.0.0.1", 30))
	}
	s, gen := loadStore(t, "m1", devices...)

	var cur, peak atomic.Int32
	p, err := New(zerolog.Nop(), s, probe.ProberFunc(func(context.Context, probe.Target) model.CheckResult {
		n := cur.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		cur.Add(-1)
		return model.CheckResult{Succeeded: true, LatencyMs: ms(1)}
	}), Options{ProbeTimeout: time.Second, Workers: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	p.Start(context.Background(), gen, devices)
	n, err := p.RefreshAll(context.Background(), devices)
	require.NoError(t, err)
	assert.Equal(t, len(devices), n)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCheckNow(t *testing.T) {
	d := device("d1", "10.0.0.1", 0)
	d.Thresholds = model.Thresholds{WarnLatencyMs: 100, CritLatencyMs: 300}
	s, gen := loadStore(t, "m1", d, model.Device{ID: "d2", Name: "d2", IP: "10.0.0.2", MonitorMethod: model.MonitorPort})

	p := newPoller(t, s, okProber(450))

	_, err := p.CheckNow(context.Background(), "d1")
	assert.ErrorIs(t, err, model.ErrSessionClosed)

	p.Start(context.Background(), gen, nil)
	got, err := p.CheckNow(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCritical, got.Status)
	require.NotNil(t, got.LastAvgLatencyMs)
	assert.Equal(t, 450.0, *got.LastAvgLatencyMs)

	_, err = p.CheckNow(context.Background(), "d2")
	assert.ErrorIs(t, err, model.ErrValidation)
	d2, _ := s.Device("d2")
	assert.Equal(t, model.StatusUnknown, d2.Status)

	_, err = p.CheckNow(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRefreshAll_probesEveryPollableDevice(t *testing.T) {
	devices := []model.Device{
		device("d1", "10.0.0.1", 30),
		device("d2", "10.0.0.2", 30),
		device("d3", "", 30),
	}
	s, gen := loadStore(t, "m1", devices...)

	var calls atomic.Int32
	p := newPoller(t, s, probe.ProberFunc(func(context.Context, probe.Target) model.CheckResult {
		calls.Add(1)
		return model.CheckResult{Succeeded: false, PacketLossPct: 100, RawOutput: "Request timed out."}
	}))
	p.Start(context.Background(), gen, nil)

	n, err := p.RefreshAll(context.Background(), devices)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(2), calls.Load())

	d1, _ := s.Device("d1")
	assert.Equal(t, model.StatusOffline, d1.Status)
	assert.Equal(t, "Request timed out.", d1.FailureReason)
}

func TestTransitionsReachSinks(t *testing.T) {
	s, gen := loadStore(t, "m1", device("d1", "10.0.0.1", 0))

	var got []topology.Transition
	sinkErr := errors.New("nats down")
	p := newPoller(t, s, okProber(1),
		SinkFunc(func(_ context.Context, tr topology.Transition) error {
			got = append(got, tr)
			return nil
		}),
		SinkFunc(func(context.Context, topology.Transition) error { return sinkErr }),
	)
	p.Start(context.Background(), gen, nil)

	_, err := p.CheckNow(context.Background(), "d1")
	require.NoError(t, err)
	_, err = p.CheckNow(context.Background(), "d1")
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, model.StatusUnknown, got[0].Previous)
	assert.Equal(t, model.StatusOnline, got[0].Current)
	assert.Equal(t, "m1", got[0].MapID)
}

func TestStop_dropsLateResults(t *testing.T) {
	s, gen := loadStore(t, "m1", device("d1", "10.0.0.1", 30))
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	p := newPoller(t, s, probe.ProberFunc(func(context.Context, probe.Target) model.CheckResult {
		entered <- struct{}{}
		<-release
		return model.CheckResult{Succeeded: true}
	}))
	p.Start(context.Background(), gen, []model.Device{device("d1", "10.0.0.1", 30)})
	<-entered

	p.Stop()
	close(release)
	time.Sleep(50 * time.Millisecond)

	d, _ := s.Device("d1")
	assert.Equal(t, model.StatusUnknown, d.Status)
	assert.Equal(t, 0, p.Tasks())
}
