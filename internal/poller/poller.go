// Package poller keeps one probing task per pollable device of the open map.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"ampnm/core-go/internal/health"
	"ampnm/core-go/internal/metrics"
	"ampnm/core-go/internal/model"
	"ampnm/core-go/internal/probe"
	"ampnm/core-go/internal/topology"
)

// Store is the part of the graph store the poller reads and writes.
type Store interface {
	Device(id string) (model.Device, bool)
	ApplyStatusUpdate(gen uint64, deviceID string, snap health.Snapshot) (topology.Transition, bool)
}

// TransitionSink receives every applied status change.
type TransitionSink interface {
	RecordTransition(ctx context.Context, tr topology.Transition) error
}

// SinkFunc adapts a function to TransitionSink.
type SinkFunc func(ctx context.Context, tr topology.Transition) error

func (f SinkFunc) RecordTransition(ctx context.Context, tr topology.Transition) error {
	return f(ctx, tr)
}

type Options struct {
	// ProbeTimeout caps every probe; the device interval caps it further.
	ProbeTimeout time.Duration
	// Workers bounds in-flight probes across all devices, scheduled and manual.
	Workers int
	// RateLimit is probes per second across all devices; zero disables it.
	RateLimit float64
	RateBurst int
	// SinkTimeout bounds each TransitionSink call.
	SinkTimeout time.Duration
}

type Poller struct {
	log     zerolog.Logger
	store   Store
	prober  probe.Prober
	metrics *metrics.Metrics
	sinks   []TransitionSink

	probeTimeout time.Duration
	sinkTimeout  time.Duration
	workers      int
	pool         *ants.Pool
	slots        *semaphore.Weighted
	limiter      *rate.Limiter

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	gen     uint64
	tasks   map[string]*task
	stopped bool
}

type task struct {
	key    taskKey
	cancel context.CancelFunc
	// busy holds a token while a probe of the device is in flight.
	busy chan struct{}
}

func newTask(key taskKey, cancel context.CancelFunc) *task {
	return &task{key: key, cancel: cancel, busy: make(chan struct{}, 1)}
}

func (t *task) tryClaim() bool {
	select {
	case t.busy <- struct{}{}:
		return true
	default:
		return false
	}
}

func (t *task) claim(ctx context.Context) error {
	select {
	case t.busy <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *task) release() { <-t.busy }

func (t *task) inFlight() bool { return len(t.busy) > 0 }

// taskKey holds the fields whose change requires restarting a device's task.
type taskKey struct {
	host     string
	interval time.Duration
	method   model.MonitorMethod
	port     int
}

func keyFor(d model.Device) (taskKey, bool) {
	if !d.Pollable() {
		return taskKey{}, false
	}
	if d.Method() == model.MonitorPort && d.CheckPort <= 0 {
		return taskKey{}, false
	}
	return taskKey{
		host:     d.IP,
		interval: time.Duration(d.PingIntervalSeconds) * time.Second,
		method:   d.Method(),
		port:     d.CheckPort,
	}, true
}

func New(log zerolog.Logger, store Store, prober probe.Prober, opts Options, m *metrics.Metrics, sinks ...TransitionSink) (*Poller, error) {
	if store == nil {
		return nil, errors.New("poller: store is required")
	}
	if prober == nil {
		return nil, errors.New("poller: prober is required")
	}
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 32
	}
	sinkTimeout := opts.SinkTimeout
	if sinkTimeout <= 0 {
		sinkTimeout = 5 * time.Second
	}

	pool, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("poller: worker pool: %w", err)
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = workers
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	p := &Poller{
		log:          log,
		store:        store,
		prober:       prober,
		metrics:      m,
		probeTimeout: timeout,
		sinkTimeout:  sinkTimeout,
		workers:      workers,
		pool:         pool,
		slots:        semaphore.NewWeighted(int64(workers)),
		limiter:      limiter,
		tasks:        make(map[string]*task),
	}
	for _, s := range sinks {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
	return p, nil
}

// Start cancels any running tasks and starts one per pollable device for the
// store generation gen.
func (p *Poller) Start(ctx context.Context, gen uint64, devices []model.Device) {
	p.mu.Lock()
	p.stopLocked()
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.gen = gen
	p.stopped = false
	for _, d := range devices {
		p.ensureLocked(d)
	}
	n := len(p.tasks)
	p.mu.Unlock()

	p.metrics.SetPollTasks(n)
	p.log.Info().Uint64("generation", gen).Int("tasks", n).Msg("poller started")
}

// Sync reconciles the task for one device after it was created or edited.
// Only a change of address, interval, method or port restarts the task.
func (p *Poller) Sync(d model.Device) {
	p.mu.Lock()
	if p.ctx == nil || p.stopped {
		p.mu.Unlock()
		return
	}
	p.ensureLocked(d)
	n := len(p.tasks)
	p.mu.Unlock()
	p.metrics.SetPollTasks(n)
}

// Remove cancels the task of a deleted device.
func (p *Poller) Remove(deviceID string) {
	p.mu.Lock()
	if t, ok := p.tasks[deviceID]; ok {
		t.cancel()
		delete(p.tasks, deviceID)
	}
	n := len(p.tasks)
	p.mu.Unlock()
	p.metrics.SetPollTasks(n)
}

func (p *Poller) ensureLocked(d model.Device) {
	key, ok := keyFor(d)
	existing, running := p.tasks[d.ID]
	if !ok {
		if running {
			existing.cancel()
			delete(p.tasks, d.ID)
		}
		if d.Pollable() && d.Method() == model.MonitorPort {
			p.log.Warn().Str("device_id", d.ID).Msg("port monitoring without check port; not polling")
		}
		return
	}
	if running && existing.key == key {
		return
	}
	if running {
		existing.cancel()
	}

	ctx, cancel := context.WithCancel(p.ctx)
	t := newTask(key, cancel)
	p.tasks[d.ID] = t
	go p.run(ctx, p.gen, d.ID, t)
}

// Tasks reports the number of scheduled device tasks.
func (p *Poller) Tasks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Stop cancels every task. In-flight probes finish but their results are dropped.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopLocked()
	p.stopped = true
	p.mu.Unlock()
	p.metrics.SetPollTasks(0)
}

func (p *Poller) stopLocked() {
	for id, t := range p.tasks {
		t.cancel()
		delete(p.tasks, id)
	}
	if p.cancel != nil {
		p.cancel()
	}
}

// Close stops the poller and releases the worker pool.
func (p *Poller) Close() {
	p.Stop()
	_ = p.pool.ReleaseTimeout(p.probeTimeout + time.Second)
}

func (p *Poller) run(ctx context.Context, gen uint64, deviceID string, t *task) {
	p.tick(ctx, gen, deviceID, t)

	ticker := time.NewTicker(t.key.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, gen, deviceID, t)
		}
	}
}

func (p *Poller) tick(ctx context.Context, gen uint64, deviceID string, t *task) {
	if !t.tryClaim() {
		p.metrics.IncProbeSkipped("in_flight")
		return
	}
	err := p.pool.Submit(func() {
		defer t.release()
		if _, err := p.check(ctx, gen, deviceID); err != nil && ctx.Err() == nil {
			p.log.Debug().Err(err).Str("device_id", deviceID).Msg("scheduled check not applied")
		}
	})
	if err != nil {
		t.release()
		reason := "pool"
		if errors.Is(err, ants.ErrPoolOverload) {
			reason = "pool_overload"
		}
		p.metrics.IncProbeSkipped(reason)
		p.log.Debug().Err(err).Str("device_id", deviceID).Msg("probe skipped")
	}
}

// ErrStale is returned when a probe finished after its map or task went away.
var ErrStale = errors.New("poller: result discarded for stale map")

// check probes one device and applies the result if gen is still current.
func (p *Poller) check(ctx context.Context, gen uint64, deviceID string) (topology.Transition, error) {
	d, ok := p.store.Device(deviceID)
	if !ok {
		return topology.Transition{}, model.ErrNotFound
	}
	target, err := p.target(d)
	if err != nil {
		return topology.Transition{}, err
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return topology.Transition{}, ErrStale
	}
	defer p.slots.Release(1)

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return topology.Transition{}, ErrStale
		}
	}

	start := time.Now()
	res := p.prober.Probe(ctx, target)
	p.metrics.ObserveProbe(string(target.Method), res.Succeeded, time.Since(start))

	if ctx.Err() != nil {
		return topology.Transition{}, ErrStale
	}

	// Thresholds may have been edited while the probe was running.
	if cur, ok := p.store.Device(deviceID); ok {
		d = cur
	}
	snap := health.Assess(res, d.Thresholds)
	tr, applied := p.store.ApplyStatusUpdate(gen, deviceID, snap)
	if !applied {
		return topology.Transition{}, ErrStale
	}

	if tr.Changed() {
		p.metrics.IncStatusTransition(string(tr.Current))
		p.log.Info().
			Str("map_id", tr.MapID).
			Str("device_id", deviceID).
			Str("previous_status", string(tr.Previous)).
			Str("status", string(tr.Current)).
			Str("failure_reason", snap.FailureReason).
			Msg("device status changed")
		p.emit(tr)
	}
	return tr, nil
}

func (p *Poller) target(d model.Device) (probe.Target, error) {
	if d.IP == "" {
		return probe.Target{}, model.Invalid("ip", "device has no address to probe")
	}
	method := d.Method()
	if method == model.MonitorPort && d.CheckPort <= 0 {
		return probe.Target{}, model.Invalid("check_port", "port monitoring requires a check port")
	}
	timeout := p.probeTimeout
	if iv := time.Duration(d.PingIntervalSeconds) * time.Second; iv > 0 && iv < timeout {
		timeout = iv
	}
	return probe.Target{
		DeviceID: d.ID,
		Host:     d.IP,
		Method:   method,
		Port:     d.CheckPort,
		Timeout:  timeout,
	}, nil
}

func (p *Poller) emit(tr topology.Transition) {
	for _, s := range p.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), p.sinkTimeout)
		if err := s.RecordTransition(ctx, tr); err != nil {
			p.log.Warn().Err(err).Str("map_id", tr.MapID).Str("device_id", tr.DeviceID).Msg("transition sink failed")
		}
		cancel()
	}
}

func (p *Poller) current() (context.Context, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil || p.stopped {
		return nil, 0, model.ErrSessionClosed
	}
	return p.ctx, p.gen, nil
}

// exclusive waits until no scheduled probe of deviceID is in flight and holds
// the device until release is called. Devices without a task need no claim.
func (p *Poller) exclusive(ctx context.Context, deviceID string) (release func(), err error) {
	p.mu.Lock()
	t := p.tasks[deviceID]
	p.mu.Unlock()
	if t == nil {
		return func() {}, nil
	}
	if err := t.claim(ctx); err != nil {
		return nil, ErrStale
	}
	return t.release, nil
}

// checkExclusive runs check while holding the device, so a slower scheduled
// probe cannot overwrite the result.
func (p *Poller) checkExclusive(ctx context.Context, gen uint64, deviceID string) (topology.Transition, error) {
	release, err := p.exclusive(ctx, deviceID)
	if err != nil {
		return topology.Transition{}, err
	}
	defer release()
	return p.check(ctx, gen, deviceID)
}

// CheckNow probes one device immediately, outside its schedule. It waits for
// an in-flight scheduled probe of the device first. The result is applied like
// a scheduled one and returned.
func (p *Poller) CheckNow(ctx context.Context, deviceID string) (model.Device, error) {
	pctx, gen, err := p.current()
	if err != nil {
		return model.Device{}, err
	}
	ctx, cancel := mergeCancel(ctx, pctx)
	defer cancel()

	if _, err := p.checkExclusive(ctx, gen, deviceID); err != nil {
		return model.Device{}, err
	}
	d, ok := p.store.Device(deviceID)
	if !ok {
		return model.Device{}, model.ErrNotFound
	}
	return d, nil
}

// RefreshAll probes every pollable device once. Its probes share the worker
// bound with scheduled ones.
func (p *Poller) RefreshAll(ctx context.Context, devices []model.Device) (int, error) {
	pctx, gen, err := p.current()
	if err != nil {
		return 0, err
	}
	ctx, cancel := mergeCancel(ctx, pctx)
	defer cancel()

	var checked atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, d := range devices {
		if _, ok := keyFor(d); !ok {
			continue
		}
		id := d.ID
		g.Go(func() error {
			_, err := p.checkExclusive(gctx, gen, id)
			switch {
			case err == nil:
				checked.Add(1)
			case errors.Is(err, ErrStale):
				return err
			default:
				p.log.Debug().Err(err).Str("device_id", id).Msg("refresh check not applied")
			}
			return nil
		})
	}
	err = g.Wait()
	return int(checked.Load()), err
}

// mergeCancel returns a context cancelled when either parent is done.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
