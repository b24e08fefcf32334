package animator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ampnm/core-go/internal/metrics"
	"ampnm/core-go/internal/topology"
)

// Source supplies the graph to draw.
type Source interface {
	Snapshot() topology.Snapshot
}

// Renderer consumes frames. Render must return quickly; it runs on the tick.
type Renderer interface {
	Render(Frame)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Frame)

func (f RendererFunc) Render(fr Frame) { f(fr) }

type nopRenderer struct{}

func (nopRenderer) Render(Frame) {}

// Renderers fans a frame out to several renderers in order.
type Renderers []Renderer

func (rs Renderers) Render(f Frame) {
	for _, r := range rs {
		r.Render(f)
	}
}

type Options struct {
	// Interval between frames; defaults to ~60 per second.
	Interval time.Duration
	// Step is the dash phase advance per frame.
	Step float64
}

type Animator struct {
	log      zerolog.Logger
	src      Source
	renderer Renderer
	clock    Clock
	metrics  *metrics.Metrics
	interval time.Duration
	step     float64

	mu     sync.Mutex
	phase  float64
	cancel context.CancelFunc
	done   chan struct{}
}

func New(log zerolog.Logger, src Source, r Renderer, opts Options, clock Clock, m *metrics.Metrics) *Animator {
	if r == nil {
		r = nopRenderer{}
	}
	if clock == nil {
		clock = realClock{}
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second / 60
	}
	step := opts.Step
	if step == 0 {
		step = 1
	}
	return &Animator{
		log:      log,
		src:      src,
		renderer: r,
		clock:    clock,
		metrics:  m,
		interval: interval,
		step:     step,
	}
}

// Run renders a frame per tick until ctx is cancelled.
func (a *Animator) Run(ctx context.Context) error {
	t := a.clock.Ticker(a.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.Chan():
			a.Tick()
		}
	}
}

// Tick advances the phase by one step and renders the current snapshot.
func (a *Animator) Tick() Frame {
	a.mu.Lock()
	a.phase += a.step
	if flowLen := patternLength(FlowDash); flowLen > 0 && a.phase >= flowLen*1e6 {
		a.phase = 0
	}
	phase := a.phase
	a.mu.Unlock()

	f := Compute(a.src.Snapshot(), phase)
	a.renderer.Render(f)
	a.metrics.IncFramesRendered()
	return f
}

// Current renders nothing and returns the frame for the present phase.
func (a *Animator) Current() Frame {
	a.mu.Lock()
	phase := a.phase
	a.mu.Unlock()
	return Compute(a.src.Snapshot(), phase)
}

// Start runs the animator in the background until Stop or ctx cancellation.
func (a *Animator) Start(ctx context.Context) {
	a.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.mu.Lock()
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()
	a.log.Debug().Dur("interval", a.interval).Msg("animator started")
}

// Stop halts the tick and waits for the loop to exit.
func (a *Animator) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
