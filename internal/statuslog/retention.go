package statuslog

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"ampnm/core-go/internal/metrics"
)

// DefaultRetention matches the longest status-log period.
const DefaultRetention = 30 * 24 * time.Hour

type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type RetentionOptions struct {
	// Schedule is a standard five-field cron spec. Defaults to daily at 03:15.
	Schedule string
	Window   time.Duration
	Timeout  time.Duration
}

// Retention periodically deletes events older than the window.
type Retention struct {
	log     zerolog.Logger
	pruner  Pruner
	metrics *metrics.Metrics
	window  time.Duration
	timeout time.Duration
	cron    *cron.Cron
	now     func() time.Time
}

func NewRetention(log zerolog.Logger, p Pruner, opts RetentionOptions, m *metrics.Metrics) (*Retention, error) {
	if opts.Schedule == "" {
		opts.Schedule = "15 3 * * *"
	}
	if opts.Window <= 0 {
		opts.Window = DefaultRetention
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	r := &Retention{
		log:     log,
		pruner:  p,
		metrics: m,
		window:  opts.Window,
		timeout: opts.Timeout,
		cron:    cron.New(),
		now:     time.Now,
	}
	if _, err := r.cron.AddFunc(opts.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		_, _ = r.RunOnce(ctx)
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// RunOnce prunes immediately and returns the number of deleted events.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.window)
	n, err := r.pruner.Prune(ctx, cutoff)
	if err != nil {
		r.log.Warn().Err(err).Time("cutoff", cutoff).Msg("status event pruning failed")
		return 0, err
	}
	r.metrics.AddEventsPruned(n)
	r.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("status events pruned")
	return n, nil
}

// Run starts the schedule and blocks until ctx is done.
func (r *Retention) Run(ctx context.Context) error {
	r.cron.Start()
	<-ctx.Done()
	<-r.cron.Stop().Done()
	return nil
}
