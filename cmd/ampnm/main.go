package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ampnm/core-go/internal/animator"
	"ampnm/core-go/internal/config"
	"ampnm/core-go/internal/db"
	"ampnm/core-go/internal/httpapi"
	"ampnm/core-go/internal/metrics"
	"ampnm/core-go/internal/model"
	"ampnm/core-go/internal/notify"
	"ampnm/core-go/internal/poller"
	"ampnm/core-go/internal/probe"
	"ampnm/core-go/internal/session"
	"ampnm/core-go/internal/share"
	"ampnm/core-go/internal/statuslog"
	"ampnm/core-go/internal/storeclient"
	"ampnm/core-go/internal/topology"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", ""), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := httpapi.NewLogger("info")
		boot.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}

	logger, logFile := httpapi.NewLoggerWithFile(cfg.Log.Level, httpapi.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logFile.Close()

	if err := config.Validate(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	readiness := map[string]httpapi.ReadinessCheck{}

	opts := []storeclient.Option{
		storeclient.WithHTTPClient(&http.Client{Timeout: cfg.Store.Timeout}),
		storeclient.WithLogger(logger),
	}
	if cfg.Store.Cookie != "" {
		opts = append(opts, storeclient.WithHeader("Cookie", cfg.Store.Cookie))
	}
	store := storeclient.New(cfg.Store.URL, opts...)
	readiness["store"] = func(ctx context.Context) error {
		_, err := store.GetMaps(ctx)
		return err
	}

	var (
		sinks     []poller.TransitionSink
		events    statuslog.EventSource = store
		retention *statuslog.Retention
	)

	if cfg.Database.URL != "" {
		pool, err := db.Open(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		if err := pool.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply migrations")
		}
		readiness["database"] = pool.Ping

		eventLog := statuslog.NewEventLog(pool.Queries())
		sinks = append(sinks, eventLog)
		events = eventLog

		retention, err = statuslog.NewRetention(logger, eventLog, statuslog.RetentionOptions{
			Schedule: cfg.Database.PruneSchedule,
			Window:   cfg.Database.Retention(),
		}, m)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid retention schedule")
		}
	}

	if cfg.NATS.URL != "" {
		nc, err := notify.Connect(logger, cfg.NATS.URL, "ampnm")
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer nc.Drain()
		readiness["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats not connected")
			}
			return nil
		}
		sinks = append(sinks, notify.NewPublisher(nc, cfg.NATS.SubjectPrefix))
	}

	resolver := probe.NewResolver(cfg.Probe.DNSServers, cfg.Probe.ResolvConf, cfg.Probe.Timeout)
	var pinger probe.Prober = probe.NewExecPinger(cfg.Probe.PingCount)
	if cfg.Probe.PingMode == "icmp" {
		pinger = probe.NewICMPPinger(cfg.Probe.Privileged, resolver)
	}
	prober := probe.NewMux().
		Handle(model.MonitorPing, pinger).
		Handle(model.MonitorPort, probe.NewTCPProber(resolver)).
		Handle(model.MonitorSNMP, probe.NewSNMPProber(probe.SNMPConfig{
			Community: cfg.Probe.SNMP.Community,
			Version:   cfg.Probe.SNMP.Version,
			Port:      uint16(cfg.Probe.SNMP.Port),
			Retries:   cfg.Probe.SNMP.Retries,
		}, resolver))

	graph := topology.New(logger)
	graph.Observe(func(c topology.Change) {
		logger.Debug().Str("change", string(c.Kind)).Str("id", c.ID).Uint64("generation", c.Generation).Msg("graph changed")
	})
	p, err := poller.New(logger, graph, prober, poller.Options{
		ProbeTimeout: cfg.Probe.Timeout,
		Workers:      cfg.Probe.Workers,
		RateLimit:    cfg.Probe.RateLimit,
		RateBurst:    cfg.Probe.RateBurst,
	}, m, sinks...)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start poller")
	}
	defer p.Close()

	hub := httpapi.NewHub(logger, m)
	anim := animator.New(logger, graph, hub, animator.Options{
		Interval: cfg.Animation.FrameInterval(),
		Step:     cfg.Animation.Step,
	}, nil, m)

	sess := session.New(logger, store, graph, p, anim)
	defer sess.Close()
	links := share.New(logger, cfg.HTTP.PublicOrigin, sess, store, graph)

	loc, err := time.LoadLocation(cfg.StatusLog.Timezone)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid status log timezone")
	}
	logs := statuslog.New(events, loc)

	h := httpapi.NewHandler(logger, sess, links, logs, hub, m, httpapi.Options{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Readiness:      readiness,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTP.Addr).Str("store", cfg.Store.URL).Msg("ampnm listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if retention != nil {
		g.Go(func() error { return retention.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
	}
	logger.Info().Msg("shutdown complete")
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
