// Package config loads the service settings from an optional YAML file and
// the process environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHTTPAddr       = ":8081"
	DefaultLogLevel       = "info"
	DefaultStoreTimeout   = 10 * time.Second
	DefaultProbeTimeout   = 2 * time.Second
	DefaultProbeWorkers   = 32
	DefaultPingMode       = "exec"
	DefaultPingCount      = 1
	DefaultResolvConf     = "/etc/resolv.conf"
	DefaultFPS            = 60
	DefaultRetentionDays  = 30
	DefaultPruneSchedule  = "15 3 * * *"
	DefaultSubjectPrefix  = "ampnm.status"
	DefaultSNMPCommunity  = "public"
	DefaultSNMPVersion    = "2c"
	DefaultSNMPPort       = 161
	DefaultRequestTimeout = 30 * time.Second
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	Probe     ProbeConfig     `yaml:"probe"`
	Animation AnimationConfig `yaml:"animation"`
	StatusLog StatusLogConfig `yaml:"status_log"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// PublicOrigin prefixes share links, e.g. https://noc.example.com.
	PublicOrigin   string        `yaml:"public_origin"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// File enables a size-rotated log file next to stdout.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type StoreConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// Cookie is forwarded on every store request (the store's session cookie).
	Cookie string `yaml:"cookie"`
}

type DatabaseConfig struct {
	URL           string `yaml:"url"`
	RetentionDays int    `yaml:"retention_days"`
	PruneSchedule string `yaml:"prune_schedule"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type ProbeConfig struct {
	// PingMode is "exec" (system ping) or "icmp" (raw echo).
	PingMode   string        `yaml:"ping_mode"`
	PingCount  int           `yaml:"ping_count"`
	Privileged bool          `yaml:"privileged"`
	Timeout    time.Duration `yaml:"timeout"`
	Workers    int           `yaml:"workers"`
	RateLimit  float64       `yaml:"rate_limit"`
	RateBurst  int           `yaml:"rate_burst"`
	DNSServers []string      `yaml:"dns_servers"`
	ResolvConf string        `yaml:"resolv_conf"`
	SNMP       SNMPConfig    `yaml:"snmp"`
}

type SNMPConfig struct {
	Community string `yaml:"community"`
	Version   string `yaml:"version"`
	Port      int    `yaml:"port"`
	Retries   int    `yaml:"retries"`
}

type AnimationConfig struct {
	FPS  int     `yaml:"fps"`
	Step float64 `yaml:"step"`
}

type StatusLogConfig struct {
	Timezone string `yaml:"timezone"`
}

// Load reads path (when non-empty), applies environment overrides and defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	ApplyEnv(&cfg, os.Getenv)
	ApplyDefaults(&cfg)
	return cfg, nil
}

// ApplyEnv overrides file values with the deployment environment.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	cfg.HTTP.Addr = envOr(getenv, "HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.PublicOrigin = envOr(getenv, "PUBLIC_ORIGIN", cfg.HTTP.PublicOrigin)
	cfg.Log.Level = envOr(getenv, "LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = envOr(getenv, "LOG_FILE", cfg.Log.File)
	cfg.Database.URL = envOr(getenv, "DATABASE_URL", cfg.Database.URL)
	cfg.Store.URL = envOr(getenv, "STORE_URL", cfg.Store.URL)
	cfg.Store.Cookie = envOr(getenv, "STORE_COOKIE", cfg.Store.Cookie)
	cfg.NATS.URL = envOr(getenv, "NATS_URL", cfg.NATS.URL)
}

func envOr(getenv func(string) string, key, fallback string) string {
	v := getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
	if cfg.HTTP.PublicOrigin == "" {
		cfg.HTTP.PublicOrigin = "http://localhost" + cfg.HTTP.Addr
		if !strings.HasPrefix(cfg.HTTP.Addr, ":") {
			cfg.HTTP.PublicOrigin = "http://" + cfg.HTTP.Addr
		}
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB <= 0 {
			cfg.Log.MaxSizeMB = 100
		}
		if cfg.Log.MaxBackups <= 0 {
			cfg.Log.MaxBackups = 3
		}
		if cfg.Log.MaxAgeDays <= 0 {
			cfg.Log.MaxAgeDays = 28
		}
	}
	if cfg.Store.Timeout <= 0 {
		cfg.Store.Timeout = DefaultStoreTimeout
	}
	if cfg.Database.RetentionDays <= 0 {
		cfg.Database.RetentionDays = DefaultRetentionDays
	}
	if cfg.Database.PruneSchedule == "" {
		cfg.Database.PruneSchedule = DefaultPruneSchedule
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = DefaultSubjectPrefix
	}

	p := &cfg.Probe
	if p.PingMode == "" {
		p.PingMode = DefaultPingMode
	}
	if p.PingCount <= 0 {
		p.PingCount = DefaultPingCount
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultProbeTimeout
	}
	if p.Workers <= 0 {
		p.Workers = DefaultProbeWorkers
	}
	if p.ResolvConf == "" && len(p.DNSServers) == 0 {
		p.ResolvConf = DefaultResolvConf
	}
	if p.SNMP.Community == "" {
		p.SNMP.Community = DefaultSNMPCommunity
	}
	if p.SNMP.Version == "" {
		p.SNMP.Version = DefaultSNMPVersion
	}
	if p.SNMP.Port == 0 {
		p.SNMP.Port = DefaultSNMPPort
	}

	if cfg.Animation.FPS <= 0 {
		cfg.Animation.FPS = DefaultFPS
	}
	if cfg.Animation.Step == 0 {
		cfg.Animation.Step = 1
	}
	if cfg.StatusLog.Timezone == "" {
		cfg.StatusLog.Timezone = "UTC"
	}
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Store.URL) == "" {
		return fmt.Errorf("store.url is required")
	}
	if u, err := url.Parse(cfg.Store.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("store.url must be an absolute URL, got %q", cfg.Store.URL)
	}
	if u, err := url.Parse(cfg.HTTP.PublicOrigin); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("http.public_origin must be an absolute URL, got %q", cfg.HTTP.PublicOrigin)
	}
	switch cfg.Probe.PingMode {
	case "exec", "icmp":
	default:
		return fmt.Errorf("probe.ping_mode must be exec or icmp, got %q", cfg.Probe.PingMode)
	}
	switch strings.ToLower(cfg.Probe.SNMP.Version) {
	case "1", "v1", "2c", "v2c":
	default:
		return fmt.Errorf("probe.snmp.version must be 1 or 2c, got %q", cfg.Probe.SNMP.Version)
	}
	if cfg.Probe.SNMP.Port < 1 || cfg.Probe.SNMP.Port > 65535 {
		return fmt.Errorf("probe.snmp.port out of range: %d", cfg.Probe.SNMP.Port)
	}
	if cfg.Probe.RateLimit < 0 {
		return fmt.Errorf("probe.rate_limit must not be negative")
	}
	if cfg.Animation.FPS > 240 {
		return fmt.Errorf("animation.fps must be at most 240, got %d", cfg.Animation.FPS)
	}
	if _, err := time.LoadLocation(cfg.StatusLog.Timezone); err != nil {
		return fmt.Errorf("status_log.timezone: %w", err)
	}
	return nil
}

// FrameInterval is the animation tick derived from FPS.
func (a AnimationConfig) FrameInterval() time.Duration {
	if a.FPS <= 0 {
		return time.Second / DefaultFPS
	}
	return time.Second / time.Duration(a.FPS)
}

// Retention is the status event retention window.
func (d DatabaseConfig) Retention() time.Duration {
	return time.Duration(d.RetentionDays) * 24 * time.Hour
}
