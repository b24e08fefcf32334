package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	ApplyDefaults(&cfg)

	if cfg.HTTP.Addr != DefaultHTTPAddr {
		t.Fatalf("addr=%q", cfg.HTTP.Addr)
	}
	if cfg.HTTP.PublicOrigin != "http://localhost:8081" {
		t.Fatalf("public_origin=%q", cfg.HTTP.PublicOrigin)
	}
	if cfg.Probe.Timeout != DefaultProbeTimeout || cfg.Probe.Workers != DefaultProbeWorkers {
		t.Fatalf("probe defaults not set: %+v", cfg.Probe)
	}
	if cfg.Probe.ResolvConf != DefaultResolvConf {
		t.Fatalf("resolv_conf=%q", cfg.Probe.ResolvConf)
	}
	if cfg.Database.Retention() != 30*24*time.Hour {
		t.Fatalf("retention=%s", cfg.Database.Retention())
	}
	if cfg.Animation.FrameInterval() != time.Second/60 {
		t.Fatalf("frame interval=%s", cfg.Animation.FrameInterval())
	}
	if cfg.Log.MaxSizeMB != 0 {
		t.Fatalf("rotation defaults should only apply with a log file")
	}
}

func TestApplyDefaults_keepsExplicitDNSServers(t *testing.T) {
	t.Parallel()

	cfg := Config{Probe: ProbeConfig{DNSServers: []string{"10.0.0.53"}}}
	ApplyDefaults(&cfg)
	if cfg.Probe.ResolvConf != "" {
		t.Fatalf("resolv_conf should stay empty when servers are configured, got %q", cfg.Probe.ResolvConf)
	}
}

func TestApplyEnv_overridesFile(t *testing.T) {
	t.Parallel()

	cfg := Config{HTTP: HTTPConfig{Addr: ":9000"}, Store: StoreConfig{URL: "http://file/ampnm"}}
	ApplyEnv(&cfg, envMap(map[string]string{
		"STORE_URL":    "http://env/ampnm",
		"LOG_LEVEL":    "debug",
		"DATABASE_URL": "postgres://u@db/ampnm",
	}))
	if cfg.HTTP.Addr != ":9000" {
		t.Fatalf("unset env must not override, addr=%q", cfg.HTTP.Addr)
	}
	if cfg.Store.URL != "http://env/ampnm" || cfg.Log.Level != "debug" || cfg.Database.URL == "" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoad_yamlFile(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "ampnm.yaml")
	data := `
http:
  addr: "127.0.0.1:9090"
store:
  url: "http://localhost/ampnm"
  timeout: 3s
probe:
  ping_mode: icmp
  timeout: 1500ms
  dns_servers: ["1.1.1.1"]
  snmp:
    community: noc
animation:
  fps: 30
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("STORE_URL", "")
	t.Setenv("HTTP_ADDR", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.PublicOrigin != "http://127.0.0.1:9090" {
		t.Fatalf("public_origin=%q", cfg.HTTP.PublicOrigin)
	}
	if cfg.Store.Timeout != 3*time.Second || cfg.Probe.Timeout != 1500*time.Millisecond {
		t.Fatalf("durations not parsed: store=%s probe=%s", cfg.Store.Timeout, cfg.Probe.Timeout)
	}
	if cfg.Probe.SNMP.Community != "noc" || cfg.Probe.SNMP.Port != DefaultSNMPPort {
		t.Fatalf("snmp=%+v", cfg.Probe.SNMP)
	}
	if cfg.Animation.FrameInterval() != time.Second/30 {
		t.Fatalf("frame interval=%s", cfg.Animation.FrameInterval())
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg := Config{Store: StoreConfig{URL: "http://localhost/ampnm"}}
		ApplyDefaults(&cfg)
		return cfg
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("unexpected: %v", err)
	}

	cases := map[string]func(*Config){
		"no store":     func(c *Config) { c.Store.URL = "" },
		"relative":     func(c *Config) { c.Store.URL = "/ampnm" },
		"ping mode":    func(c *Config) { c.Probe.PingMode = "arp" },
		"snmp version": func(c *Config) { c.Probe.SNMP.Version = "3" },
		"snmp port":    func(c *Config) { c.Probe.SNMP.Port = 70000 },
		"fps":          func(c *Config) { c.Animation.FPS = 1000 },
		"timezone":     func(c *Config) { c.StatusLog.Timezone = "Mars/Olympus" },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
