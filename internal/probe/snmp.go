package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"ampnm/core-go/internal/model"
)

const (
	oidSysUpTime0 = "1.3.6.1.2.1.1.3.0"
	oidSysName0   = "1.3.6.1.2.1.1.5.0"
)

// SNMPConfig holds agent access settings shared by all snmp-monitored devices.
type SNMPConfig struct {
	Community string
	Version   string // "2c" (default) | "1"
	Port      uint16
	Retries   int
}

// SNMPProber treats a device as reachable when its agent answers a GET for
// sysUpTime. The device's check port, if set, overrides the configured port.
type SNMPProber struct {
	cfg      SNMPConfig
	Resolver *Resolver
}

func NewSNMPProber(cfg SNMPConfig, r *Resolver) *SNMPProber {
	if strings.TrimSpace(cfg.Community) == "" {
		cfg.Community = "public"
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = "2c"
	}
	if cfg.Port == 0 {
		cfg.Port = 161
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &SNMPProber{cfg: cfg, Resolver: r}
}

func (p *SNMPProber) version() (gosnmp.SnmpVersion, error) {
	switch strings.ToLower(strings.TrimSpace(p.cfg.Version)) {
	case "2c", "v2c", "":
		return gosnmp.Version2c, nil
	case "1", "v1":
		return gosnmp.Version1, nil
	default:
		return 0, fmt.Errorf("unsupported snmp version %q", p.cfg.Version)
	}
}

func (p *SNMPProber) Probe(ctx context.Context, t Target) model.CheckResult {
	v, err := p.version()
	if err != nil {
		return failed(err.Error())
	}
	addr, err := p.Resolver.Resolve(ctx, t.Host)
	if err != nil {
		return failed(resolveOutput(t.Host))
	}

	port := p.cfg.Port
	if t.Port > 0 && t.Port <= 65535 {
		port = uint16(t.Port)
	}
	timeout := time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl) / time.Duration(p.cfg.Retries+1)
	}
	if timeout <= 0 {
		return failed(timeoutOutput(ctx, addr.String(), ctx.Err()))
	}

	s := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    addr.String(),
		Port:      port,
		Community: p.cfg.Community,
		Version:   v,
		Timeout:   timeout,
		Retries:   p.cfg.Retries,
	}
	if err := s.Connect(); err != nil {
		return failed(fmt.Sprintf("snmp connect %s: %v", addr, err))
	}
	defer s.Conn.Close()

	start := time.Now()
	pkt, err := s.Get([]string{oidSysUpTime0, oidSysName0})
	if err != nil {
		return failed(fmt.Sprintf("snmp get %s: %s", addr, timeoutOutput(ctx, addr.String(), err)))
	}
	rtt := time.Since(start)
	if pkt.Error != gosnmp.NoError {
		return failed(fmt.Sprintf("snmp get %s: agent error %s", addr, pkt.Error))
	}

	var uptime, name string
	for _, v := range pkt.Variables {
		switch strings.TrimPrefix(v.Name, ".") {
		case oidSysUpTime0:
			if ticks, ok := pduUint(v); ok {
				uptime = (time.Duration(ticks) * 10 * time.Millisecond).String()
			}
		case oidSysName0:
			if s, ok := pduString(v); ok {
				name = s
			}
		}
	}
	if uptime == "" {
		return failed(fmt.Sprintf("snmp get %s: no sysUpTime in response", addr))
	}
	raw := fmt.Sprintf("snmp %s sysUpTime=%s time=%.3f ms", addr, uptime, float64(rtt.Microseconds())/1000)
	if name != "" {
		raw += " sysName=" + name
	}
	return succeeded(rtt, raw)
}

func pduString(pdu gosnmp.SnmpPDU) (string, bool) {
	switch v := pdu.Value.(type) {
	case string:
		return strings.TrimSpace(v), true
	case []byte:
		return strings.TrimSpace(string(v)), true
	default:
		return "", false
	}
}

func pduUint(pdu gosnmp.SnmpPDU) (uint64, bool) {
	switch v := pdu.Value.(type) {
	case uint32:
		return uint64(v), true
	case uint:
		return uint64(v), true
	case uint64:
		return v, true
	case int:
		return uint64(v), v >= 0
	case int64:
		return uint64(v), v >= 0
	default:
		return 0, false
	}
}
