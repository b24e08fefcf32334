// Package notify publishes device status transitions on NATS for the external
// notification senders.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"ampnm/core-go/internal/model"
	"ampnm/core-go/internal/topology"
)

const DefaultPrefix = "ampnm.status"

// Conn is the slice of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
}

// Event is the JSON payload of one transition.
type Event struct {
	MapID          string       `json:"map_id"`
	DeviceID       string       `json:"device_id"`
	DeviceName     string       `json:"device_name"`
	IP             string       `json:"ip,omitempty"`
	Status         model.Status `json:"status"`
	PreviousStatus model.Status `json:"previous_status"`
	FailureReason  string       `json:"failure_reason,omitempty"`
	LatencyMs      *float64     `json:"latency_ms,omitempty"`
	PacketLossPct  *float64     `json:"packet_loss,omitempty"`
	ObservedAt     time.Time    `json:"observed_at"`
}

type Publisher struct {
	conn   Conn
	prefix string
}

func NewPublisher(conn Conn, prefix string) *Publisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{conn: conn, prefix: prefix}
}

// Subject returns <prefix>.<mapID>.<deviceID>.
func (p *Publisher) Subject(mapID, deviceID string) string {
	return p.prefix + "." + token(mapID) + "." + token(deviceID)
}

// RecordTransition implements poller.TransitionSink.
func (p *Publisher) RecordTransition(_ context.Context, tr topology.Transition) error {
	if !tr.Changed() {
		return nil
	}
	ev := Event{
		MapID:          tr.MapID,
		DeviceID:       tr.DeviceID,
		DeviceName:     tr.Device.Name,
		IP:             tr.Device.IP,
		Status:         tr.Current,
		PreviousStatus: tr.Previous,
		FailureReason:  tr.Device.FailureReason,
		LatencyMs:      tr.Device.LastAvgLatencyMs,
		PacketLossPct:  tr.Device.LastPacketLossPct,
		ObservedAt:     tr.At.UTC(),
	}
	if tr.Current != model.StatusOffline {
		ev.FailureReason = ""
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	subj := p.Subject(tr.MapID, tr.DeviceID)
	if err := p.conn.Publish(subj, data); err != nil {
		return fmt.Errorf("publish %s: %w", subj, err)
	}
	return nil
}

// token makes s usable as a single subject token.
func token(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// Connect dials NATS with reconnects enabled and connection events logged.
func Connect(log zerolog.Logger, url, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}
