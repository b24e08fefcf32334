package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ampnm/core-go/internal/model"
	"ampnm/core-go/internal/topology"
)

type published struct {
	subj string
	data []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subj: subj, data: data})
	return nil
}

func TestSubject(t *testing.T) {
	p := NewPublisher(&fakeConn{}, "")
	assert.Equal(t, "ampnm.status.1.42", p.Subject("1", "42"))

	p = NewPublisher(&fakeConn{}, "noc.events.")
	assert.Equal(t, "noc.events.m_1.a_b_c", p.Subject("m.1", "a b*c"))
	assert.Equal(t, "noc.events._._", p.Subject("", " "))
}

func TestRecordTransition_publishesJSON(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "")
	at := time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC)
	loss := 100.0

	err := p.RecordTransition(context.Background(), topology.Transition{
		MapID: "1", DeviceID: "7", Previous: model.StatusOnline, Current: model.StatusOffline, At: at,
		Device: model.Device{ID: "7", Name: "core-sw", IP: "10.0.0.7", FailureReason: "Request timed out.", LastPacketLossPct: &loss},
	})
	require.NoError(t, err)
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "ampnm.status.1.7", conn.msgs[0].subj)

	var ev Event
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &ev))
	assert.Equal(t, model.StatusOffline, ev.Status)
	assert.Equal(t, model.StatusOnline, ev.PreviousStatus)
	assert.Equal(t, "core-sw", ev.DeviceName)
	assert.Equal(t, "Request timed out.", ev.FailureReason)
	assert.True(t, at.Equal(ev.ObservedAt))
}

func TestRecordTransition_skipsUnchangedAndWrapsErrors(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "")
	require.NoError(t, p.RecordTransition(context.Background(), topology.Transition{
		MapID: "1", DeviceID: "7", Previous: model.StatusOnline, Current: model.StatusOnline,
	}))
	assert.Empty(t, conn.msgs)

	conn.err = errors.New("nats: connection closed")
	err := p.RecordTransition(context.Background(), topology.Transition{
		MapID: "1", DeviceID: "7", Previous: model.StatusOnline, Current: model.StatusWarning,
	})
	assert.ErrorIs(t, err, conn.err)
	assert.Contains(t, err.Error(), "ampnm.status.1.7")
}
