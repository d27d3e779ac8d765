package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

type fakeBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
	err       error
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}


func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func openedEvent() domain.Event {
	return domain.Event{Seq: 1, Kind: domain.EventOpened, Opened: &domain.Position{
		ID: 1, Symbol: "X", Direction: domain.DirectionLong, EntryPrice: 100, Target: 110, StopLoss: 95,
		Status: domain.PositionStatusOpen, Strategy: "bollinger_mean_reversion",
	}}
}

func TestBusSink(t *testing.T) {
	t.Parallel()

	bus := newFakeBus()
	sink := NewBusSink(bus, "", "")
	require.NoError(t, sink.Handle(context.Background(), openedEvent()))

	require.Len(t, bus.published[DefaultChannel], 1)
	require.Len(t, bus.streamed[DefaultStream], 1)
	var got domain.Event
	require.NoError(t, json.Unmarshal(bus.streamed[DefaultStream][0], &got))
	assert.Equal(t, domain.EventOpened, got.Kind)
	assert.Equal(t, "X", got.Symbol())

	bus.err = errors.New("conn refused")
	assert.Error(t, sink.Handle(context.Background(), openedEvent()))
}

type fakeNotifier struct {
	event, title, message string
}

func (f *fakeNotifier) Notify(_ context.Context, event, title, message string) error {
	f.event, f.title, f.message = event, title, message
	return nil
}

func TestNotifySink(t *testing.T) {
	t.Parallel()

	n := &fakeNotifier{}
	require.NoError(t, NewNotifySink(n, "nifty").Handle(context.Background(), openedEvent()))
	assert.Equal(t, "opened", n.event)
	assert.Equal(t, "[nifty] Position opened", n.title)
	assert.Equal(t, "X LONG #1 entry=100 target=110 stop=95 (bollinger_mean_reversion)", n.message)
}

type fakeAudit struct {
	runID, event string
	detail       map[string]any
}

func (f *fakeAudit) Log(_ context.Context, runID, event string, detail map[string]any) error {
	f.runID, f.event, f.detail = runID, event, detail
	return nil
}

func (f *fakeAudit) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestAuditSink(t *testing.T) {
	t.Parallel()

	a := &fakeAudit{}
	require.NoError(t, NewAuditSink(a, "run-1").Handle(context.Background(), openedEvent()))
	assert.Equal(t, "run-1", a.runID)
	assert.Equal(t, "opened", a.event)
	assert.Equal(t, uint64(1), a.detail["seq"])
	assert.NotNil(t, a.detail["position"])
}

type fakeHub struct {
	channel string
	data    []byte
}

func (f *fakeHub) Broadcast(channel string, data []byte) {
	f.channel, f.data = channel, data
}

func TestHubSink(t *testing.T) {
	t.Parallel()

	h := &fakeHub{}
	require.NoError(t, NewHubSink(h).Handle(context.Background(), openedEvent()))
	assert.Equal(t, "opened", h.channel)
	assert.Contains(t, string(h.data), `"kind":"opened"`)
}
