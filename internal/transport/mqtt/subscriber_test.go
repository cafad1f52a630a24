package mqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/telemetry/internal/config"
	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/ingest"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordBuffer struct {
	mu     sync.Mutex
	events []domain.TelemetryEvent
}

func (b *recordBuffer) Add(_ context.Context, e domain.TelemetryEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

type failingSubmitter struct{ calls int }

func (f *failingSubmitter) Submit(context.Context, string, []byte) (domain.TelemetryEvent, error) {
	f.calls++
	return domain.TelemetryEvent{}, errors.New("buffer closed")
}

func newSubscriber(submit Submitter) *Subscriber {
	cfg := &config.Config{MQTTBroker: "tcp://127.0.0.1:1883", MQTTClientID: "test", MQTTTopic: "fleet/+/telemetry", MQTTQoS: 1}
	return NewSubscriber(cfg, submit, discard)
}

func TestHandle_SubmitsValidSamples(t *testing.T) {
	buf := &recordBuffer{}
	s := newSubscriber(ingest.NewService(buf, discard))

	s.handle(fakeMessage{
		topic:   "fleet/truck-1/telemetry",
		payload: []byte(`{"device_id":"truck-1","ts":"2025-03-10T08:00:00Z","speed_kmh":55.5,"engine_temp_c":"92"}`),
	})

	require.Len(t, buf.events, 1)
	e := buf.events[0]
	assert.Equal(t, "truck-1", e.DeviceID)
	assert.Equal(t, 55.5, e.Speed())
	require.NotNil(t, e.EngineTempC)
	assert.Equal(t, 92.0, *e.EngineTempC)
}

func TestHandle_DropsInvalidSamples(t *testing.T) {
	buf := &recordBuffer{}
	s := newSubscriber(ingest.NewService(buf, discard))

	s.handle(fakeMessage{topic: "fleet/x/telemetry", payload: []byte(`not json`)})
	s.handle(fakeMessage{topic: "fleet/x/telemetry", payload: []byte(`{"device_id":"x","ts":"2025-03-10T08:00:00Z","lon":181}`)})

	assert.Empty(t, buf.events)
}

func TestHandle_SurvivesSubmitErrors(t *testing.T) {
	f := &failingSubmitter{}
	s := newSubscriber(f)

	assert.NotPanics(t, func() {
		s.handle(fakeMessage{topic: "fleet/x/telemetry", payload: []byte(`{}`)})
	})
	assert.Equal(t, 1, f.calls)
}

func TestNewSubscriber_UsesConfiguredTopic(t *testing.T) {
	s := newSubscriber(&failingSubmitter{})
	assert.Equal(t, "fleet/+/telemetry", s.topic)
	assert.Equal(t, byte(1), s.qos)
	assert.False(t, s.client.IsConnected())

	assert.NotPanics(t, s.Stop, "stop before connecting")
}

func TestStart_ReturnsWhenContextEnds(t *testing.T) {
	cfg := &config.Config{MQTTBroker: "tcp://127.0.0.1:1", MQTTClientID: "test-unreachable", MQTTTopic: "fleet/+/telemetry"}
	s := NewSubscriber(cfg, &failingSubmitter{}, discard)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after its context ended")
	}
	s.Stop()
}

func TestStop_EndsPendingStart(t *testing.T) {
	cfg := &config.Config{MQTTBroker: "tcp://127.0.0.1:1", MQTTClientID: "test-stop", MQTTTopic: "fleet/+/telemetry"}
	s := NewSubscriber(cfg, &failingSubmitter{}, discard)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	// Stop races Start; retry until Start has installed its cancel func.
	require.Eventually(t, func() bool {
		s.Stop()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
			return true
		default:
			return false
		}
	}, 3*time.Second, 50*time.Millisecond)
}
