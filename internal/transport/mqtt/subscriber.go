// Package mqtt feeds telemetry published on an MQTT broker into the ingest
// service.
package mqtt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"fleet-monitor/telemetry/internal/config"
	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/ingest"
)

const source = "mqtt"

// Submitter accepts raw JSON samples.
type Submitter interface {
	Submit(ctx context.Context, source string, raw []byte) (domain.TelemetryEvent, error)
}

type Subscriber struct {
	client paho.Client
	submit Submitter
	topic  string
	qos    byte
	log    *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSubscriber builds a client that subscribes to cfg.MQTTTopic each time it
// connects, so subscriptions survive reconnects.
func NewSubscriber(cfg *config.Config, submit Submitter, logger *slog.Logger) *Subscriber {
	s := &Subscriber{
		submit: submit,
		topic:  cfg.MQTTTopic,
		qos:    cfg.MQTTQoS,
		log:    logger.With("component", "mqtt", "broker", cfg.MQTTBroker),
		ctx:    context.Background(),
		cancel: func() {},
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true)

	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
	}
	if cfg.MQTTPassword != "" {
		opts.SetPassword(cfg.MQTTPassword)
	}

	opts.OnConnect = func(c paho.Client) {
		s.log.Info("mqtt connected")
		if token := c.Subscribe(s.topic, s.qos, s.onMessage); token.Wait() && token.Error() != nil {
			s.log.Error("mqtt subscribe failed", "topic", s.topic, "err", token.Error())
			return
		}
		s.log.Info("mqtt subscribed", "topic", s.topic, "qos", s.qos)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		s.log.Warn("mqtt connection lost", "err", err)
	}

	s.client = paho.NewClient(opts)
	return s
}

// Start connects, doubling the wait between failed attempts up to a minute.
// It returns ctx.Err() if ctx ends or Stop is called first. Samples received
// afterwards are submitted with ctx.
func (s *Subscriber) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ctx, s.cancel = ctx, cancel
	s.mu.Unlock()

	backoff := time.Second
	const maxBackoff = time.Minute

	for {
		token := s.client.Connect()
		select {
		case <-token.Done():
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		}
		if token.Error() == nil {
			if ctx.Err() != nil {
				s.client.Disconnect(0)
				return ctx.Err()
			}
			return nil
		}
		s.log.Warn("mqtt connect failed", "err", token.Error(), "retry_in", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop ends a pending Start, unsubscribes and disconnects, giving in-flight
// work a quarter second. Reconnect attempts stop with it.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	cancel()

	if s.client.IsConnected() {
		if token := s.client.Unsubscribe(s.topic); token.WaitTimeout(time.Second) && token.Error() != nil {
			s.log.Warn("mqtt unsubscribe failed", "err", token.Error())
		}
	}
	s.client.Disconnect(250)
	s.log.Info("mqtt disconnected")
}

func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	s.handle(msg)
}

func (s *Subscriber) handle(msg paho.Message) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	_, err := s.submit.Submit(ctx, source, msg.Payload())
	if err == nil {
		return
	}

	var verr *ingest.ValidationError
	if errors.As(err, &verr) {
		s.log.Warn("mqtt sample rejected", "topic", msg.Topic(), "err", verr, "bytes", len(msg.Payload()))
		return
	}
	s.log.Error("mqtt sample not submitted", "topic", msg.Topic(), "err", err)
}
