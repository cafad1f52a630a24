package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type publisher interface {
	publish(ctx context.Context, s sample) error
	close()
}

type httpPublisher struct {
	client *http.Client
	url    string
	apiKey string
}

func (p *httpPublisher) publish(ctx context.Context, s sample) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("ingest returned %s", resp.Status)
	}
	return nil
}

func (p *httpPublisher) close() {}

type mqttPublisher struct {
	client paho.Client
	topic  string
}

func newMQTTPublisher(broker, topic string) (*mqttPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("fleet-simulator-%d", os.Getpid())).
		SetKeepAlive(30 * time.Second).
		SetAutoReconnect(true)

	client := paho.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return &mqttPublisher{client: client, topic: topic}, nil
}

func (p *mqttPublisher) publish(_ context.Context, s sample) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	topic := strings.ReplaceAll(p.topic, "+", s.DeviceID)
	token := p.client.Publish(topic, 1, false, body)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	return token.Error()
}

func (p *mqttPublisher) close() { p.client.Disconnect(250) }

func main() {
	var (
		devices   = flag.Int("devices", 5, "number of vehicles")
		cityName  = flag.String("city", "saopaulo", "saopaulo, riodejaneiro, brasilia or curitiba")
		interval  = flag.Duration("interval", time.Second, "time between samples of a vehicle")
		speedMin  = flag.Float64("speed-min", 20, "minimum speed in km/h")
		speedMax  = flag.Float64("speed-max", 80, "maximum speed in km/h")
		apiURL    = flag.String("api", "http://localhost:8001", "telemetry service base URL")
		apiKey    = flag.String("api-key", os.Getenv("SIM_API_KEY"), "X-API-Key sent with HTTP samples")
		mqttURL   = flag.String("mqtt", "", "publish over MQTT to this broker instead of HTTP")
		mqttTopic = flag.String("topic", "fleet/+/telemetry", "MQTT topic, + is replaced by the device id")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	c, ok := cities[strings.ToLower(*cityName)]
	if !ok {
		logger.Warn("unknown city, using saopaulo", "city", *cityName)
		c = cities["saopaulo"]
	}
	if *devices <= 0 || *interval <= 0 || *speedMin > *speedMax {
		logger.Error("invalid flags", "devices", *devices, "interval", *interval, "speed_min", *speedMin, "speed_max", *speedMax)
		os.Exit(2)
	}

	var pub publisher
	if *mqttURL != "" {
		mp, err := newMQTTPublisher(*mqttURL, *mqttTopic)
		if err != nil {
			logger.Error("mqtt unavailable", "err", err)
			os.Exit(1)
		}
		pub = mp
	} else {
		pub = &httpPublisher{
			client: &http.Client{Timeout: 5 * time.Second},
			url:    strings.TrimRight(*apiURL, "/") + "/v1/ingest",
			apiKey: *apiKey,
		}
	}
	defer pub.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f := newFleet(*devices, c, *speedMin, *speedMax, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)))
	logger.Info("simulating", "devices", *devices, "city", *cityName, "interval", *interval)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for round := 1; ; round++ {
		start := time.Now()
		f.step(*interval)

		sent := 0
		for _, v := range f.vehicles {
			if err := pub.publish(ctx, v.sample(start)); err != nil {
				logger.Warn("sample not sent", "device_id", v.id, "err", err)
				continue
			}
			sent++
		}
		logger.Info("round", "n", round, "sent", sent, "of", len(f.vehicles), "took", time.Since(start))

		select {
		case <-ticker.C:
		case <-ctx.Done():
			logger.Info("stopped", "rounds", round)
			return
		}
	}
}
