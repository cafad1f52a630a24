package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/telemetry/internal/config"
	"fleet-monitor/telemetry/internal/domain"
)

const (
	// LiveChannel carries every state update as a JSON encoded TelemetryEvent.
	LiveChannel = "telemetry:live"
	geoKey      = "fleet:geo"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func stateKey(deviceID string) string {
	return fmt.Sprintf("device:%s:state", deviceID)
}

// setStateScript replaces a device's state hash unless the stored sample is
// newer, and only then moves its geo position and announces the update.
//
// KEYS: state hash, geo set. ARGV: ts_ms, ttl_ms, payload, device_id, lon,
// lat, then field/value pairs. lon and lat are empty when the sample has no
// position.
var setStateScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ts_ms')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 7))
redis.call('PEXPIRE', KEYS[1], ARGV[2])
if ARGV[5] ~= '' then
	redis.call('GEOADD', KEYS[2], ARGV[5], ARGV[6], ARGV[4])
end
redis.call('PUBLISH', '` + LiveChannel + `', ARGV[3])
return 1
`)

// PublishState stores the newest sample of each device under a key that
// expires with the online window, and announces it on LiveChannel. A sample
// older than the stored state is ignored.
func (r *RedisStore) PublishState(ctx context.Context, latest []domain.TelemetryEvent) error {
	pipe := r.client.Pipeline()

	for _, e := range latest {
		args, err := stateArgs(e)
		if err != nil {
			return err
		}
		setStateScript.Eval(ctx, pipe, []string{stateKey(e.DeviceID), geoKey}, args...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func stateArgs(e domain.TelemetryEvent) ([]any, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	lon, lat := "", ""
	if e.HasPosition() {
		lon = strconv.FormatFloat(*e.Lon, 'f', -1, 64)
		lat = strconv.FormatFloat(*e.Lat, 'f', -1, 64)
	}
	args := []any{
		e.Timestamp.UnixMilli(),
		domain.OnlineWindow.Milliseconds(),
		payload,
		e.DeviceID,
		lon,
		lat,
		"device_id", e.DeviceID,
		"ts", e.Timestamp.Unix(),
		"ts_ms", e.Timestamp.UnixMilli(),
	}
	args = optional(args, "lat", e.Lat)
	args = optional(args, "lon", e.Lon)
	args = optional(args, "speed_kmh", e.SpeedKmh)
	args = optional(args, "engine_temp_c", e.EngineTempC)
	args = optional(args, "battery_v", e.BatteryV)
	return args, nil
}

func optional(args []any, field string, v *float64) []any {
	if v != nil {
		return append(args, field, *v)
	}
	return args
}

// Relay forwards LiveChannel messages to fn until ctx is cancelled.
func (r *RedisStore) Relay(ctx context.Context, fn func(payload []byte)) error {
	ps := r.client.Subscribe(ctx, LiveChannel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", LiveChannel, err)
	}

	ch := ps.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn([]byte(msg.Payload))
		case <-ctx.Done():
			return nil
		}
	}
}

// GetAPIKey returns the device or fleet the key was issued to, or "" when the
// key is unknown.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	key := fmt.Sprintf("device:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

// SetAPIKey issues a key. A zero ttl never expires.
func (r *RedisStore) SetAPIKey(ctx context.Context, apiKey, owner string, ttl time.Duration) error {
	return r.client.Set(ctx, fmt.Sprintf("device:auth:%s", apiKey), owner, ttl).Err()
}
