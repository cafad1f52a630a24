package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fleet-monitor/telemetry/internal/domain"
)

type Config struct {
	// HTTP
	HTTPPort string

	// Storage backend: "timescale" or "memory"
	Store               string
	MemoryStoreCapacity int

	// TimescaleDB
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Ingestion buffer
	BatchSize          int
	BatchFlushInterval time.Duration
	BatchRetryBackoff  time.Duration

	// Ingestion rate limit per API key, events per second
	IngestRateLimit float64
	IngestRateBurst int

	// Fuel economy
	Fuel             domain.FuelConfig
	FuelProfilesFile string
	deviceFuel       map[string]domain.FuelConfig
	SystemCost       float64
	AnalyticsWorkers int

	// Mirrors, enabled when configured
	KafkaBrokers []string
	KafkaTopic   string
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// MQTT ingestion, enabled when MQTTBroker is set
	MQTTBroker   string
	MQTTClientID string
	MQTTTopic    string
	MQTTUsername string
	MQTTPassword string
	MQTTQoS      byte

	// Auth
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string

	LogLevel slog.Level
}

// Load reads the configuration from the environment, after applying a .env
// file when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:            getEnv("HTTP_PORT", "8001"),
		Store:               getEnv("STORE", ""),
		MemoryStoreCapacity: getEnvInt("MEMORY_STORE_CAPACITY", 1000),
		DBHost:              getEnv("DB_HOST", ""),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "fleet_user"),
		DBPassword:          getEnv("DB_PASSWORD", "fleet_password"),
		DBName:              getEnv("DB_NAME", "fleet_monitor"),
		DBMaxConns:          int32(getEnvInt("DB_MAX_CONNS", 15)),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		BatchSize:           getEnvInt("BATCH_SIZE", 100),
		BatchFlushInterval:  getEnvDuration("BATCH_FLUSH_INTERVAL_MS", 2000*time.Millisecond),
		BatchRetryBackoff:   getEnvDuration("BATCH_RETRY_BACKOFF_MS", 500*time.Millisecond),
		IngestRateLimit:     getEnvFloat("INGEST_RATE_LIMIT", 0),
		IngestRateBurst:     getEnvInt("INGEST_RATE_BURST", 200),
		Fuel: domain.FuelConfig{
			TankCapacityL:     getEnvFloat("TANK_CAPACITY_L", 300),
			ExpectedKmL:       getEnvFloat("EXPECTED_KML", 8.5),
			FuelPrice:         getEnvFloat("FUEL_PRICE", 5.80),
			IdleConsumptionLH: getEnvFloat("IDLE_CONSUMPTION_LH", 0.8),
		},
		FuelProfilesFile:    getEnv("FUEL_PROFILES_FILE", ""),
		SystemCost:          getEnvFloat("SYSTEM_COST", 70000),
		AnalyticsWorkers:    getEnvInt("ANALYTICS_WORKERS", 8),
		KafkaBrokers:        splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "telemetry.events"),
		InfluxURL:           getEnv("INFLUX_URL", ""),
		InfluxToken:         getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:           getEnv("INFLUX_ORG", "fleet"),
		InfluxBucket:        getEnv("INFLUX_BUCKET", "telemetry"),
		MQTTBroker:          getEnv("MQTT_BROKER", ""),
		MQTTClientID:        getEnv("MQTT_CLIENT_ID", "fleet-telemetry"),
		MQTTTopic:           getEnv("MQTT_TOPIC", "fleet/+/telemetry"),
		MQTTUsername:        getEnv("MQTT_USERNAME", ""),
		MQTTPassword:        getEnv("MQTT_PASSWORD", ""),
		MQTTQoS:             byte(min(max(getEnvInt("MQTT_QOS", 1), 0), 2)),
		AuthCacheTTLSeconds: getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:        splitList(getEnv("VALID_API_KEYS", "")),
		LogLevel:            parseLevel(getEnv("LOG_LEVEL", "info")),
	}

	// Without a database host samples are kept in memory.
	if cfg.Store == "" {
		cfg.Store = "memory"
		if cfg.DBHost != "" {
			cfg.Store = "timescale"
		}
	}

	switch cfg.Store {
	case "memory":
	case "timescale":
		if cfg.DBHost == "" {
			return nil, errors.New("STORE=timescale requires DB_HOST")
		}
	default:
		return nil, fmt.Errorf("unknown STORE %q (want timescale or memory)", cfg.Store)
	}

	if cfg.FuelProfilesFile != "" {
		if err := cfg.loadFuelProfiles(cfg.FuelProfilesFile); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// fuelProfiles is the layout of FUEL_PROFILES_FILE. Fields left out of the
// default fall back to the environment; device overrides fall back to the
// default.
type fuelProfiles struct {
	Default fuelProfile            `yaml:"default"`
	Devices map[string]fuelProfile `yaml:"devices"`
}

type fuelProfile struct {
	TankCapacityL     *float64 `yaml:"tank_capacity"`
	ExpectedKmL       *float64 `yaml:"expected_kml"`
	FuelPrice         *float64 `yaml:"fuel_price"`
	IdleConsumptionLH *float64 `yaml:"idle_consumption_lh"`
}

func (p fuelProfile) over(base domain.FuelConfig) domain.FuelConfig {
	if p.TankCapacityL != nil {
		base.TankCapacityL = *p.TankCapacityL
	}
	if p.ExpectedKmL != nil {
		base.ExpectedKmL = *p.ExpectedKmL
	}
	if p.FuelPrice != nil {
		base.FuelPrice = *p.FuelPrice
	}
	if p.IdleConsumptionLH != nil {
		base.IdleConsumptionLH = *p.IdleConsumptionLH
	}
	return base
}

func (c *Config) loadFuelProfiles(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fuel profiles: %w", err)
	}
	return c.parseFuelProfiles(raw)
}

func (c *Config) parseFuelProfiles(raw []byte) error {
	var profiles fuelProfiles
	if err := yaml.Unmarshal(raw, &profiles); err != nil {
		return fmt.Errorf("parse fuel profiles: %w", err)
	}

	c.Fuel = profiles.Default.over(c.Fuel)
	c.deviceFuel = make(map[string]domain.FuelConfig, len(profiles.Devices))
	for id, p := range profiles.Devices {
		c.deviceFuel[id] = p.over(c.Fuel)
	}
	return nil
}

// FuelFor returns the fuel parameters of a device: its profile override when
// one exists, the fleet default otherwise.
func (c *Config) FuelFor(deviceID string) domain.FuelConfig {
	if f, ok := c.deviceFuel[deviceID]; ok {
		return f
	}
	return c.Fuel
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration reads a whole number of milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	ms := getEnvInt(key, -1)
	if ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseLevel(v string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return slog.LevelInfo
	}
	return level
}
