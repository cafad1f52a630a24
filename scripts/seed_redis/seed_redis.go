package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"strings"

	"fleet-monitor/telemetry/internal/config"
	"fleet-monitor/telemetry/internal/store"
)

// defaultKeys are issued when no -keys flag is given.
var defaultKeys = map[string]string{
	"fleet_sao_paulo_key": "fleet_sao_paulo",
	"fleet_campinas_key":  "fleet_campinas",
	"truck_001_key":       "truck-001",
	"test_key":            "test_fleet",
}

func main() {
	keysFlag := flag.String("keys", "", "comma separated key=owner pairs to issue instead of the defaults")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}

	keys := defaultKeys
	if *keysFlag != "" {
		keys, err = parseKeys(*keysFlag)
		if err != nil {
			log.Fatalf("-keys: %v", err)
		}
	}

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	rs, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	defer rs.Close()
	fmt.Println("✓ Connected")

	fmt.Println("\n── API keys ────────────────────────────────────")
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	// device:auth:{key} → owner, never expires
	for _, k := range names {
		if err := rs.SetAPIKey(ctx, k, keys[k], 0); err != nil {
			log.Fatalf("Failed to set key %s: %v", k, err)
		}
		fmt.Printf("  ✓ %-30s → %s\n", k, keys[k])
	}

	fmt.Println("\n── Verification ────────────────────────────────")
	for _, k := range names {
		owner, err := rs.GetAPIKey(ctx, k)
		if err != nil || owner != keys[k] {
			log.Fatalf("Spot check failed for %s: got %q, err %v", k, owner, err)
		}
	}
	fmt.Printf("  ✓ %d API keys readable\n", len(names))

	fmt.Println("\n✅ Redis seeded")
}

func parseKeys(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		key, owner, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || key == "" || owner == "" {
			return nil, fmt.Errorf("malformed pair %q, want key=owner", pair)
		}
		out[key] = owner
	}
	return out, nil
}
