package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5"

	"fleet-monitor/telemetry/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DBHost == "" {
		cfg.DBHost = "localhost"
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName,
	)

	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	createExtension(ctx, conn)
	createTelemetryTable(ctx, conn)
	createIndexes(ctx, conn)
	applyRetention(ctx, conn)
	verify(ctx, conn)

	fmt.Println("\n✅ Database initialised")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

func createExtension(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Extension ───────────────────────────────────")
	execOrFatal(ctx, conn,
		"CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;",
		"timescaledb extension",
	)
}

func createTelemetryTable(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── telemetry_events ────────────────────────────")

	// Readings are nullable: a device may omit any of them.
	// (device_id, ts) is the identity of a sample; re-sent samples are skipped on insert.
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS telemetry_events (
			device_id      TEXT             NOT NULL,
			ts             TIMESTAMPTZ      NOT NULL,
			lat            DOUBLE PRECISION,
			lon            DOUBLE PRECISION,
			speed_kmh      DOUBLE PRECISION,
			engine_temp_c  DOUBLE PRECISION,
			battery_v      DOUBLE PRECISION,
			received_at    TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
			PRIMARY KEY (device_id, ts)
		);
	`, "telemetry_events table")

	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'telemetry_events',
			'ts',
			chunk_time_interval => INTERVAL '1 day',
			if_not_exists => TRUE
		);
	`, "telemetry_events hypertable (1 day chunks)")
}

func createIndexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Indexes ─────────────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		use  string
	}{
		{
			name: "idx_telemetry_device_ts",
			sql: `CREATE INDEX IF NOT EXISTS idx_telemetry_device_ts
				  ON telemetry_events (device_id, ts DESC);`,
			use: "latest sample and history of one device",
		},
		{
			name: "idx_telemetry_ts",
			sql: `CREATE INDEX IF NOT EXISTS idx_telemetry_ts
				  ON telemetry_events (ts DESC);`,
			use: "fleet-wide analysis windows",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql, fmt.Sprintf("%-28s ← %s", idx.name, idx.use))
	}
}

// applyRetention installs a drop-chunks policy when RETENTION_DAYS is set.
func applyRetention(ctx context.Context, conn *pgx.Conn) {
	days, err := strconv.Atoi(os.Getenv("RETENTION_DAYS"))
	if err != nil || days <= 0 {
		return
	}
	fmt.Println("\n── Retention ───────────────────────────────────")
	execOrFatal(ctx, conn,
		fmt.Sprintf("SELECT add_retention_policy('telemetry_events', INTERVAL '%d days', if_not_exists => TRUE);", days),
		fmt.Sprintf("drop chunks older than %d days", days),
	)
}

func verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Verification ────────────────────────────────")

	var hypertable string
	err := conn.QueryRow(ctx, `
		SELECT hypertable_name
		FROM timescaledb_information.hypertables
		WHERE hypertable_name = 'telemetry_events'
	`).Scan(&hypertable)
	if err != nil {
		log.Fatalf("telemetry_events is not a hypertable: %v", err)
	}
	fmt.Printf("  ✓ hypertable: %s\n", hypertable)

	var indexCount int
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename = 'telemetry_events'
		AND indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes: %d\n", indexCount)
}

// execOrFatal runs a statement and prints label, or exits on error.
func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	if _, err := conn.Exec(ctx, sql); err != nil {
		log.Fatalf("FAILED: %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}
