package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-monitor/telemetry/internal/config"
	"fleet-monitor/telemetry/internal/domain"
)

type TimescaleStore struct {
	pool *pgxpool.Pool
}

func NewTimescaleStore(ctx context.Context, cfg *config.Config) (*TimescaleStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &TimescaleStore{pool: pool}, nil
}

func (s *TimescaleStore) Close() {
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var telemetryColumns = []string{
	"device_id",
	"ts",
	"lat",
	"lon",
	"speed_kmh",
	"engine_temp_c",
	"battery_v",
}

const selectColumns = `device_id, ts, lat, lon, speed_kmh, engine_temp_c, battery_v`

// Commit writes a batch in one transaction. Rows are copied into a temporary
// table first so that samples already stored under the same (device_id, ts)
// are skipped instead of failing the whole batch.
func (s *TimescaleStore) Commit(ctx context.Context, events []domain.TelemetryEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]any, len(events))
	for i, e := range events {
		rows[i] = []any{
			e.DeviceID,
			e.Timestamp,
			e.Lat,
			e.Lon,
			e.SpeedKmh,
			e.EngineTempC,
			e.BatteryV,
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch of %d: %w", len(events), err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		CREATE TEMP TABLE telemetry_staging
			(LIKE telemetry_events INCLUDING DEFAULTS)
		ON COMMIT DROP
	`)
	if err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}

	_, err = tx.CopyFrom(
		ctx,
		pgx.Identifier{"telemetry_staging"},
		telemetryColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(events), err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO telemetry_events (`+selectColumns+`)
		SELECT `+selectColumns+` FROM telemetry_staging
		ON CONFLICT (device_id, ts) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("merge batch of %d: %w", len(events), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch of %d: %w", len(events), err)
	}
	return nil
}

func (s *TimescaleStore) Latest(ctx context.Context, deviceID string) (domain.TelemetryEvent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM telemetry_events
		WHERE device_id = $1
		ORDER BY ts DESC
		LIMIT 1
	`, deviceID)

	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TelemetryEvent{}, ErrNotFound
	}
	if err != nil {
		return domain.TelemetryEvent{}, fmt.Errorf("latest for %s: %w", deviceID, err)
	}
	return e, nil
}

func (s *TimescaleStore) LatestPerDevice(ctx context.Context) ([]domain.TelemetryEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (device_id) `+selectColumns+`
		FROM telemetry_events
		ORDER BY device_id, ts DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("latest per device: %w", err)
	}
	return collectEvents(rows)
}

func (s *TimescaleStore) DeviceEvents(ctx context.Context, deviceID string, w domain.Window, limit int) (domain.EventSeries, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.pool.Query(ctx, `
			SELECT * FROM (
				SELECT `+selectColumns+`
				FROM telemetry_events
				WHERE device_id = $1 AND ts >= $2 AND ts < $3
				ORDER BY ts DESC
				LIMIT $4
			) newest
			ORDER BY ts ASC
		`, deviceID, w.Start, w.End, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+selectColumns+`
			FROM telemetry_events
			WHERE device_id = $1 AND ts >= $2 AND ts < $3
			ORDER BY ts ASC
		`, deviceID, w.Start, w.End)
	}
	if err != nil {
		return nil, fmt.Errorf("events for %s: %w", deviceID, err)
	}

	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		if _, err := s.Latest(ctx, deviceID); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (s *TimescaleStore) EventsInWindow(ctx context.Context, w domain.Window) ([]DeviceSeries, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM telemetry_events
		WHERE ts >= $1 AND ts < $2
		ORDER BY device_id, ts ASC
	`, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("events in window: %w", err)
	}

	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}

	var out []DeviceSeries
	for _, e := range events {
		if n := len(out); n == 0 || out[n-1].DeviceID != e.DeviceID {
			out = append(out, DeviceSeries{DeviceID: e.DeviceID})
		}
		last := &out[len(out)-1]
		last.Events = append(last.Events, e)
	}
	return out, nil
}

// scanEvent decodes one row. Nullable readings scan into pointers and stay nil
// when the column is NULL.
func scanEvent(row pgx.Row) (domain.TelemetryEvent, error) {
	var e domain.TelemetryEvent
	err := row.Scan(
		&e.DeviceID,
		&e.Timestamp,
		&e.Lat,
		&e.Lon,
		&e.SpeedKmh,
		&e.EngineTempC,
		&e.BatteryV,
	)
	if err != nil {
		return domain.TelemetryEvent{}, err
	}
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}

func collectEvents(rows pgx.Rows) ([]domain.TelemetryEvent, error) {
	defer rows.Close()

	var out []domain.TelemetryEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan telemetry row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read telemetry rows: %w", err)
	}
	return out, nil
}
