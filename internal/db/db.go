package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS machines (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    machine_type TEXT NOT NULL,
    location TEXT,
    mode TEXT NOT NULL DEFAULT 'normal',
    status TEXT NOT NULL DEFAULT 'normal',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS sensor_readings (
    id BIGSERIAL PRIMARY KEY,
    machine_id BIGINT NOT NULL,
    sensor_type TEXT NOT NULL,
    value DOUBLE PRECISION NOT NULL,
    unit TEXT,
    is_anomaly BOOLEAN NOT NULL,
    anomaly_score DOUBLE PRECISION NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_readings_machine_ts ON sensor_readings(machine_id, timestamp DESC);
CREATE TABLE IF NOT EXISTS alerts (
    id UUID PRIMARY KEY,
    machine_id BIGINT NOT NULL,
    class TEXT NOT NULL,
    severity TEXT NOT NULL,
    title TEXT NOT NULL,
    message TEXT,
    payload JSONB,
    notify_attempted BOOLEAN NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS sensor_health (
    machine_id BIGINT NOT NULL,
    sensor_type TEXT NOT NULL,
    health_percentage DOUBLE PRECISION NOT NULL,
    status TEXT NOT NULL,
    last_updated TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (machine_id, sensor_type)
);`

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres connects to dsn and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Postgres{Pool: pool}, nil
}

func (d *Postgres) Ping(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}

func (d *Postgres) Close() error {
	d.Pool.Close()
	return nil
}
