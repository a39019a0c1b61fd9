package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"telemetry-service/internal/models"
)

// InsertReading appends one sensor reading.
func (d *Postgres) InsertReading(ctx context.Context, r models.SensorReading) error {
	query := `
    INSERT INTO sensor_readings (machine_id, sensor_type, value, unit, is_anomaly, anomaly_score, timestamp)
    VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := d.Pool.Exec(ctx, query,
		r.MachineID, r.SensorType, r.Value, r.Unit, r.IsAnomaly, r.AnomalyScore, r.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

const pgReadingColumns = `id, machine_id, sensor_type, value, COALESCE(unit, ''), is_anomaly, anomaly_score, timestamp`

func scanPgReading(row pgx.Row) (models.SensorReading, error) {
	var r models.SensorReading
	err := row.Scan(&r.ID, &r.MachineID, &r.SensorType, &r.Value, &r.Unit, &r.IsAnomaly, &r.AnomalyScore, &r.Timestamp)
	r.Timestamp = r.Timestamp.UTC()
	return r, err
}

// QueryLatest returns the most recent reading of one sensor.
func (d *Postgres) QueryLatest(ctx context.Context, machineID int64, sensorType string) (models.SensorReading, error) {
	query := `SELECT ` + pgReadingColumns + ` FROM sensor_readings
    WHERE machine_id = $1 AND sensor_type = $2
    ORDER BY timestamp DESC, id DESC LIMIT 1`

	r, err := scanPgReading(d.Pool.QueryRow(ctx, query, machineID, sensorType))
	if errors.Is(err, pgx.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, fmt.Errorf("failed to query latest reading: %w", err)
	}
	return r, nil
}

// QueryRange returns readings in [start, end), newest first.
func (d *Postgres) QueryRange(ctx context.Context, machineID int64, start, end time.Time) ([]models.SensorReading, error) {
	query := `SELECT ` + pgReadingColumns + ` FROM sensor_readings
    WHERE machine_id = $1 AND timestamp >= $2 AND timestamp < $3
    ORDER BY timestamp DESC, id DESC`

	rows, err := d.Pool.Query(ctx, query, machineID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var list []models.SensorReading
	for rows.Next() {
		r, err := scanPgReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}
