package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"telemetry-service/internal/models"
)

// UpsertHealth writes the health row of one sensor.
func (d *Postgres) UpsertHealth(ctx context.Context, h models.SensorHealth) error {
	query := `
    INSERT INTO sensor_health (machine_id, sensor_type, health_percentage, status, last_updated)
    VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (machine_id, sensor_type) DO UPDATE SET
        health_percentage = EXCLUDED.health_percentage,
        status = EXCLUDED.status,
        last_updated = EXCLUDED.last_updated`

	_, err := d.Pool.Exec(ctx, query, h.MachineID, h.SensorType, h.HealthPct, string(h.Status), h.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to upsert sensor health: %w", err)
	}
	return nil
}

// GetHealth fetches the health row of one sensor.
func (d *Postgres) GetHealth(ctx context.Context, machineID int64, sensorType string) (models.SensorHealth, error) {
	h := models.SensorHealth{MachineID: machineID, SensorType: sensorType}
	var status string
	err := d.Pool.QueryRow(ctx,
		`SELECT health_percentage, status, last_updated FROM sensor_health WHERE machine_id = $1 AND sensor_type = $2`,
		machineID, sensorType,
	).Scan(&h.HealthPct, &status, &h.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return h, ErrNotFound
	}
	if err != nil {
		return h, fmt.Errorf("failed to get sensor health: %w", err)
	}
	h.Status = models.HealthStatus(status)
	h.LastUpdated = h.LastUpdated.UTC()
	return h, nil
}
