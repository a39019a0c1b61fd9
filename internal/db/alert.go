package db

import (
	"context"
	"fmt"

	"telemetry-service/internal/models"
)

// InsertAlert appends an alert record.
func (d *Postgres) InsertAlert(ctx context.Context, a models.AlertRecord) error {
	query := `
    INSERT INTO alerts (
        id, machine_id, class, severity, title, message, payload, notify_attempted, created_at
    ) VALUES (
        $1, $2, $3, $4, $5, $6, $7, $8, $9
    )`

	var payload []byte
	if len(a.Payload) > 0 {
		payload = a.Payload
	}
	_, err := d.Pool.Exec(ctx, query,
		a.ID,
		a.MachineID,
		string(a.Class),
		string(a.Severity),
		a.Title,
		a.Message,
		payload,
		a.NotifyAttempted,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// ListAlerts fetches alerts newest first, optionally for one machine.
func (d *Postgres) ListAlerts(ctx context.Context, f AlertFilter) ([]models.AlertRecord, error) {
	query := `
	SELECT
		id::text, machine_id, class, severity, title, COALESCE(message, ''), payload, notify_attempted, created_at
	FROM alerts`

	var args []interface{}
	if f.MachineID != 0 {
		args = append(args, f.MachineID)
		query += fmt.Sprintf(" WHERE machine_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get alerts: %w", err)
	}
	defer rows.Close()

	var list []models.AlertRecord
	for rows.Next() {
		var a models.AlertRecord
		var id, class, severity string
		var payload []byte
		err := rows.Scan(
			&id,
			&a.MachineID,
			&class,
			&severity,
			&a.Title,
			&a.Message,
			&payload,
			&a.NotifyAttempted,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if err := a.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, fmt.Errorf("failed to parse alert id %q: %w", id, err)
		}
		a.Class = models.IncidentClass(class)
		a.Severity = models.Severity(severity)
		a.Payload = payload
		list = append(list, a)
	}

	return list, rows.Err()
}
