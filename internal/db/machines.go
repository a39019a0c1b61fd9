package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"telemetry-service/internal/models"
)

const pgMachineColumns = `id, name, machine_type, COALESCE(location, ''), mode, status, is_active, created_at, updated_at`

func scanPgMachine(row pgx.Row) (models.Machine, error) {
	var m models.Machine
	var mode, status string
	err := row.Scan(&m.ID, &m.Name, &m.MachineType, &m.Location, &mode, &status, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	m.Mode = models.MachineMode(mode)
	m.Status = models.MachineMode(status)
	return m, err
}

// ListMachines returns machines ordered by id.
func (d *Postgres) ListMachines(ctx context.Context, activeOnly bool) ([]models.Machine, error) {
	query := `SELECT ` + pgMachineColumns + ` FROM machines`
	if activeOnly {
		query += ` WHERE is_active`
	}
	rows, err := d.Pool.Query(ctx, query+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	defer rows.Close()

	var list []models.Machine
	for rows.Next() {
		m, err := scanPgMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan machine: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// GetMachine fetches one machine by id.
func (d *Postgres) GetMachine(ctx context.Context, id int64) (models.Machine, error) {
	m, err := scanPgMachine(d.Pool.QueryRow(ctx, `SELECT `+pgMachineColumns+` FROM machines WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return m, ErrNotFound
	}
	if err != nil {
		return m, fmt.Errorf("failed to get machine %d: %w", id, err)
	}
	return m, nil
}

// CreateMachine inserts a machine, letting the sequence pick the id when m.ID is zero.
func (d *Postgres) CreateMachine(ctx context.Context, m models.Machine) (models.Machine, error) {
	if m.ID == 0 {
		err := d.Pool.QueryRow(ctx, `
        INSERT INTO machines (name, machine_type, location, mode, status, is_active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id`,
			m.Name, m.MachineType, m.Location, string(m.Mode), string(m.Status), m.IsActive, m.CreatedAt, m.UpdatedAt,
		).Scan(&m.ID)
		if err != nil {
			return m, fmt.Errorf("failed to create machine: %w", err)
		}
		return m, nil
	}

	_, err := d.Pool.Exec(ctx, `
    INSERT INTO machines (id, name, machine_type, location, mode, status, is_active, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.Name, m.MachineType, m.Location, string(m.Mode), string(m.Status), m.IsActive, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return m, fmt.Errorf("failed to create machine: %w", err)
	}
	return m, nil
}

// UpdateMachineMode persists mode and display status.
func (d *Postgres) UpdateMachineMode(ctx context.Context, id int64, mode, status models.MachineMode, at time.Time) error {
	tag, err := d.Pool.Exec(ctx,
		`UPDATE machines SET mode = $1, status = $2, updated_at = $3 WHERE id = $4`,
		string(mode), string(status), at, id)
	if err != nil {
		return fmt.Errorf("failed to update machine mode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
