package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"telemetry-service/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS machines (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    machine_type TEXT NOT NULL,
    location TEXT,
    mode TEXT NOT NULL DEFAULT 'normal',
    status TEXT NOT NULL DEFAULT 'normal',
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sensor_readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    machine_id INTEGER NOT NULL,
    sensor_type TEXT NOT NULL,
    value REAL NOT NULL,
    unit TEXT,
    is_anomaly INTEGER NOT NULL,
    anomaly_score REAL NOT NULL,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_readings_machine_ts ON sensor_readings(machine_id, timestamp);
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    machine_id INTEGER NOT NULL,
    class TEXT NOT NULL,
    severity TEXT NOT NULL,
    title TEXT NOT NULL,
    message TEXT,
    payload TEXT,
    notify_attempted INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sensor_health (
    machine_id INTEGER NOT NULL,
    sensor_type TEXT NOT NULL,
    health_percentage REAL NOT NULL,
    status TEXT NOT NULL,
    last_updated INTEGER NOT NULL,
    PRIMARY KEY (machine_id, sensor_type)
);`

// SQLite implements Store on a local database file. Timestamps are stored
// as unix nanoseconds so range scans compare integers.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and applies the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) InsertReading(ctx context.Context, r models.SensorReading) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_readings(machine_id, sensor_type, value, unit, is_anomaly, anomaly_score, timestamp) VALUES(?,?,?,?,?,?,?)`,
		r.MachineID, r.SensorType, r.Value, r.Unit, r.IsAnomaly, r.AnomalyScore, r.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

const readingColumns = `id, machine_id, sensor_type, value, unit, is_anomaly, anomaly_score, timestamp`

func scanReading(sc interface{ Scan(...any) error }) (models.SensorReading, error) {
	var r models.SensorReading
	var unit sql.NullString
	var ts int64
	if err := sc.Scan(&r.ID, &r.MachineID, &r.SensorType, &r.Value, &unit, &r.IsAnomaly, &r.AnomalyScore, &ts); err != nil {
		return r, err
	}
	r.Unit = unit.String
	r.Timestamp = time.Unix(0, ts).UTC()
	return r, nil
}

func (s *SQLite) QueryLatest(ctx context.Context, machineID int64, sensorType string) (models.SensorReading, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+readingColumns+` FROM sensor_readings WHERE machine_id = ? AND sensor_type = ? ORDER BY timestamp DESC, id DESC LIMIT 1`,
		machineID, sensorType)
	r, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, fmt.Errorf("failed to query latest reading: %w", err)
	}
	return r, nil
}

func (s *SQLite) QueryRange(ctx context.Context, machineID int64, start, end time.Time) ([]models.SensorReading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM sensor_readings WHERE machine_id = ? AND timestamp >= ? AND timestamp < ? ORDER BY timestamp DESC, id DESC`,
		machineID, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var out []models.SensorReading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) InsertAlert(ctx context.Context, a models.AlertRecord) error {
	var payload any
	if len(a.Payload) > 0 {
		payload = string(a.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts(id, machine_id, class, severity, title, message, payload, notify_attempted, created_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		a.ID.String(), a.MachineID, string(a.Class), string(a.Severity), a.Title, a.Message, payload, a.NotifyAttempted, a.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (s *SQLite) ListAlerts(ctx context.Context, f AlertFilter) ([]models.AlertRecord, error) {
	q := `SELECT id, machine_id, class, severity, title, message, payload, notify_attempted, created_at FROM alerts`
	var args []any
	if f.MachineID != 0 {
		q += ` WHERE machine_id = ?`
		args = append(args, f.MachineID)
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []models.AlertRecord
	for rows.Next() {
		var a models.AlertRecord
		var id, class, severity string
		var message, payload sql.NullString
		var created int64
		if err := rows.Scan(&id, &a.MachineID, &class, &severity, &a.Title, &message, &payload, &a.NotifyAttempted, &created); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if a.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("failed to parse alert id %q: %w", id, err)
		}
		a.Class = models.IncidentClass(class)
		a.Severity = models.Severity(severity)
		a.Message = message.String
		if payload.Valid {
			a.Payload = []byte(payload.String)
		}
		a.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertHealth(ctx context.Context, h models.SensorHealth) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO sensor_health(machine_id, sensor_type, health_percentage, status, last_updated)
        VALUES(?,?,?,?,?)
        ON CONFLICT(machine_id, sensor_type) DO UPDATE SET
            health_percentage = excluded.health_percentage,
            status = excluded.status,
            last_updated = excluded.last_updated`,
		h.MachineID, h.SensorType, h.HealthPct, string(h.Status), h.LastUpdated.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert sensor health: %w", err)
	}
	return nil
}

func (s *SQLite) GetHealth(ctx context.Context, machineID int64, sensorType string) (models.SensorHealth, error) {
	h := models.SensorHealth{MachineID: machineID, SensorType: sensorType}
	var status string
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT health_percentage, status, last_updated FROM sensor_health WHERE machine_id = ? AND sensor_type = ?`,
		machineID, sensorType).Scan(&h.HealthPct, &status, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return h, ErrNotFound
	}
	if err != nil {
		return h, fmt.Errorf("failed to get sensor health: %w", err)
	}
	h.Status = models.HealthStatus(status)
	h.LastUpdated = time.Unix(0, updated).UTC()
	return h, nil
}

const machineColumns = `id, name, machine_type, location, mode, status, is_active, created_at, updated_at`

func scanMachine(sc interface{ Scan(...any) error }) (models.Machine, error) {
	var m models.Machine
	var location sql.NullString
	var mode, status string
	var created, updated int64
	if err := sc.Scan(&m.ID, &m.Name, &m.MachineType, &location, &mode, &status, &m.IsActive, &created, &updated); err != nil {
		return m, err
	}
	m.Location = location.String
	m.Mode = models.MachineMode(mode)
	m.Status = models.MachineMode(status)
	m.CreatedAt = time.Unix(0, created).UTC()
	m.UpdatedAt = time.Unix(0, updated).UTC()
	return m, nil
}

func (s *SQLite) ListMachines(ctx context.Context, activeOnly bool) ([]models.Machine, error) {
	q := `SELECT ` + machineColumns + ` FROM machines`
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	defer rows.Close()

	var out []models.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan machine: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) GetMachine(ctx context.Context, id int64) (models.Machine, error) {
	m, err := scanMachine(s.db.QueryRowContext(ctx, `SELECT `+machineColumns+` FROM machines WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	if err != nil {
		return m, fmt.Errorf("failed to get machine %d: %w", id, err)
	}
	return m, nil
}

func (s *SQLite) CreateMachine(ctx context.Context, m models.Machine) (models.Machine, error) {
	var id any
	if m.ID != 0 {
		id = m.ID
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO machines(id, name, machine_type, location, mode, status, is_active, created_at, updated_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		id, m.Name, m.MachineType, m.Location, string(m.Mode), string(m.Status), m.IsActive, m.CreatedAt.UnixNano(), m.UpdatedAt.UnixNano())
	if err != nil {
		return m, fmt.Errorf("failed to create machine: %w", err)
	}
	if m.ID == 0 {
		if m.ID, err = res.LastInsertId(); err != nil {
			return m, fmt.Errorf("failed to read machine id: %w", err)
		}
	}
	return m, nil
}

func (s *SQLite) UpdateMachineMode(ctx context.Context, id int64, mode, status models.MachineMode, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE machines SET mode = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(mode), string(status), at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to update machine mode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
