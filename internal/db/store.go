package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telemetry-service/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// AlertFilter narrows ListAlerts. Zero values mean no restriction.
type AlertFilter struct {
	MachineID int64
	Limit     int
}

// Store is the persistence collaborator of the simulation core.
type Store interface {
	InsertReading(ctx context.Context, r models.SensorReading) error
	QueryLatest(ctx context.Context, machineID int64, sensorType string) (models.SensorReading, error)
	// QueryRange returns readings with start <= timestamp < end, newest first.
	QueryRange(ctx context.Context, machineID int64, start, end time.Time) ([]models.SensorReading, error)

	InsertAlert(ctx context.Context, a models.AlertRecord) error
	ListAlerts(ctx context.Context, f AlertFilter) ([]models.AlertRecord, error)

	UpsertHealth(ctx context.Context, h models.SensorHealth) error
	GetHealth(ctx context.Context, machineID int64, sensorType string) (models.SensorHealth, error)

	ListMachines(ctx context.Context, activeOnly bool) ([]models.Machine, error)
	GetMachine(ctx context.Context, id int64) (models.Machine, error)
	// CreateMachine assigns an ID when m.ID is zero.
	CreateMachine(ctx context.Context, m models.Machine) (models.Machine, error)
	UpdateMachineMode(ctx context.Context, id int64, mode, status models.MachineMode, at time.Time) error

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*SQLite)(nil)
	_ Store = (*Memory)(nil)
)

// Open returns the Store for driver. dsn is ignored for the memory driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "postgres":
		pg, err := NewPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "sqlite":
		lite, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return lite, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

// SeedMachines creates one active machine per machine type when the store
// has none. It returns the number of machines created.
func SeedMachines(ctx context.Context, s Store, machineTypes []string, now time.Time) (int, error) {
	existing, err := s.ListMachines(ctx, false)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	for i, mt := range machineTypes {
		m := models.Machine{
			Name:        fmt.Sprintf("%s %d", mt, i+1),
			MachineType: mt,
			Location:    fmt.Sprintf("Plant Floor %d", i/2+1),
			Mode:        models.ModeNormal,
			Status:      models.ModeNormal,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if _, err := s.CreateMachine(ctx, m); err != nil {
			return i, err
		}
	}
	return len(machineTypes), nil
}
