// Package api exposes the dashboard surface over HTTP and a websocket
// stream of live readings.
package api

import (
	"context"
	"time"

	"telemetry-service/internal/db"
	"telemetry-service/internal/health"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
)

// Store is the read side the dashboard queries.
type Store interface {
	ListMachines(ctx context.Context, activeOnly bool) ([]models.Machine, error)
	GetMachine(ctx context.Context, id int64) (models.Machine, error)
	QueryLatest(ctx context.Context, machineID int64, sensorType string) (models.SensorReading, error)
	QueryRange(ctx context.Context, machineID int64, start, end time.Time) ([]models.SensorReading, error)
	ListAlerts(ctx context.Context, f db.AlertFilter) ([]models.AlertRecord, error)
	Ping(ctx context.Context) error
}

// Controls are the operator actions on a machine.
type Controls interface {
	SetMode(ctx context.Context, machineID int64, mode models.MachineMode) (models.Machine, error)
	SetSensorMaintenance(ctx context.Context, machineID int64, sensorType string) (models.SensorHealth, error)
}

type HealthSummarizer interface {
	Summarize(ctx context.Context, machineID int64, sensorTypes []string) (health.Summary, error)
}

type Sensors interface {
	SensorTypes(machineType string) []string
}

// Escalator places manual emergency calls and looks them up.
type Escalator interface {
	CallStatus(ctx context.Context, sid string) (models.CallStatus, error)
	EmergencyCall(ctx context.Context, m models.Machine) (int, error)
}

// Handler serves every dashboard route.
type Handler struct {
	store   Store
	modes   Controls
	health  HealthSummarizer
	sensors Sensors
	calls   Escalator
	hub     *Hub
	now     func() time.Time
	logger  *logging.Logger
}

type Deps struct {
	Store   Store
	Modes   Controls
	Health  HealthSummarizer
	Sensors Sensors
	Calls   Escalator
	Hub     *Hub
	Now     func() time.Time
}

func NewHandler(d Deps, logger *logging.Logger) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Hub == nil {
		d.Hub = NewHub(logger)
	}
	return &Handler{
		store:   d.Store,
		modes:   d.Modes,
		health:  d.Health,
		sensors: d.Sensors,
		calls:   d.Calls,
		hub:     d.Hub,
		now:     d.Now,
		logger:  logger,
	}
}
