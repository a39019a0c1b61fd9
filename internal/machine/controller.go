// Package machine owns machine mode transitions and their side effects.
package machine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"telemetry-service/internal/alerting"
	"telemetry-service/internal/clock"
	"telemetry-service/internal/db"
	"telemetry-service/internal/latch"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/metrics"
	"telemetry-service/internal/models"
)

var (
	ErrInvalidTransition = errors.New("invalid mode transition")
	ErrUnknownMachine    = errors.New("unknown machine")
	ErrUnknownSensor     = errors.New("unknown sensor")
)

// Store is the machine persistence the controller needs.
type Store interface {
	GetMachine(ctx context.Context, id int64) (models.Machine, error)
	UpdateMachineMode(ctx context.Context, id int64, mode, status models.MachineMode, at time.Time) error
}

// Sensors lists the sensor types of a machine type.
type Sensors interface {
	SensorTypes(machineType string) []string
}

// HealthOverrides are the forced health transitions applied on mode change.
type HealthOverrides interface {
	EnterMaintenance(ctx context.Context, machineID int64, sensorType string) (float64, error)
	EnterSabotage(ctx context.Context, machineID int64, sensorType string) error
	ResetNormal(ctx context.Context, machineID int64, sensorType string) error
}

// Notifier sends the one-off notifications that follow an operator action.
type Notifier interface {
	NotifyModeEntry(ctx context.Context, m models.Machine, sensors []models.SensorHealth)
	NotifySensorMaintenance(ctx context.Context, m models.Machine, h models.SensorHealth)
}

// Evaluator runs the per-tick trigger checks of one machine.
type Evaluator interface {
	Evaluate(ctx context.Context, machine models.Machine, readings []models.SensorReading)
}

// Controller serializes transitions per machine.
type Controller struct {
	store    Store
	sensors  Sensors
	health   HealthOverrides
	latch    *latch.Latch
	recorder *alerting.Recorder
	notifier Notifier
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *logging.Logger
	locks    sync.Map // int64 -> *sync.Mutex
}

// NewController builds a controller. n may be nil, in which case mode entry
// and sensor maintenance send nothing.
func NewController(store Store, sensors Sensors, h HealthOverrides, l *latch.Latch, rec *alerting.Recorder,
	n Notifier, clk clock.Clock, m *metrics.Metrics, logger *logging.Logger) *Controller {
	return &Controller{
		store:    store,
		sensors:  sensors,
		health:   h,
		latch:    l,
		recorder: rec,
		notifier: n,
		clock:    clk,
		metrics:  m,
		logger:   logger,
	}
}

// CanTransition reports whether from may move to to. Shutdown only exits to Normal.
func CanTransition(from, to models.MachineMode) bool {
	if from == models.ModeShutdown {
		return to == models.ModeNormal || to == models.ModeShutdown
	}
	return true
}

// DisplayStatus is the dashboard status for a mode.
func DisplayStatus(mode models.MachineMode) models.MachineMode {
	if mode == models.ModeSabotage {
		return models.ModeShutdown
	}
	return mode
}

// SetMode moves a machine to mode, persists it, applies the health and latch
// side effects and records a low severity mode change alert. Setting the
// current mode again is a no-op.
func (c *Controller) SetMode(ctx context.Context, machineID int64, mode models.MachineMode) (models.Machine, error) {
	defer c.lock(machineID)()

	m, err := c.store.GetMachine(ctx, machineID)
	if errors.Is(err, db.ErrNotFound) {
		return m, fmt.Errorf("%w: %d", ErrUnknownMachine, machineID)
	}
	if err != nil {
		return m, err
	}
	if m.Mode == mode {
		return m, nil
	}
	if !CanTransition(m.Mode, mode) {
		return m, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Mode, mode)
	}

	now := c.clock.Now()
	status := DisplayStatus(mode)
	if err := c.store.UpdateMachineMode(ctx, machineID, mode, status, now); err != nil {
		return m, err
	}
	previous := m.Mode
	m.Mode, m.Status, m.UpdatedAt = mode, status, now

	log := c.logger.With("machine_id", machineID)
	if mode == models.ModeNormal {
		c.latch.DisarmAll(machineID)
	}
	var forced []models.SensorHealth
	for _, sensor := range c.sensors.SensorTypes(m.MachineType) {
		var err error
		switch mode {
		case models.ModeMaintenance:
			var pct float64
			if pct, err = c.health.EnterMaintenance(ctx, machineID, sensor); err == nil {
				forced = append(forced, models.SensorHealth{
					MachineID: machineID, SensorType: sensor, HealthPct: pct,
					Status: models.HealthDegrading, LastUpdated: now,
				})
			}
		case models.ModeSabotage:
			if err = c.health.EnterSabotage(ctx, machineID, sensor); err == nil {
				forced = append(forced, models.SensorHealth{
					MachineID: machineID, SensorType: sensor,
					Status: models.HealthShutdown, LastUpdated: now,
				})
			}
		case models.ModeNormal:
			err = c.health.ResetNormal(ctx, machineID, sensor)
		}
		if err != nil {
			log.Errorf("Health override for %s failed: %v", sensor, err)
		}
	}

	_, err = c.recorder.Record(ctx, models.AlertRecord{
		MachineID: machineID,
		Class:     models.ClassModeChange,
		Severity:  models.SeverityLow,
		Title:     "Mode Change",
		Message:   fmt.Sprintf("%s mode changed from %s to %s", m.Name, previous, mode),
		CreatedAt: now,
	}, map[string]any{"mode": mode, "timestamp": now})
	if err != nil {
		log.Errorf("Record mode change failed: %v", err)
	}
	c.metrics.ModeChange(string(mode))
	log.Infof("Mode changed %s -> %s", previous, mode)
	if c.notifier != nil && len(forced) > 0 {
		c.notifier.NotifyModeEntry(ctx, m, forced)
	}
	return m, nil
}

// SetSensorMaintenance forces one sensor into maintenance health, records a
// medium severity alert and notifies the maintenance team. The machine mode
// is left unchanged.
func (c *Controller) SetSensorMaintenance(ctx context.Context, machineID int64, sensorType string) (models.SensorHealth, error) {
	defer c.lock(machineID)()

	m, err := c.store.GetMachine(ctx, machineID)
	if errors.Is(err, db.ErrNotFound) {
		return models.SensorHealth{}, fmt.Errorf("%w: %d", ErrUnknownMachine, machineID)
	}
	if err != nil {
		return models.SensorHealth{}, err
	}
	if !slices.Contains(c.sensors.SensorTypes(m.MachineType), sensorType) {
		return models.SensorHealth{}, fmt.Errorf("%w: %s on %s", ErrUnknownSensor, sensorType, m.MachineType)
	}

	pct, err := c.health.EnterMaintenance(ctx, machineID, sensorType)
	if err != nil {
		return models.SensorHealth{}, err
	}
	now := c.clock.Now()
	h := models.SensorHealth{
		MachineID: machineID, SensorType: sensorType, HealthPct: pct,
		Status: models.HealthDegrading, LastUpdated: now,
	}

	log := c.logger.With("machine_id", machineID)
	_, err = c.recorder.Record(ctx, models.AlertRecord{
		MachineID:       machineID,
		Class:           models.ClassSensorMaintenance,
		Severity:        models.SeverityMedium,
		Title:           "Sensor Maintenance: " + sensorType,
		Message:         fmt.Sprintf("Individual sensor %s on %s set to maintenance mode", sensorType, m.Name),
		NotifyAttempted: c.notifier != nil,
		CreatedAt:       now,
	}, map[string]any{
		"sensor_type":       sensorType,
		"health_percentage": pct,
		"maintenance_type":  "individual_sensor",
	})
	if err != nil {
		log.Errorf("Record sensor maintenance failed: %v", err)
	}
	log.Infof("Sensor %s set to maintenance (%.1f%% health)", sensorType, pct)
	if c.notifier != nil {
		c.notifier.NotifySensorMaintenance(ctx, m, h)
	}
	return h, nil
}

// Guard wraps ev so each evaluation runs under the machine's transition lock
// against the stored mode. A tick whose mode went stale while it ran is
// dropped, and ticks of Normal machines clear every latch.
func (c *Controller) Guard(ev Evaluator) Evaluator {
	return guarded{c: c, next: ev}
}

type guarded struct {
	c    *Controller
	next Evaluator
}

func (g guarded) Evaluate(ctx context.Context, machine models.Machine, readings []models.SensorReading) {
	defer g.c.lock(machine.ID)()

	log := g.c.logger.With("machine_id", machine.ID)
	cur, err := g.c.store.GetMachine(ctx, machine.ID)
	if err != nil {
		log.Errorf("Reload machine before evaluation failed: %v", err)
		return
	}
	if cur.Mode != machine.Mode {
		log.Debugf("Mode changed %s -> %s during tick, skipping evaluation", machine.Mode, cur.Mode)
		return
	}
	if cur.Mode == models.ModeNormal {
		g.c.latch.DisarmAll(cur.ID)
		return
	}
	g.next.Evaluate(ctx, cur, readings)
}

func (c *Controller) lock(machineID int64) func() {
	v, _ := c.locks.LoadOrStore(machineID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
