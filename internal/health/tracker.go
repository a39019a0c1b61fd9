// Package health tracks the synthetic degradation of every sensor.
package health

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"telemetry-service/internal/clock"
	"telemetry-service/internal/db"
	"telemetry-service/internal/models"
)

// DefaultDecayRate is the loss in percentage points per hour for sensor
// types missing from the rate table.
const DefaultDecayRate = 0.5

var decayRates = map[string]float64{
	"temperature":        0.5,
	"pressure":           0.3,
	"flow_rate":          0.4,
	"level":              0.2,
	"ph":                 0.8,
	"dissolved_oxygen":   0.6,
	"agitation":          0.1,
	"temperature_top":    0.5,
	"temperature_bottom": 0.5,
	"reflux_ratio":       0.3,
	"inlet_temp":         0.5,
	"outlet_temp":        0.5,
	"pressure_drop":      0.4,
}

// DecayRate returns the hourly decay of sensorType.
func DecayRate(sensorType string) float64 {
	if r, ok := decayRates[sensorType]; ok {
		return r
	}
	return DefaultDecayRate
}

// Decay applies elapsed-time loss to h and returns the result stamped at now.
// A shutdown sensor is latched and returned unchanged.
func Decay(h models.SensorHealth, now time.Time, rate float64) models.SensorHealth {
	if h.Status == models.HealthShutdown {
		return h
	}
	hours := now.Sub(h.LastUpdated).Hours()
	if hours < 0 {
		hours = 0
	}
	h.HealthPct = math.Max(0, h.HealthPct-rate*hours)
	h.Status = models.StatusFor(h.HealthPct)
	h.LastUpdated = now
	return h
}

// Store is the subset of db.Store the tracker needs.
type Store interface {
	UpsertHealth(ctx context.Context, h models.SensorHealth) error
	GetHealth(ctx context.Context, machineID int64, sensorType string) (models.SensorHealth, error)
}

type key struct {
	machineID  int64
	sensorType string
}

// Tracker serializes access per (machine, sensor) pair. Unrelated sensors
// never contend.
type Tracker struct {
	store Store
	clock clock.Clock
	locks sync.Map // key -> *sync.Mutex

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// New returns a Tracker. A nil rnd uses a randomly seeded source.
func New(store Store, clk clock.Clock, rnd *rand.Rand) *Tracker {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Tracker{store: store, clock: clk, rnd: rnd}
}

func (t *Tracker) lock(machineID int64, sensorType string) func() {
	v, _ := t.locks.LoadOrStore(key{machineID, sensorType}, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func fresh(machineID int64, sensorType string, now time.Time) models.SensorHealth {
	return models.SensorHealth{
		MachineID:   machineID,
		SensorType:  sensorType,
		HealthPct:   100,
		Status:      models.HealthHealthy,
		LastUpdated: now,
	}
}

func (t *Tracker) load(ctx context.Context, machineID int64, sensorType string, now time.Time) (models.SensorHealth, bool, error) {
	h, err := t.store.GetHealth(ctx, machineID, sensorType)
	if errors.Is(err, db.ErrNotFound) {
		return fresh(machineID, sensorType, now), false, nil
	}
	if err != nil {
		return h, false, err
	}
	return h, true, nil
}

// Peek returns the decayed health without persisting it.
func (t *Tracker) Peek(ctx context.Context, machineID int64, sensorType string) (models.SensorHealth, error) {
	now := t.clock.Now()
	h, _, err := t.load(ctx, machineID, sensorType, now)
	if err != nil {
		return h, err
	}
	return Decay(h, now, DecayRate(sensorType)), nil
}

// Read decays the stored health to now and commits the result. A sensor
// with no row starts at 100%.
func (t *Tracker) Read(ctx context.Context, machineID int64, sensorType string) (models.SensorHealth, error) {
	unlock := t.lock(machineID, sensorType)
	defer unlock()

	now := t.clock.Now()
	h, _, err := t.load(ctx, machineID, sensorType, now)
	if err != nil {
		return h, err
	}
	if h.Status == models.HealthShutdown {
		return h, nil
	}
	h = Decay(h, now, DecayRate(sensorType))
	if err := t.store.UpsertHealth(ctx, h); err != nil {
		return h, err
	}
	return h, nil
}

func (t *Tracker) force(ctx context.Context, machineID int64, sensorType string, pct float64, status models.HealthStatus) (models.SensorHealth, error) {
	unlock := t.lock(machineID, sensorType)
	defer unlock()

	h := models.SensorHealth{
		MachineID:   machineID,
		SensorType:  sensorType,
		HealthPct:   pct,
		Status:      status,
		LastUpdated: t.clock.Now(),
	}
	if err := t.store.UpsertHealth(ctx, h); err != nil {
		return h, fmt.Errorf("failed to force %s health for machine %d: %w", sensorType, machineID, err)
	}
	return h, nil
}

// EnterMaintenance drops the sensor to a random value in [30, 50).
func (t *Tracker) EnterMaintenance(ctx context.Context, machineID int64, sensorType string) (float64, error) {
	t.rndMu.Lock()
	pct := 30 + t.rnd.Float64()*20
	t.rndMu.Unlock()

	h, err := t.force(ctx, machineID, sensorType, pct, models.HealthDegrading)
	return h.HealthPct, err
}

// EnterSabotage latches the sensor at 0% shutdown.
func (t *Tracker) EnterSabotage(ctx context.Context, machineID int64, sensorType string) error {
	_, err := t.force(ctx, machineID, sensorType, 0, models.HealthShutdown)
	return err
}

// ResetNormal restores the sensor to 100% and clears any shutdown latch.
func (t *Tracker) ResetNormal(ctx context.Context, machineID int64, sensorType string) error {
	_, err := t.force(ctx, machineID, sensorType, 100, models.HealthHealthy)
	return err
}

// Summary is the dashboard view of one machine's sensor health.
type Summary struct {
	MachineID int64                       `json:"machine_id"`
	Sensors   []models.SensorHealth       `json:"sensors"`
	Counts    map[models.HealthStatus]int `json:"counts"`
	Overall   float64                     `json:"overall_health"`
}

// Summarize reads every listed sensor, committing decay, and aggregates
// the results.
func (t *Tracker) Summarize(ctx context.Context, machineID int64, sensorTypes []string) (Summary, error) {
	s := Summary{MachineID: machineID, Counts: make(map[models.HealthStatus]int)}
	var total float64
	for _, st := range sensorTypes {
		h, err := t.Read(ctx, machineID, st)
		if err != nil {
			return s, err
		}
		s.Sensors = append(s.Sensors, h)
		s.Counts[h.Status]++
		total += h.HealthPct
	}
	if len(s.Sensors) > 0 {
		s.Overall = total / float64(len(s.Sensors))
	}
	return s, nil
}
