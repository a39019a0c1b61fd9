package simulation

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-service/internal/alerting"
	"telemetry-service/internal/alerting/alertingtest"
	"telemetry-service/internal/catalog"
	"telemetry-service/internal/clock"
	"telemetry-service/internal/db"
	"telemetry-service/internal/health"
	"telemetry-service/internal/latch"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/machine"
	"telemetry-service/internal/metrics"
	"telemetry-service/internal/models"
)

// scripted returns fixed values per sensor type and the range midpoint otherwise.
type scripted struct {
	mu     sync.Mutex
	values map[string]float64
}

func (s *scripted) set(values map[string]float64) {
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
}

func (s *scripted) Generate(def models.SensorDefinition, _ models.MachineMode) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[def.SensorType]; ok {
		return v
	}
	return (def.NormalLow + def.NormalHigh) / 2
}

type harness struct {
	store      *db.Memory
	clock      *clock.Fake
	latch      *latch.Latch
	tracker    *health.Tracker
	channels   *alertingtest.Channels
	controller *machine.Controller
	loop       *Loop
	catalog    *catalog.Catalog
	machine    models.Machine
}

func newHarness(t *testing.T, src ValueSource) *harness {
	t.Helper()
	ctx := context.Background()
	cat, err := catalog.Default()
	require.NoError(t, err)

	h := &harness{
		store:    db.NewMemory(),
		clock:    clock.NewFake(time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)),
		latch:    latch.New(),
		channels: alertingtest.New(),
		catalog:  cat,
	}
	logger := logging.Discard()
	m := metrics.New(prometheus.NewRegistry())

	h.machine, err = h.store.CreateMachine(ctx, models.Machine{
		Name: "Reactor A", MachineType: "Chemical Reactor", Mode: models.ModeNormal, Status: models.ModeNormal,
		IsActive: true, CreatedAt: h.clock.Now(), UpdatedAt: h.clock.Now(),
	})
	require.NoError(t, err)

	h.tracker = health.New(h.store, h.clock, rand.New(rand.NewPCG(5, 6)))
	for _, st := range cat.SensorTypes(h.machine.MachineType) {
		require.NoError(t, h.tracker.ResetNormal(ctx, h.machine.ID, st))
	}

	rec := alerting.NewRecorder(h.store, h.clock, nil, m, logger)
	disp := alerting.NewDispatcher(alerting.Config{
		MaintenanceScore:     0.3,
		SabotageScore:        0.8,
		SabotageMinSensors:   2,
		ForensicWindow:       time.Minute,
		MaintenanceCallDelay: 10 * time.Second,
		EmergencyCallDelay:   15 * time.Second,
		SMSFallbackDelay:     45 * time.Second,
		ChannelTimeout:       time.Second,
		EmergencyPhones:      []string{"+15550100"},
		MaintenanceTeam:      []string{"maint@plant.test"},
		EmergencyTeam:        []string{"ert@plant.test"},
		Voice:                alerting.Voice{Name: "alice", Language: "en-US"},
	}, h.latch, rec, h.store, h.channels.Bundle(), alertingtest.Inline{}, h.clock, m, logger)

	h.controller = machine.NewController(h.store, cat, h.tracker, h.latch, rec, disp, h.clock, m, logger)
	h.loop = NewLoop(h.store, cat, src, h.controller.Guard(disp), h.clock, m, logger, Options{Parallelism: 2})
	return h
}

func (h *harness) ticks(n int) {
	for i := 0; i < n; i++ {
		h.loop.Tick(context.Background())
		h.clock.Advance(3 * time.Second)
	}
}

func (h *harness) alertsOf(t *testing.T, sev models.Severity) []models.AlertRecord {
	t.Helper()
	all, err := h.store.ListAlerts(context.Background(), db.AlertFilter{})
	require.NoError(t, err)
	var out []models.AlertRecord
	for _, a := range all {
		if a.Severity == sev {
			out = append(out, a)
		}
	}
	return out
}

func (h *harness) emailsTitled(prefix string) []alertingtest.Email {
	var out []alertingtest.Email
	for _, e := range h.channels.Emails() {
		if strings.HasPrefix(e.Subject, prefix) {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) setMode(t *testing.T, mode models.MachineMode) {
	t.Helper()
	m, err := h.controller.SetMode(context.Background(), h.machine.ID, mode)
	require.NoError(t, err)
	h.machine = m
}

// sabotageValues puts three reactor sensors at the top of their bounds.
var sabotageValues = map[string]float64{"temperature": 790, "pressure": 49, "flow_rate": 99}

func TestScenarioNormalRun(t *testing.T) {
	h := newHarness(t, NewSeededGenerator(99))
	h.ticks(20)

	all, err := h.store.ListAlerts(context.Background(), db.AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Len(t, h.store.Readings(h.machine.ID), 20*4)

	for _, st := range h.catalog.SensorTypes(h.machine.MachineType) {
		stored, err := h.store.GetHealth(context.Background(), h.machine.ID, st)
		require.NoError(t, err)
		assert.Equal(t, 100.0, stored.HealthPct, st)
		assert.Equal(t, models.HealthHealthy, stored.Status, st)
	}
}

func TestScenarioMaintenanceSingleAlert(t *testing.T) {
	// 400 + 0.35 * 150 → anomaly score 0.35
	src := &scripted{values: map[string]float64{"temperature": 452.5}}
	h := newHarness(t, src)
	h.setMode(t, models.ModeMaintenance)

	h.ticks(1)
	medium := h.alertsOf(t, models.SeverityMedium)
	require.Len(t, medium, 1)
	assert.Equal(t, models.ClassMaintenanceAlert, medium[0].Class)

	h.ticks(1)
	assert.Len(t, h.alertsOf(t, models.SeverityMedium), 1)
	assert.Len(t, h.alertsOf(t, models.SeverityLow), 1, "one mode change record")
	assert.Len(t, h.emailsTitled("⚠️ Irregular Readings Detected"), 1)
	assert.Len(t, h.emailsTitled("⚠️ Sensor Health Alert"), 1, "mode entry email is sent separately")
	assert.Len(t, h.channels.Emails(), 2)

	readings := h.store.Readings(h.machine.ID)
	assert.InDelta(t, 0.35, readings[0].AnomalyScore, 1e-9)
}

func TestScenarioSabotageEscalatesOnce(t *testing.T) {
	h := newHarness(t, &scripted{values: sabotageValues})
	h.setMode(t, models.ModeSabotage)
	assert.Equal(t, models.ModeShutdown, h.machine.Status)

	h.ticks(1)
	require.Len(t, h.alertsOf(t, models.SeverityCritical), 1)
	assert.True(t, h.latch.IsArmed(h.machine.ID, models.ClassVoiceEscalation))

	h.ticks(50)
	assert.Len(t, h.alertsOf(t, models.SeverityCritical), 1)
	assert.Len(t, h.channels.Calls(), 1)
	assert.Len(t, h.channels.SMS(), 1)
	assert.Len(t, h.emailsTitled("🚨 CRITICAL INCIDENT REPORT"), 1)
	assert.Len(t, h.emailsTitled("🚨 CRITICAL - Sensor Failure"), 1)
	assert.Len(t, h.channels.Emails(), 2)
}

func TestScenarioSabotageReentry(t *testing.T) {
	h := newHarness(t, &scripted{values: sabotageValues})

	h.setMode(t, models.ModeSabotage)
	h.ticks(25)
	h.setMode(t, models.ModeNormal)
	h.ticks(2)
	assert.False(t, h.latch.IsArmed(h.machine.ID, models.ClassSabotageAlert))

	hs, err := h.tracker.Read(context.Background(), h.machine.ID, "temperature")
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, hs.Status)

	h.setMode(t, models.ModeSabotage)
	h.ticks(25)

	assert.Len(t, h.alertsOf(t, models.SeverityCritical), 2)
	assert.Len(t, h.channels.Calls(), 2)
	assert.Len(t, h.channels.SMS(), 2)
}

// onFirstSabotage runs hook once, from inside the first Sabotage tick.
type onFirstSabotage struct {
	*scripted
	once sync.Once
	hook func()
}

func (o *onFirstSabotage) Generate(def models.SensorDefinition, mode models.MachineMode) float64 {
	if mode == models.ModeSabotage {
		o.once.Do(o.hook)
	}
	return o.scripted.Generate(def, mode)
}

func TestModeChangeDuringTickDropsStaleEvaluation(t *testing.T) {
	src := &onFirstSabotage{scripted: &scripted{values: sabotageValues}}
	h := newHarness(t, src)
	src.hook = func() {
		_, err := h.controller.SetMode(context.Background(), h.machine.ID, models.ModeNormal)
		assert.NoError(t, err)
	}

	h.setMode(t, models.ModeSabotage)
	h.ticks(1)
	assert.Empty(t, h.alertsOf(t, models.SeverityCritical), "tick that started in Sabotage ended in Normal")
	assert.False(t, h.latch.IsArmed(h.machine.ID, models.ClassSabotageAlert))
	assert.False(t, h.latch.IsArmed(h.machine.ID, models.ClassVoiceEscalation))

	h.ticks(5)
	h.setMode(t, models.ModeSabotage)
	h.ticks(25)

	assert.Len(t, h.alertsOf(t, models.SeverityCritical), 1)
	assert.Len(t, h.channels.Calls(), 1)
	assert.Len(t, h.channels.SMS(), 1)
}

func TestNormalTickClearsLatches(t *testing.T) {
	h := newHarness(t, NewSeededGenerator(7))
	require.True(t, h.latch.TryArm(h.machine.ID, models.ClassSabotageAlert))
	require.True(t, h.latch.TryArm(h.machine.ID, models.ClassVoiceEscalation))

	h.ticks(1)
	assert.False(t, h.latch.IsArmed(h.machine.ID, models.ClassSabotageAlert))
	assert.False(t, h.latch.IsArmed(h.machine.ID, models.ClassVoiceEscalation))
}

func TestShutdownMachineIsSkipped(t *testing.T) {
	h := newHarness(t, NewSeededGenerator(1))
	h.setMode(t, models.ModeShutdown)

	res := h.loop.Tick(context.Background())
	assert.Zero(t, res.Machines)
	assert.Empty(t, h.store.Readings(h.machine.ID))

	_, err := h.controller.SetMode(context.Background(), h.machine.ID, models.ModeSabotage)
	assert.ErrorIs(t, err, machine.ErrInvalidTransition)
	h.setMode(t, models.ModeNormal)
	res = h.loop.Tick(context.Background())
	assert.Equal(t, 1, res.Machines)
}

func TestPersistenceFailureSkipsEvaluation(t *testing.T) {
	h := newHarness(t, &scripted{values: map[string]float64{"temperature": 452.5}})
	h.setMode(t, models.ModeMaintenance)
	h.store.FailReadings(errors.New("disk full"))

	res := h.loop.Tick(context.Background())
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, h.alertsOf(t, models.SeverityMedium))

	// the next cycle proceeds once writes succeed again
	h.store.FailReadings(nil)
	res = h.loop.Tick(context.Background())
	assert.Zero(t, res.Failed)
	assert.Len(t, h.alertsOf(t, models.SeverityMedium), 1)
}

func TestUnknownMachineTypeIsSkipped(t *testing.T) {
	h := newHarness(t, NewSeededGenerator(1))
	_, err := h.store.CreateMachine(context.Background(), models.Machine{
		Name: "Mystery", MachineType: "Centrifuge", Mode: models.ModeNormal, IsActive: true,
	})
	require.NoError(t, err)

	res := h.loop.Tick(context.Background())
	assert.Equal(t, 2, res.Machines)
	assert.Equal(t, 4, res.Readings)
	assert.Zero(t, res.Failed)
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	ticks map[int64]int
}

func (b *recordingBroadcaster) Broadcast(machineID int64, readings []models.SensorReading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ticks[machineID] += len(readings)
}

func TestBroadcastAfterPersist(t *testing.T) {
	h := newHarness(t, NewSeededGenerator(1))
	b := &recordingBroadcaster{ticks: map[int64]int{}}
	h.loop.opts.Broadcaster = b

	h.ticks(3)
	assert.Equal(t, 12, b.ticks[h.machine.ID])
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, NewSeededGenerator(1))
	h.loop.opts.Interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	require.Eventually(t, func() bool { return len(h.store.Readings(h.machine.ID)) >= 8 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
