package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"telemetry-service/internal/models"
)

type healthKey struct {
	machineID  int64
	sensorType string
}

// Memory is a process-local Store used by tests and the simulate command.
type Memory struct {
	mu       sync.RWMutex
	nextRead int64
	nextMach int64
	readings map[int64][]models.SensorReading
	alerts   []models.AlertRecord
	health   map[healthKey]models.SensorHealth
	machines map[int64]models.Machine
	failRead error
}

func NewMemory() *Memory {
	return &Memory{
		readings: make(map[int64][]models.SensorReading),
		health:   make(map[healthKey]models.SensorHealth),
		machines: make(map[int64]models.Machine),
	}
}

func (m *Memory) InsertReading(_ context.Context, r models.SensorReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead != nil {
		return m.failRead
	}
	m.nextRead++
	r.ID = m.nextRead
	m.readings[r.MachineID] = append(m.readings[r.MachineID], r)
	return nil
}

func (m *Memory) QueryLatest(_ context.Context, machineID int64, sensorType string) (models.SensorReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs := m.readings[machineID]
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i].SensorType == sensorType {
			return rs[i], nil
		}
	}
	return models.SensorReading{}, ErrNotFound
}

func (m *Memory) QueryRange(_ context.Context, machineID int64, start, end time.Time) ([]models.SensorReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.SensorReading
	for _, r := range m.readings[machineID] {
		if !r.Timestamp.Before(start) && r.Timestamp.Before(end) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// FailReadings makes InsertReading return err until called again with nil.
func (m *Memory) FailReadings(err error) {
	m.mu.Lock()
	m.failRead = err
	m.mu.Unlock()
}

// Readings returns every stored reading for a machine in insertion order.
func (m *Memory) Readings(machineID int64) []models.SensorReading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.SensorReading(nil), m.readings[machineID]...)
}

func (m *Memory) InsertAlert(_ context.Context, a models.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *Memory) ListAlerts(_ context.Context, f AlertFilter) ([]models.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AlertRecord
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if f.MachineID != 0 && a.MachineID != f.MachineID {
			continue
		}
		out = append(out, a)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) UpsertHealth(_ context.Context, h models.SensorHealth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health[healthKey{h.MachineID, h.SensorType}] = h
	return nil
}

func (m *Memory) GetHealth(_ context.Context, machineID int64, sensorType string) (models.SensorHealth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.health[healthKey{machineID, sensorType}]
	if !ok {
		return models.SensorHealth{}, ErrNotFound
	}
	return h, nil
}

func (m *Memory) ListMachines(_ context.Context, activeOnly bool) ([]models.Machine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Machine, 0, len(m.machines))
	for _, mc := range m.machines {
		if activeOnly && !mc.IsActive {
			continue
		}
		out = append(out, mc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetMachine(_ context.Context, id int64) (models.Machine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.machines[id]
	if !ok {
		return models.Machine{}, ErrNotFound
	}
	return mc, nil
}

func (m *Memory) CreateMachine(_ context.Context, mc models.Machine) (models.Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mc.ID == 0 {
		m.nextMach++
		mc.ID = m.nextMach
	} else if mc.ID > m.nextMach {
		m.nextMach = mc.ID
	}
	m.machines[mc.ID] = mc
	return mc, nil
}

func (m *Memory) UpdateMachineMode(_ context.Context, id int64, mode, status models.MachineMode, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.machines[id]
	if !ok {
		return ErrNotFound
	}
	mc.Mode, mc.Status, mc.UpdatedAt = mode, status, at
	m.machines[id] = mc
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
