// Package latch holds one-shot notification gates per machine and incident class.
package latch

import (
	"sync"

	"telemetry-service/internal/models"
)

type machineLatch struct {
	mu    sync.Mutex
	armed map[models.IncidentClass]bool
}

// Latch is safe for concurrent use. Each machine has its own lock so
// arming on one machine never waits on another.
type Latch struct {
	machines sync.Map // int64 -> *machineLatch
}

func New() *Latch {
	return &Latch{}
}

func (l *Latch) get(machineID int64) *machineLatch {
	v, _ := l.machines.LoadOrStore(machineID, &machineLatch{armed: make(map[models.IncidentClass]bool)})
	return v.(*machineLatch)
}

// TryArm arms the latch and reports true only if it was not already armed.
func (l *Latch) TryArm(machineID int64, class models.IncidentClass) bool {
	m := l.get(machineID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.armed[class] {
		return false
	}
	m.armed[class] = true
	return true
}

func (l *Latch) Disarm(machineID int64, class models.IncidentClass) {
	m := l.get(machineID)
	m.mu.Lock()
	delete(m.armed, class)
	m.mu.Unlock()
}

// DisarmAll clears every class for machineID.
func (l *Latch) DisarmAll(machineID int64) {
	m := l.get(machineID)
	m.mu.Lock()
	clear(m.armed)
	m.mu.Unlock()
}

func (l *Latch) IsArmed(machineID int64, class models.IncidentClass) bool {
	m := l.get(machineID)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed[class]
}
