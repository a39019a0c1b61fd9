package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
)

const (
	maxConnsPerMachine = 10
	writeWait          = 5 * time.Second
)

// TickMessage is what live subscribers receive once per tick.
type TickMessage struct {
	MachineID int64                  `json:"machine_id"`
	Readings  []models.SensorReading `json:"readings"`
}

// Hub fans each machine's readings out to its websocket subscribers.
type Hub struct {
	connections map[int64]map[*websocket.Conn]bool // machineID -> set of connections
	mutex       sync.Mutex
	logger      *logging.Logger
}

func NewHub(logger *logging.Logger) *Hub {
	return &Hub{connections: make(map[int64]map[*websocket.Conn]bool), logger: logger}
}

// Add registers conn for machineID. It reports false when the machine
// already has the maximum number of subscribers.
func (h *Hub) Add(machineID int64, conn *websocket.Conn) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, exists := h.connections[machineID]; !exists {
		h.connections[machineID] = make(map[*websocket.Conn]bool)
	}
	if len(h.connections[machineID]) >= maxConnsPerMachine {
		h.logger.Warnf("Max websocket connections reached for machine %d", machineID)
		return false
	}
	h.connections[machineID][conn] = true
	h.logger.Infof("Added websocket connection for machine %d (total: %d)", machineID, len(h.connections[machineID]))
	return true
}

func (h *Hub) Remove(machineID int64, conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if conns, exists := h.connections[machineID]; exists {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.connections, machineID)
		}
		h.logger.Infof("Removed websocket connection for machine %d (remaining: %d)", machineID, len(conns))
	}
}

// Count returns the number of subscribers of machineID.
func (h *Hub) Count(machineID int64) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.connections[machineID])
}

// Broadcast sends one tick to every subscriber. Connections that fail to
// accept the write are dropped.
func (h *Hub) Broadcast(machineID int64, readings []models.SensorReading) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	conns, exists := h.connections[machineID]
	if !exists {
		return
	}
	msg, err := json.Marshal(TickMessage{MachineID: machineID, Readings: readings})
	if err != nil {
		h.logger.Errorf("Encode tick for machine %d failed: %v", machineID, err)
		return
	}
	for conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Errorf("Failed to send websocket message for machine %d: %v", machineID, err)
			delete(conns, conn)
			_ = conn.Close()
		}
	}
	if len(conns) == 0 {
		delete(h.connections, machineID)
	}
}
