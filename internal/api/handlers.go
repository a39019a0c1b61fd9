package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"telemetry-service/internal/alerting"
	"telemetry-service/internal/db"
	"telemetry-service/internal/machine"
	"telemetry-service/internal/models"
)

const (
	defaultHistoryWindow = time.Hour
	maxHistoryWindow     = 24 * time.Hour
	defaultAlertLimit    = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the dashboard is served from a different origin
	CheckOrigin: func(*http.Request) bool { return true },
}

func (h *Handler) machineID(c *gin.Context) (int64, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		h.logger.Errorf("Invalid machine id %s: %v", raw, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid machine id"})
		return 0, false
	}
	return id, true
}

// loadMachine resolves :id, writing the error response itself on failure.
func (h *Handler) loadMachine(c *gin.Context) (models.Machine, bool) {
	id, ok := h.machineID(c)
	if !ok {
		return models.Machine{}, false
	}
	m, err := h.store.GetMachine(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Machine not found"})
		return m, false
	}
	if err != nil {
		h.logger.Errorf("Failed to get machine %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get machine"})
		return m, false
	}
	return m, true
}

func (h *Handler) ListMachines(c *gin.Context) {
	machines, err := h.store.ListMachines(c.Request.Context(), false)
	if err != nil {
		h.logger.Errorf("Failed to list machines: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list machines"})
		return
	}
	c.JSON(http.StatusOK, machines)
}

type setModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (h *Handler) SetMode(c *gin.Context) {
	id, ok := h.machineID(c)
	if !ok {
		return
	}
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	mode, err := models.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.modes.SetMode(c.Request.Context(), id, mode)
	switch {
	case errors.Is(err, machine.ErrUnknownMachine):
		c.JSON(http.StatusNotFound, gin.H{"error": "Machine not found"})
	case errors.Is(err, machine.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Errorf("Failed to set mode of machine %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to set mode"})
	default:
		h.logger.Infof("Machine %d set to %s", id, mode)
		c.JSON(http.StatusOK, m)
	}
}

func (h *Handler) SetSensorMaintenance(c *gin.Context) {
	id, ok := h.machineID(c)
	if !ok {
		return
	}
	sensor := c.Param("type")
	hs, err := h.modes.SetSensorMaintenance(c.Request.Context(), id, sensor)
	switch {
	case errors.Is(err, machine.ErrUnknownMachine):
		c.JSON(http.StatusNotFound, gin.H{"error": "Machine not found"})
	case errors.Is(err, machine.ErrUnknownSensor):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Errorf("Failed to set %s of machine %d to maintenance: %v", sensor, id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to set sensor maintenance"})
	default:
		c.JSON(http.StatusOK, gin.H{
			"message":           "Sensor " + sensor + " set to maintenance mode",
			"health_percentage": hs.HealthPct,
			"sensor":            hs,
		})
	}
}

// EmergencyCall triggers an immediate call to every emergency contact, with
// an SMS backup following later.
func (h *Handler) EmergencyCall(c *gin.Context) {
	m, ok := h.loadMachine(c)
	if !ok {
		return
	}
	n, err := h.calls.EmergencyCall(c.Request.Context(), m)
	if errors.Is(err, alerting.ErrNoContacts) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Errorf("Failed to trigger emergency call for machine %d: %v", m.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to trigger emergency call"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message":       "Emergency calls initiated",
		"contacts":      n,
		"incident_time": h.now(),
	})
}

func (h *Handler) GetSensorHealth(c *gin.Context) {
	m, ok := h.loadMachine(c)
	if !ok {
		return
	}
	summary, err := h.health.Summarize(c.Request.Context(), m.ID, h.sensors.SensorTypes(m.MachineType))
	if err != nil {
		h.logger.Errorf("Failed to read health of machine %d: %v", m.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read sensor health"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) GetLatestReadings(c *gin.Context) {
	m, ok := h.loadMachine(c)
	if !ok {
		return
	}
	readings := make([]models.SensorReading, 0)
	for _, st := range h.sensors.SensorTypes(m.MachineType) {
		r, err := h.store.QueryLatest(c.Request.Context(), m.ID, st)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			h.logger.Errorf("Failed to query latest %s of machine %d: %v", st, m.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query readings"})
			return
		}
		readings = append(readings, r)
	}
	c.JSON(http.StatusOK, readings)
}

// GetReadings returns the readings of the last ?since= window, newest first.
func (h *Handler) GetReadings(c *gin.Context) {
	id, ok := h.machineID(c)
	if !ok {
		return
	}
	window := defaultHistoryWindow
	if raw := c.Query("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > maxHistoryWindow {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a positive duration up to 24h"})
			return
		}
		window = d
	}
	// end is exclusive, include the current instant
	end := h.now().Add(time.Nanosecond)
	readings, err := h.store.QueryRange(c.Request.Context(), id, end.Add(-window), end)
	if err != nil {
		h.logger.Errorf("Failed to query readings of machine %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query readings"})
		return
	}
	if readings == nil {
		readings = []models.SensorReading{}
	}
	c.JSON(http.StatusOK, readings)
}

func (h *Handler) ListAlerts(c *gin.Context) {
	f := db.AlertFilter{Limit: defaultAlertLimit}
	if raw := c.Query("machine_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid machine_id"})
			return
		}
		f.MachineID = id
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		f.Limit = n
	}
	alerts, err := h.store.ListAlerts(c.Request.Context(), f)
	if err != nil {
		h.logger.Errorf("Failed to list alerts: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list alerts"})
		return
	}
	if alerts == nil {
		alerts = []models.AlertRecord{}
	}
	c.JSON(http.StatusOK, alerts)
}

func (h *Handler) GetCallStatus(c *gin.Context) {
	sid := c.Param("sid")
	st, err := h.calls.CallStatus(c.Request.Context(), sid)
	if err != nil {
		h.logger.Errorf("Failed to fetch call %s: %v", sid, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch call status"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.Errorf("Store ping failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StreamMachine upgrades to a websocket and streams every tick of the
// machine until the client goes away.
func (h *Handler) StreamMachine(c *gin.Context) {
	m, ok := h.loadMachine(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("Websocket upgrade failed: %v", err)
		return
	}
	if !h.hub.Add(m.ID, conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many subscribers"))
		_ = conn.Close()
		return
	}
	defer func() {
		h.hub.Remove(m.ID, conn)
		_ = conn.Close()
	}()
	// drain client frames so close and ping control messages are processed
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
