package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
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

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	store    *db.Memory
	channels *alertingtest.Channels
	clock    *clock.Fake
	hub     *Hub
	router  *gin.Engine
	machine models.Machine
}

func newTestServer(t *testing.T, phones ...string) *testServer {
	t.Helper()
	ctx := context.Background()
	cat, err := catalog.Default()
	require.NoError(t, err)

	s := &testServer{
		store:    db.NewMemory(),
		channels: alertingtest.New(),
		clock:    clock.NewFake(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)),
	}
	logger := logging.Discard()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	s.machine, err = s.store.CreateMachine(ctx, models.Machine{
		Name: "Chemical Reactor 1", MachineType: "Chemical Reactor", Mode: models.ModeNormal,
		Status: models.ModeNormal, IsActive: true,
	})
	require.NoError(t, err)

	l := latch.New()
	tracker := health.New(s.store, s.clock, rand.New(rand.NewPCG(1, 2)))
	rec := alerting.NewRecorder(s.store, s.clock, nil, m, logger)
	disp := alerting.NewDispatcher(alerting.Config{
		SabotageScore:   0.8,
		ForensicWindow:  time.Minute,
		EmergencyPhones: phones,
		MaintenanceTeam: []string{"maint@plant.test"},
	}, l, rec, s.store, s.channels.Bundle(), alertingtest.Inline{}, s.clock, m, logger)
	ctrl := machine.NewController(s.store, cat, tracker, l, rec, disp, s.clock, m, logger)

	s.hub = NewHub(logger)
	h := NewHandler(Deps{
		Store:   s.store,
		Modes:   ctrl,
		Health:  tracker,
		Sensors: cat,
		Calls:   disp,
		Hub:     s.hub,
		Now:     s.clock.Now,
	}, logger)
	s.router = NewRouter(h, logger, "/api/v0", reg)
	return s
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := s.do("GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestListMachines(t *testing.T) {
	s := newTestServer(t)
	w := s.do("GET", "/api/v0/machines", "")
	require.Equal(t, http.StatusOK, w.Code)
	machines := decode[[]models.Machine](t, w)
	require.Len(t, machines, 1)
	assert.Equal(t, "Chemical Reactor 1", machines[0].Name)
}

func TestSetMode(t *testing.T) {
	s := newTestServer(t)

	w := s.do("POST", "/api/v0/machines/1/mode", `{"mode":"sabotage"}`)
	require.Equal(t, http.StatusOK, w.Code)
	m := decode[models.Machine](t, w)
	assert.Equal(t, models.ModeSabotage, m.Mode)
	assert.Equal(t, models.ModeShutdown, m.Status)

	alerts := decode[[]models.AlertRecord](t, s.do("GET", "/api/v0/alerts", ""))
	require.Len(t, alerts, 1)
	assert.Equal(t, models.ClassModeChange, alerts[0].Class)
}

func TestSetModeErrors(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/api/v0/machines/1/mode", `{"mode":"turbo"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/api/v0/machines/1/mode", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/api/v0/machines/abc/mode", `{"mode":"normal"}`).Code)
	assert.Equal(t, http.StatusNotFound, s.do("POST", "/api/v0/machines/42/mode", `{"mode":"normal"}`).Code)

	require.Equal(t, http.StatusOK, s.do("POST", "/api/v0/machines/1/mode", `{"mode":"shutdown"}`).Code)
	assert.Equal(t, http.StatusConflict, s.do("POST", "/api/v0/machines/1/mode", `{"mode":"maintenance"}`).Code)
}

func TestSetSensorMaintenance(t *testing.T) {
	s := newTestServer(t)

	w := s.do("POST", "/api/v0/machines/1/sensors/pressure/maintenance", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[struct {
		HealthPct float64             `json:"health_percentage"`
		Sensor    models.SensorHealth `json:"sensor"`
	}](t, w)
	assert.GreaterOrEqual(t, resp.HealthPct, 30.0)
	assert.Less(t, resp.HealthPct, 50.0)
	assert.Equal(t, models.HealthDegrading, resp.Sensor.Status)

	summary := decode[health.Summary](t, s.do("GET", "/api/v0/machines/1/health", ""))
	assert.Equal(t, 1, summary.Counts[models.HealthDegrading])

	alerts := decode[[]models.AlertRecord](t, s.do("GET", "/api/v0/alerts", ""))
	require.Len(t, alerts, 1)
	assert.Equal(t, models.ClassSensorMaintenance, alerts[0].Class)
	require.Len(t, s.channels.Emails(), 1)
	assert.Contains(t, s.channels.Emails()[0].Subject, "Pressure")

	assert.Equal(t, http.StatusNotFound, s.do("POST", "/api/v0/machines/1/sensors/humidity/maintenance", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do("POST", "/api/v0/machines/8/sensors/pressure/maintenance", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/api/v0/machines/x/sensors/pressure/maintenance", "").Code)
}

func TestEmergencyCall(t *testing.T) {
	s := newTestServer(t, "+15550100", "+15550101")
	require.NoError(t, s.store.InsertReading(context.Background(), models.SensorReading{
		MachineID: 1, SensorType: "temperature", Value: 790, Unit: "°C", AnomalyScore: 0.99, Timestamp: s.clock.Now(),
	}))

	w := s.do("POST", "/api/v0/machines/1/emergency-call", "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, 2.0, decode[map[string]any](t, w)["contacts"])
	require.Len(t, s.channels.Calls(), 2)
	assert.Contains(t, s.channels.Calls()[0].Body, "temperature 790.00 °C")

	s.clock.Advance(30 * time.Second)
	assert.Len(t, s.channels.SMS(), 2)

	assert.Equal(t, http.StatusNotFound, s.do("POST", "/api/v0/machines/3/emergency-call", "").Code)
}

func TestEmergencyCallWithoutContacts(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusUnprocessableEntity, s.do("POST", "/api/v0/machines/1/emergency-call", "").Code)
	assert.Empty(t, s.channels.Calls())
}

func TestGetSensorHealth(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do("POST", "/api/v0/machines/1/mode", `{"mode":"sabotage"}`).Code)

	w := s.do("GET", "/api/v0/machines/1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[health.Summary](t, w)
	assert.Len(t, summary.Sensors, 4)
	assert.Equal(t, 4, summary.Counts[models.HealthShutdown])
	assert.Zero(t, summary.Overall)

	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/v0/machines/9/health", "").Code)
}

func TestReadings(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	now := s.clock.Now()
	for i, st := range []string{"temperature", "pressure", "temperature"} {
		require.NoError(t, s.store.InsertReading(ctx, models.SensorReading{
			MachineID: 1, SensorType: st, Value: float64(i), Timestamp: now.Add(time.Duration(i-2) * time.Minute),
		}))
	}

	w := s.do("GET", "/api/v0/machines/1/readings/latest", "")
	require.Equal(t, http.StatusOK, w.Code)
	latest := decode[[]models.SensorReading](t, w)
	require.Len(t, latest, 2)
	assert.Equal(t, 2.0, latest[0].Value, "newest temperature")

	w = s.do("GET", "/api/v0/machines/1/readings?since=90s", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.SensorReading](t, w), 2)

	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/api/v0/machines/1/readings?since=forever", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/api/v0/machines/1/readings?since=48h", "").Code)
}

func TestListAlertsFilter(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, "[]", s.do("GET", "/api/v0/alerts?machine_id=1", "").Body.String())
	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/api/v0/alerts?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/api/v0/alerts?machine_id=x", "").Code)
}

func TestGetCallStatus(t *testing.T) {
	s := newTestServer(t)
	w := s.do("GET", "/api/v0/calls/CA001", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decode[models.CallStatus](t, w).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do("POST", "/api/v0/machines/1/mode", `{"mode":"maintenance"}`).Code)
	w := s.do("GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "telemetry_mode_changes_total")
}

func TestStreamMachine(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v0/ws/machines/1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.Count(1) == 1 }, time.Second, time.Millisecond)
	s.hub.Broadcast(1, []models.SensorReading{{MachineID: 1, SensorType: "level", Value: 60}})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg TickMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, int64(1), msg.MachineID)
	require.Len(t, msg.Readings, 1)
	assert.Equal(t, "level", msg.Readings[0].SensorType)

	conn.Close()
	require.Eventually(t, func() bool { return s.hub.Count(1) == 0 }, time.Second, time.Millisecond)
}

func TestStreamUnknownMachine(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/v0/ws/machines/5", "").Code)
}
