package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telemetry-service/internal/logging"
)

// NewRouter mounts the dashboard routes under basePath. gatherer backs
// /metrics and may be nil.
func NewRouter(h *Handler, logger *logging.Logger, basePath string, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	api := r.Group(basePath)
	{
		// Machines
		api.GET("/machines", h.ListMachines)
		api.POST("/machines/:id/mode", h.SetMode)
		api.GET("/machines/:id/health", h.GetSensorHealth)
		api.GET("/machines/:id/readings/latest", h.GetLatestReadings)
		api.GET("/machines/:id/readings", h.GetReadings)
		api.POST("/machines/:id/sensors/:type/maintenance", h.SetSensorMaintenance)
		api.POST("/machines/:id/emergency-call", h.EmergencyCall)

		// Incidents
		api.GET("/alerts", h.ListAlerts)
		api.GET("/calls/:sid", h.GetCallStatus)

		// Live stream
		api.GET("/ws/machines/:id", h.StreamMachine)
	}

	r.GET("/health", h.Health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return r
}
