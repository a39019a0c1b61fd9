package models

import "time"

// HealthStatus is the bucket a sensor's health percentage falls into.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthWarning   HealthStatus = "warning"
	HealthDegrading HealthStatus = "degrading"
	HealthCritical  HealthStatus = "critical"
	HealthShutdown  HealthStatus = "shutdown"
)

// StatusFor maps a health percentage onto its bucket:
// healthy [80,100], warning [50,80), degrading [20,50), critical (0,20), shutdown 0.
func StatusFor(pct float64) HealthStatus {
	switch {
	case pct <= 0:
		return HealthShutdown
	case pct < 20:
		return HealthCritical
	case pct < 50:
		return HealthDegrading
	case pct < 80:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// SensorHealth is the synthetic degradation state of one sensor.
type SensorHealth struct {
	MachineID   int64        `json:"machine_id"`
	SensorType  string       `json:"sensor_type"`
	HealthPct   float64      `json:"health_percentage"`
	Status      HealthStatus `json:"status"`
	LastUpdated time.Time    `json:"last_updated"`
}
