package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IncidentClass is the latch key for one kind of notification.
type IncidentClass string

const (
	ClassMaintenanceAlert IncidentClass = "maintenance_alert"
	ClassSabotageAlert    IncidentClass = "sabotage_alert"
	ClassVoiceEscalation  IncidentClass = "voice_escalation"
	// The classes below are used only for AlertRecords; they are never latched.
	ClassModeChange        IncidentClass = "mode_change"
	ClassSensorMaintenance IncidentClass = "sensor_maintenance"
	ClassManualEscalation  IncidentClass = "manual_escalation"
)

// Severity of an AlertRecord.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertRecord is an append-only record of an incident or mode change.
// NotifyAttempted reports that channels were invoked, not that they delivered.
type AlertRecord struct {
	ID              uuid.UUID       `json:"id"`
	MachineID       int64           `json:"machine_id"`
	Class           IncidentClass   `json:"class"`
	Severity        Severity        `json:"severity"`
	Title           string          `json:"title"`
	Message         string          `json:"message"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	NotifyAttempted bool            `json:"notify_attempted"`
	CreatedAt       time.Time       `json:"created_at"`
}

// SensorSnapshot is the per-sensor entry embedded in alert payloads.
type SensorSnapshot struct {
	Sensor       string  `json:"sensor"`
	Value        float64 `json:"value"`
	Unit         string  `json:"unit"`
	AnomalyScore float64 `json:"anomaly_score"`
}

// EmailPriority controls the priority headers of outgoing mail.
type EmailPriority string

const (
	PriorityNormal   EmailPriority = "normal"
	PriorityCritical EmailPriority = "critical"
)
