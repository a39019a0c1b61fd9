package models

import "time"

// SensorDefinition describes the physical bounds and nominal band of one sensor.
type SensorDefinition struct {
	SensorType string  `json:"sensor_type" yaml:"sensor_type"`
	Unit       string  `json:"unit" yaml:"unit"`
	Min        float64 `json:"min" yaml:"min"`
	Max        float64 `json:"max" yaml:"max"`
	NormalLow  float64 `json:"normal_low" yaml:"normal_low"`
	NormalHigh float64 `json:"normal_high" yaml:"normal_high"`
}

// Span is max - min.
func (d SensorDefinition) Span() float64 {
	return d.Max - d.Min
}

// NormalWidth is normal_high - normal_low.
func (d SensorDefinition) NormalWidth() float64 {
	return d.NormalHigh - d.NormalLow
}

// SensorReading is one synthesized value for one sensor at one tick.
type SensorReading struct {
	ID           int64     `json:"id,omitempty"`
	MachineID    int64     `json:"machine_id"`
	SensorType   string    `json:"sensor_type"`
	Value        float64   `json:"value"`
	Unit         string    `json:"unit"`
	IsAnomaly    bool      `json:"is_anomaly"`
	AnomalyScore float64   `json:"anomaly_score"`
	Timestamp    time.Time `json:"timestamp"`
}
