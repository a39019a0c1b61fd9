package simulation

import (
	"math"

	"telemetry-service/internal/models"
)

const (
	anomalyDeviation   = 0.1
	sabotageHighFactor = 0.9
	sabotageLowFactor  = 1.1
	sabotageScore      = 0.95
)

// Score rates value against its definition. The score is the distance
// outside the normal range in units of the range width, capped at 1.
func Score(value float64, def models.SensorDefinition, mode models.MachineMode) (bool, float64) {
	if mode == models.ModeSabotage && (value >= sabotageHighFactor*def.Max || value <= sabotageLowFactor*def.Min) {
		return true, sabotageScore
	}

	var deviation float64
	switch {
	case value < def.NormalLow:
		deviation = (def.NormalLow - value) / def.NormalWidth()
	case value > def.NormalHigh:
		deviation = (value - def.NormalHigh) / def.NormalWidth()
	}
	return deviation > anomalyDeviation, math.Min(1, deviation)
}
