package simulation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"telemetry-service/internal/models"
)

var reactorTemp = models.SensorDefinition{
	SensorType: "temperature", Unit: "°C", Min: 200, Max: 800, NormalLow: 250, NormalHigh: 400,
}

func TestScoreAtRangeBounds(t *testing.T) {
	for _, mode := range allModes {
		for _, v := range []float64{reactorTemp.NormalLow, reactorTemp.NormalHigh} {
			anomaly, score := Score(v, reactorTemp, mode)
			assert.False(t, anomaly, "mode=%s value=%v", mode, v)
			assert.Zero(t, score, "mode=%s value=%v", mode, v)
		}
	}
}

func TestScoreDeviation(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		anomaly bool
		score   float64
	}{
		{"inside", 300, false, 0},
		{"slightly above", 410, false, 10.0 / 150},
		{"above threshold", 460, true, 0.4},
		{"below", 220, true, 0.2},
		{"capped", 800, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anomaly, score := Score(tt.value, reactorTemp, models.ModeNormal)
			assert.Equal(t, tt.anomaly, anomaly)
			assert.InDelta(t, tt.score, score, 1e-9)
		})
	}
}

func TestScoreSabotageOverride(t *testing.T) {
	anomaly, score := Score(0.95*reactorTemp.Max, reactorTemp, models.ModeSabotage)
	assert.True(t, anomaly)
	assert.Equal(t, 0.95, score)

	anomaly, score = Score(reactorTemp.Min, reactorTemp, models.ModeSabotage)
	assert.True(t, anomaly)
	assert.Equal(t, 0.95, score)

	// Outside sabotage the same value is scored by deviation.
	_, score = Score(0.95*reactorTemp.Max, reactorTemp, models.ModeNormal)
	assert.Equal(t, 1.0, score)
}

func TestScoreAlwaysInUnitInterval(t *testing.T) {
	gen := NewSeededGenerator(11)
	for _, mode := range allModes {
		for i := 0; i < 1000; i++ {
			_, score := Score(gen.Generate(reactorTemp, mode), reactorTemp, mode)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		}
	}
}
