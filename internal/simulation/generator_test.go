package simulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-service/internal/catalog"
	"telemetry-service/internal/models"
)

var allModes = []models.MachineMode{
	models.ModeNormal, models.ModeMaintenance, models.ModeSabotage, models.ModeShutdown,
}

func TestGenerateWithinBounds(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	gen := NewSeededGenerator(7)

	for _, mt := range cat.Types() {
		defs, _ := cat.Sensors(mt)
		for _, def := range defs {
			for _, mode := range allModes {
				for i := 0; i < 500; i++ {
					v := gen.Generate(def, mode)
					if v < def.Min || v > def.Max {
						t.Fatalf("%s/%s mode=%s: value %v outside [%v, %v]", mt, def.SensorType, mode, v, def.Min, def.Max)
					}
				}
			}
		}
	}
}

func TestGenerateShutdownIsFixed(t *testing.T) {
	def := models.SensorDefinition{SensorType: "pressure", Min: 1, Max: 51, NormalLow: 10, NormalHigh: 30}
	gen := NewSeededGenerator(1)
	assert.InDelta(t, 3.5, gen.Generate(def, models.ModeShutdown), 1e-9)
	assert.InDelta(t, 3.5, gen.Generate(def, models.ModeShutdown), 1e-9)
}

func TestGenerateNormalStaysNearRange(t *testing.T) {
	def := models.SensorDefinition{SensorType: "temperature", Min: 200, Max: 800, NormalLow: 250, NormalHigh: 400}
	gen := NewSeededGenerator(3)
	for i := 0; i < 1000; i++ {
		v := gen.Generate(def, models.ModeNormal)
		assert.GreaterOrEqual(t, v, 250*0.98)
		assert.LessOrEqual(t, v, 400*1.02)
	}
}

func TestSeededGeneratorIsDeterministic(t *testing.T) {
	def := models.SensorDefinition{SensorType: "ph", Min: 5, Max: 9, NormalLow: 6.5, NormalHigh: 7.5}
	a, b := NewSeededGenerator(42), NewSeededGenerator(42)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Generate(def, models.ModeSabotage), b.Generate(def, models.ModeSabotage))
	}
}
