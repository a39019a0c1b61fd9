package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.Empty(t, c.Rejected())

	assert.Equal(t, []string{"Chemical Reactor", "Biotech Fermenter", "Distillation Column", "Heat Exchanger"}, c.Types())

	defs, ok := c.Sensors("Biotech Fermenter")
	require.True(t, ok)
	require.Len(t, defs, 4)
	assert.Equal(t, "ph", defs[1].SensorType)
	assert.Equal(t, 6.5, defs[1].NormalLow)
	assert.Equal(t, 7.5, defs[1].NormalHigh)

	for _, mt := range c.Types() {
		defs, _ := c.Sensors(mt)
		for _, d := range defs {
			assert.Empty(t, Validate(d), "%s/%s", mt, d.SensorType)
		}
	}
}

func TestParseRejectsInvalidTypes(t *testing.T) {
	raw := []byte(`
machine_types:
  - name: Good
    sensors:
      - {sensor_type: t, unit: C, min: 0, max: 10, normal_low: 2, normal_high: 8}
  - name: ZeroWidth
    sensors:
      - {sensor_type: t, unit: C, min: 0, max: 10, normal_low: 5, normal_high: 5}
  - name: OutOfBounds
    sensors:
      - {sensor_type: t, unit: C, min: 0, max: 10, normal_low: 2, normal_high: 12}
  - name: Empty
    sensors: []
`)
	c, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"Good"}, c.Types())
	require.Len(t, c.Rejected(), 3)
	assert.Equal(t, "ZeroWidth", c.Rejected()[0].MachineType)
	assert.Equal(t, "t", c.Rejected()[0].Sensor)
	assert.Error(t, c.Strict())

	_, ok := c.Sensors("ZeroWidth")
	assert.False(t, ok)
}

func TestParseFailsFast(t *testing.T) {
	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Parse([]byte("machine_types: [oops"))
		assert.Error(t, err)
	})
	t.Run("nothing valid", func(t *testing.T) {
		_, err := Parse([]byte(`
machine_types:
  - name: Bad
    sensors:
      - {sensor_type: t, unit: C, min: 5, max: 10, normal_low: 2, normal_high: 8}
`))
		var cerr *ConfigError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "Bad", cerr.MachineType)
	})
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
machine_types:
  - name: Pump
    sensors:
      - {sensor_type: vibration, unit: mm/s, min: 0, max: 50, normal_low: 1, normal_high: 7}
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"vibration"}, c.SensorTypes("Pump"))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
