package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
)

func TestSimulateSabotagePrintsSummary(t *testing.T) {
	simulateFlags.ticks = 5
	simulateFlags.seed = 7
	var out bytes.Buffer

	require.NoError(t, simulate(context.Background(), &out, logging.Discard(), models.ModeSabotage))
	s := out.String()
	assert.Regexp(t, `mode\s+sabotage`, s)
	assert.Contains(t, s, "alerts[low]")
	assert.Contains(t, s, "Chemical Reactor 1")
	assert.Contains(t, s, "0.0%", "sabotaged sensors are latched at zero health")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
machine_types:
  - name: Pump
    sensors:
      - {sensor_type: pressure, unit: bar, min: 0, max: 10, normal_low: 2, normal_high: 4}
`), 0o644))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("machine_types: [\n"), 0o644))

	var out bytes.Buffer
	validateCmd.SetOut(&out)
	require.NoError(t, validateCmd.RunE(validateCmd, []string{good}))
	assert.Contains(t, out.String(), "1 machine types OK")

	assert.Error(t, validateCmd.RunE(validateCmd, []string{bad}))
}
