package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "telemetry.db", cfg.DB.DSN)
	assert.Equal(t, 3*time.Second, cfg.Simulation.TickInterval)
	assert.Equal(t, 0.3, cfg.Detection.MaintenanceScore)
	assert.Equal(t, 0.8, cfg.Detection.SabotageScore)
	assert.Equal(t, 2, cfg.Detection.SabotageMinSensor)
	assert.Equal(t, 10*time.Second, cfg.Escalation.MaintenanceCallDelay)
	assert.Equal(t, 15*time.Second, cfg.Escalation.EmergencyCallDelay)
	assert.Equal(t, 45*time.Second, cfg.Escalation.SMSFallbackDelay)
	assert.Equal(t, 30*time.Second, cfg.Escalation.ManualSMSDelay)
	assert.Equal(t, 5*time.Minute, cfg.Detection.HistoryWindow)
	assert.Equal(t, "/api/v0", cfg.API.BasePath)
	assert.Equal(t, 10, cfg.Notification.MaxWorkers)
	assert.Equal(t, "alice", cfg.Twilio.Voice)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"DB_DRIVER":          "postgres",
		"DB_DSN":             "postgres://localhost/telemetry",
		"TICK_INTERVAL":      "1s",
		"EMERGENCY_CONTACTS": "+15550001, +15550002,,",
		"TELEGRAM_CHAT_IDS":  "42,-1001",
		"KAFKA_BROKERS":      "a:9092,b:9092",
	}))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, time.Second, cfg.Simulation.TickInterval)
	assert.Equal(t, []string{"+15550001", "+15550002"}, cfg.Contacts.EmergencyPhones)
	assert.Equal(t, []int64{42, -1001}, cfg.Telegram.ChatIDs)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestFromEnvInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without dsn": {"DB_DRIVER": "postgres"},
		"unknown driver":       {"DB_DRIVER": "mongo"},
		"bad duration":         {"TICK_INTERVAL": "soon"},
		"bad float":            {"SABOTAGE_SCORE_THRESHOLD": "high"},
		"bad chat id":          {"TELEGRAM_CHAT_IDS": "abc"},
		"zero workers":         {"MAX_WORKERS": "0"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(env(vars))
			assert.Error(t, err)
		})
	}
}
