package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	DB struct {
		Driver string
		DSN    string
	}
	Catalog struct {
		Path string
	}
	Simulation struct {
		TickInterval time.Duration
		Parallelism  int
	}
	Detection struct {
		MaintenanceScore  float64
		SabotageScore     float64
		SabotageMinSensor int
		ForensicWindow    time.Duration
		HistoryWindow     time.Duration
	}
	Escalation struct {
		MaintenanceCallDelay time.Duration
		EmergencyCallDelay   time.Duration
		SMSFallbackDelay     time.Duration
		ManualSMSDelay       time.Duration
		ChannelTimeout       time.Duration
	}
	Contacts struct {
		EmergencyPhones []string
		MaintenanceTeam []string
		PlantManagers   []string
		EmergencyTeam   []string
		HealthTeam      []string
	}
	Email struct {
		SMTPServer string
		SMTPPort   int
		Username   string
		Password   string
		FromName   string
	}
	Twilio struct {
		AccountSID string
		AuthToken  string
		FromNumber string
		Voice      string
		Language   string
	}
	Telegram struct {
		BotToken string
		ChatIDs  []int64
	}
	Kafka struct {
		Brokers      []string
		AlertTopic   string
		CommandTopic string
		GroupID      string
	}
	Influx struct {
		URL    string
		Token  string
		Org    string
		Bucket string
	}
	RateLimit struct {
		SMSPerSecond      float64
		VoicePerSecond    float64
		TelegramPerSecond float64
	}
	API struct {
		Port     string
		BasePath string
	}
	Notification struct {
		QueueSize  int
		MaxWorkers int
	}
	Logging struct {
		Dir   string
		Level string
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	var cfg Config
	var errs []string
	p := parser{getenv: getenv, errs: &errs}

	cfg.DB.Driver = strings.ToLower(getenv("DB_DRIVER"))
	cfg.DB.DSN = getenv("DB_DSN")
	cfg.Catalog.Path = getenv("CATALOG_PATH")

	cfg.Simulation.TickInterval = p.duration("TICK_INTERVAL", 3*time.Second)
	cfg.Simulation.Parallelism = p.int("TICK_PARALLELISM", 4)

	cfg.Detection.MaintenanceScore = p.float("MAINTENANCE_SCORE_THRESHOLD", 0.3)
	cfg.Detection.SabotageScore = p.float("SABOTAGE_SCORE_THRESHOLD", 0.8)
	cfg.Detection.SabotageMinSensor = p.int("SABOTAGE_MIN_SENSORS", 2)
	cfg.Detection.ForensicWindow = p.duration("FORENSIC_WINDOW", 60*time.Second)
	cfg.Detection.HistoryWindow = p.duration("MAINTENANCE_HISTORY_WINDOW", 5*time.Minute)

	cfg.Escalation.MaintenanceCallDelay = p.duration("MAINTENANCE_CALL_DELAY", 10*time.Second)
	cfg.Escalation.EmergencyCallDelay = p.duration("EMERGENCY_CALL_DELAY", 15*time.Second)
	cfg.Escalation.SMSFallbackDelay = p.duration("SMS_FALLBACK_DELAY", 45*time.Second)
	cfg.Escalation.ManualSMSDelay = p.duration("MANUAL_SMS_DELAY", 30*time.Second)
	cfg.Escalation.ChannelTimeout = p.duration("CHANNEL_TIMEOUT", 20*time.Second)

	cfg.Contacts.EmergencyPhones = splitList(getenv("EMERGENCY_CONTACTS"))
	cfg.Contacts.MaintenanceTeam = splitList(getenv("MAINTENANCE_EMAILS"))
	cfg.Contacts.PlantManagers = splitList(getenv("MANAGER_EMAILS"))
	cfg.Contacts.EmergencyTeam = splitList(getenv("EMERGENCY_EMAILS"))
	cfg.Contacts.HealthTeam = splitList(getenv("HEALTH_ALERT_EMAILS"))

	// Email settings
	cfg.Email.SMTPServer = getenv("EMAIL_SMTP_SERVER")
	cfg.Email.SMTPPort = p.int("EMAIL_SMTP_PORT", 587)
	cfg.Email.Username = getenv("EMAIL_USERNAME")
	cfg.Email.Password = getenv("EMAIL_PASSWORD")
	cfg.Email.FromName = getenv("EMAIL_FROM_NAME")

	cfg.Twilio.AccountSID = getenv("TWILIO_ACCOUNT_SID")
	cfg.Twilio.AuthToken = getenv("TWILIO_AUTH_TOKEN")
	cfg.Twilio.FromNumber = getenv("TWILIO_FROM_NUMBER")
	cfg.Twilio.Voice = getenv("TWILIO_VOICE")
	cfg.Twilio.Language = getenv("TWILIO_LANGUAGE")

	cfg.Telegram.BotToken = getenv("TELEGRAM_BOT_TOKEN")
	for _, raw := range splitList(getenv("TELEGRAM_CHAT_IDS")) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("TELEGRAM_CHAT_IDS: invalid chat id %q", raw))
			continue
		}
		cfg.Telegram.ChatIDs = append(cfg.Telegram.ChatIDs, id)
	}

	// Kafka settings
	cfg.Kafka.Brokers = splitList(getenv("KAFKA_BROKERS"))
	cfg.Kafka.AlertTopic = getenv("KAFKA_ALERT_TOPIC")
	cfg.Kafka.CommandTopic = getenv("KAFKA_COMMAND_TOPIC")
	cfg.Kafka.GroupID = getenv("KAFKA_GROUP_ID")

	cfg.Influx.URL = getenv("INFLUXDB_URL")
	cfg.Influx.Token = getenv("INFLUXDB_TOKEN")
	cfg.Influx.Org = getenv("INFLUXDB_ORG")
	cfg.Influx.Bucket = getenv("INFLUXDB_BUCKET")

	cfg.RateLimit.SMSPerSecond = p.float("SMS_RATE_PER_SECOND", 1)
	cfg.RateLimit.VoicePerSecond = p.float("VOICE_RATE_PER_SECOND", 1)
	cfg.RateLimit.TelegramPerSecond = p.float("TELEGRAM_RATE_PER_SECOND", 5)

	// API settings
	cfg.API.Port = getenv("API_PORT")
	cfg.API.BasePath = getenv("API_BASE_PATH")

	// Notification worker settings
	cfg.Notification.QueueSize = p.int("QUEUE_SIZE", 500)
	cfg.Notification.MaxWorkers = p.int("MAX_WORKERS", 10)

	cfg.Logging.Dir = getenv("LOG_DIR")
	cfg.Logging.Level = getenv("LOG_LEVEL")

	// Apply defaults
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = "sqlite"
	}
	if cfg.DB.Driver == "sqlite" && cfg.DB.DSN == "" {
		cfg.DB.DSN = "telemetry.db"
	}
	if cfg.Twilio.Voice == "" {
		cfg.Twilio.Voice = "alice"
	}
	if cfg.Twilio.Language == "" {
		cfg.Twilio.Language = "en-US"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "telemetry-service"
	}
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v0"
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	// Validate required settings
	switch cfg.DB.Driver {
	case "postgres":
		if cfg.DB.DSN == "" {
			errs = append(errs, "DB_DSN is required for postgres")
		}
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER %q is not one of postgres, sqlite, memory", cfg.DB.Driver))
	}
	if cfg.Simulation.TickInterval <= 0 {
		errs = append(errs, "TICK_INTERVAL must be positive")
	}
	if cfg.Simulation.Parallelism < 1 {
		errs = append(errs, "TICK_PARALLELISM must be at least 1")
	}
	if cfg.Notification.MaxWorkers < 1 {
		errs = append(errs, "MAX_WORKERS must be at least 1")
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

type parser struct {
	getenv func(string) string
	errs   *[]string
}

func (p parser) int(key string, def int) int {
	raw := p.getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return v
}

func (p parser) float(key string, def float64) float64 {
	raw := p.getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return v
}

func (p parser) duration(key string, def time.Duration) time.Duration {
	raw := p.getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
