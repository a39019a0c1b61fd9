// Package alerting turns per-tick anomaly scores into latched incidents and
// fans them out over email, voice, SMS and chat.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telemetry-service/internal/clock"
	"telemetry-service/internal/latch"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/metrics"
	"telemetry-service/internal/models"
)

// Config holds detection thresholds, escalation delays and contacts.
type Config struct {
	MaintenanceScore   float64
	SabotageScore      float64
	SabotageMinSensors int
	ForensicWindow     time.Duration
	ForensicLimit      int
	// HistoryWindow is the span of recent readings quoted in maintenance emails.
	HistoryWindow time.Duration
	HistoryLimit  int

	MaintenanceCallDelay time.Duration
	EmergencyCallDelay   time.Duration
	// SMSFallbackDelay is counted from the emergency call, not from detection.
	SMSFallbackDelay time.Duration
	// ManualSMSDelay is the SMS backup delay after an operator triggered call.
	ManualSMSDelay time.Duration
	ChannelTimeout time.Duration

	EmergencyPhones []string
	MaintenanceTeam []string
	PlantManagers   []string
	EmergencyTeam   []string
	// HealthTeam also receives sensor health notifications.
	HealthTeam []string

	Voice Voice
}

var ErrNoContacts = errors.New("no emergency contacts configured")

// ReadingStore supplies recent readings for reports.
type ReadingStore interface {
	QueryRange(ctx context.Context, machineID int64, start, end time.Time) ([]models.SensorReading, error)
}

// Dispatcher evaluates one machine's tick and fires notifications at most
// once per incident class per mode session.
type Dispatcher struct {
	cfg      Config
	latch    *latch.Latch
	recorder *Recorder
	readings ReadingStore
	channels Channels
	runner   Runner
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

func NewDispatcher(cfg Config, l *latch.Latch, rec *Recorder, readings ReadingStore, ch Channels,
	runner Runner, clk clock.Clock, m *metrics.Metrics, logger *logging.Logger) *Dispatcher {
	if cfg.ForensicLimit <= 0 {
		cfg.ForensicLimit = 20
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = 20 * time.Second
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 5 * time.Minute
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.ManualSMSDelay <= 0 {
		cfg.ManualSMSDelay = 30 * time.Second
	}
	return &Dispatcher{
		cfg:      cfg,
		latch:    l,
		recorder: rec,
		readings: readings,
		channels: ch,
		runner:   runner,
		clock:    clk,
		metrics:  m,
		logger:   logger,
	}
}

// Evaluate runs the trigger checks for machine against this tick's readings.
// It never blocks on notification delivery.
func (d *Dispatcher) Evaluate(ctx context.Context, machine models.Machine, readings []models.SensorReading) {
	switch machine.Mode {
	case models.ModeMaintenance:
		d.evaluateMaintenance(ctx, machine, readings)
	case models.ModeSabotage:
		d.evaluateSabotage(ctx, machine, readings)
	}
}

func snapshots(readings []models.SensorReading, threshold float64) []models.SensorSnapshot {
	var out []models.SensorSnapshot
	for _, r := range readings {
		if r.AnomalyScore > threshold {
			out = append(out, models.SensorSnapshot{
				Sensor:       r.SensorType,
				Value:        r.Value,
				Unit:         r.Unit,
				AnomalyScore: r.AnomalyScore,
			})
		}
	}
	return out
}

func (d *Dispatcher) evaluateMaintenance(ctx context.Context, machine models.Machine, readings []models.SensorReading) {
	irregular := snapshots(readings, d.cfg.MaintenanceScore)
	if len(irregular) == 0 {
		return
	}
	if !d.latch.TryArm(machine.ID, models.ClassMaintenanceAlert) {
		return
	}

	log := d.logger.With("machine_id", machine.ID)
	now := d.clock.Now()
	details := sensorList(irregular)

	_, err := d.recorder.Record(ctx, models.AlertRecord{
		MachineID:       machine.ID,
		Class:           models.ClassMaintenanceAlert,
		Severity:        models.SeverityMedium,
		Title:           "Irregular Readings Detected",
		Message:         fmt.Sprintf("%s shows irregular readings: %s", machine.Name, details),
		NotifyAttempted: true,
		CreatedAt:       now,
	}, map[string]any{"sensors": irregular})
	if err != nil {
		log.Errorf("Record maintenance alert failed: %v", err)
	}
	log.Infof("Maintenance incident on %s (%d irregular sensors)", machine.Name, len(irregular))

	history, err := d.readings.QueryRange(ctx, machine.ID, now.Add(-d.cfg.HistoryWindow), now)
	if err != nil {
		log.Errorf("Fetch reading history failed: %v", err)
	}
	if len(history) > d.cfg.HistoryLimit {
		history = history[:d.cfg.HistoryLimit]
	}

	body, err := render("maintenance", maintenanceEmail{
		Machine:        machine,
		At:             now,
		Sensors:        irregular,
		HistoryMinutes: int(d.cfg.HistoryWindow.Minutes()),
		History:        preIncidentRows(history, now),
	})
	if err != nil {
		log.Errorf("%v", err)
	} else {
		recipients := concat(d.cfg.MaintenanceTeam, d.cfg.PlantManagers)
		d.queueEmail(machine.ID, recipients, maintenanceSubject(machine), body, models.PriorityNormal)
	}
	d.queueChat(machine.ID, fmt.Sprintf("⚠️ Maintenance alert: %s\n%s", machine.Name, details))

	if !d.latch.TryArm(machine.ID, models.ClassVoiceEscalation) {
		return
	}
	if len(d.cfg.EmergencyPhones) == 0 {
		log.Warnf("No emergency contacts configured, skipping maintenance reminder call")
		return
	}
	script := d.cfg.Voice.maintenanceScript(machine, details)
	first := d.cfg.EmergencyPhones[:1]
	d.clock.AfterFunc(d.cfg.MaintenanceCallDelay, func() {
		d.runner.Queue(Task{
			Name:      "maintenance-reminder-call",
			MachineID: machine.ID,
			Run:       func(ctx context.Context) { d.callAll(ctx, machine.ID, first, script) },
		})
	})
}

func (d *Dispatcher) evaluateSabotage(ctx context.Context, machine models.Machine, readings []models.SensorReading) {
	critical := snapshots(readings, d.cfg.SabotageScore)
	if len(critical) < d.cfg.SabotageMinSensors {
		return
	}
	if !d.latch.TryArm(machine.ID, models.ClassSabotageAlert) {
		return
	}

	log := d.logger.With("machine_id", machine.ID)
	now := d.clock.Now()
	id := incidentID(machine.ID, now)
	details := sensorList(critical)

	_, err := d.recorder.Record(ctx, models.AlertRecord{
		MachineID:       machine.ID,
		Class:           models.ClassSabotageAlert,
		Severity:        models.SeverityCritical,
		Title:           "Critical Incident - Possible Sabotage",
		Message:         fmt.Sprintf("%s: %d sensors at critical levels: %s", machine.Name, len(critical), details),
		NotifyAttempted: true,
		CreatedAt:       now,
	}, map[string]any{
		"incident_id":      id,
		"critical_sensors": critical,
	})
	if err != nil {
		log.Errorf("Record sabotage alert failed: %v", err)
	}
	log.Warnf("Critical incident %s on %s (%d critical sensors)", id, machine.Name, len(critical))

	pre, err := d.readings.QueryRange(ctx, machine.ID, now.Add(-d.cfg.ForensicWindow), now)
	if err != nil {
		log.Errorf("Fetch pre-incident readings failed: %v", err)
	}
	if len(pre) > d.cfg.ForensicLimit {
		pre = pre[:d.cfg.ForensicLimit]
	}

	body, err := render("sabotage", sabotageEmail{
		IncidentID:    id,
		Machine:       machine,
		At:            now,
		Sensors:       critical,
		WindowSeconds: int(d.cfg.ForensicWindow.Seconds()),
		PreIncident:   preIncidentRows(pre, now),
	})
	if err != nil {
		log.Errorf("%v", err)
	} else {
		recipients := concat(d.cfg.EmergencyTeam, d.cfg.PlantManagers, d.cfg.MaintenanceTeam)
		d.queueEmail(machine.ID, recipients, sabotageSubject(machine, now), body, models.PriorityCritical)
	}
	d.queueChat(machine.ID, fmt.Sprintf("🚨 %s critical incident on %s\n%s", id, machine.Name, details))

	if !d.latch.TryArm(machine.ID, models.ClassVoiceEscalation) {
		return
	}
	contacts := append([]string(nil), d.cfg.EmergencyPhones...)
	script := d.cfg.Voice.emergencyScript(machine, details, now)
	sms := emergencySMS(machine, details, now)

	// The call and the SMS fallback are scheduled independently so a failed
	// or slow call never suppresses the SMS.
	d.clock.AfterFunc(d.cfg.EmergencyCallDelay, func() {
		d.runner.Queue(Task{
			Name:      "emergency-call",
			MachineID: machine.ID,
			Run:       func(ctx context.Context) { d.callAll(ctx, machine.ID, contacts, script) },
		})
	})
	d.clock.AfterFunc(d.cfg.EmergencyCallDelay+d.cfg.SMSFallbackDelay, func() {
		d.runner.Queue(Task{
			Name:      "emergency-sms",
			MachineID: machine.ID,
			Run:       func(ctx context.Context) { d.smsAll(ctx, machine.ID, contacts, sms) },
		})
	})
}

// NotifyModeEntry emails the forced sensor health of a machine that just
// entered Maintenance or Sabotage. It is not latched.
func (d *Dispatcher) NotifyModeEntry(_ context.Context, machine models.Machine, sensors []models.SensorHealth) {
	log := d.logger.With("machine_id", machine.ID)
	data := healthEmail{Machine: machine, At: d.clock.Now(), Sensors: sensors}
	switch machine.Mode {
	case models.ModeMaintenance:
		body, err := render("health_degradation", data)
		if err != nil {
			log.Errorf("%v", err)
			return
		}
		recipients := concat(d.cfg.MaintenanceTeam, d.cfg.PlantManagers, d.cfg.HealthTeam)
		d.queueEmail(machine.ID, recipients, healthDegradationSubject(machine), body, models.PriorityNormal)
	case models.ModeSabotage:
		body, err := render("sensor_failure", data)
		if err != nil {
			log.Errorf("%v", err)
			return
		}
		recipients := concat(d.cfg.EmergencyTeam, d.cfg.PlantManagers, d.cfg.MaintenanceTeam, d.cfg.HealthTeam)
		d.queueEmail(machine.ID, recipients, sensorFailureSubject(machine), body, models.PriorityCritical)
	}
}

// NotifySensorMaintenance emails the maintenance team about one sensor put
// into maintenance by an operator.
func (d *Dispatcher) NotifySensorMaintenance(_ context.Context, machine models.Machine, h models.SensorHealth) {
	body, err := render("sensor_maintenance", healthEmail{
		Machine: machine, At: d.clock.Now(), Sensors: []models.SensorHealth{h},
	})
	if err != nil {
		d.logger.With("machine_id", machine.ID).Errorf("%v", err)
		return
	}
	recipients := concat(d.cfg.MaintenanceTeam, d.cfg.PlantManagers, d.cfg.HealthTeam)
	d.queueEmail(machine.ID, recipients, sensorMaintenanceSubject(machine, h.SensorType), body, models.PriorityNormal)
}

// EmergencyCall calls every emergency contact now and schedules an SMS backup
// after ManualSMSDelay. It bypasses the latches and returns the number of
// contacts queued.
func (d *Dispatcher) EmergencyCall(ctx context.Context, machine models.Machine) (int, error) {
	if len(d.cfg.EmergencyPhones) == 0 {
		return 0, ErrNoContacts
	}
	log := d.logger.With("machine_id", machine.ID)
	now := d.clock.Now()

	// end is exclusive, include this instant's readings
	recent, err := d.readings.QueryRange(ctx, machine.ID, now.Add(-d.cfg.ForensicWindow), now.Add(time.Nanosecond))
	if err != nil {
		log.Errorf("Fetch recent readings failed: %v", err)
	}
	critical := snapshots(latestPerSensor(recent), d.cfg.SabotageScore)
	details := "Manual emergency escalation requested by an operator"
	if len(critical) > 0 {
		details = "Multiple sensor failures detected. Critical readings: " + sensorList(critical)
	}

	contacts := append([]string(nil), d.cfg.EmergencyPhones...)
	_, err = d.recorder.Record(ctx, models.AlertRecord{
		MachineID:       machine.ID,
		Class:           models.ClassManualEscalation,
		Severity:        models.SeverityHigh,
		Title:           "Manual Emergency Call",
		Message:         fmt.Sprintf("Emergency call to %d contacts for %s: %s", len(contacts), machine.Name, details),
		NotifyAttempted: true,
		CreatedAt:       now,
	}, map[string]any{"contacts": len(contacts), "critical_sensors": critical})
	if err != nil {
		log.Errorf("Record manual escalation failed: %v", err)
	}
	log.Warnf("Manual emergency call for %s to %d contacts", machine.Name, len(contacts))

	script := d.cfg.Voice.emergencyScript(machine, details, now)
	sms := emergencySMS(machine, details, now)
	d.runner.Queue(Task{
		Name:      "manual-emergency-call",
		MachineID: machine.ID,
		Run:       func(ctx context.Context) { d.callAll(ctx, machine.ID, contacts, script) },
	})
	d.clock.AfterFunc(d.cfg.ManualSMSDelay, func() {
		d.runner.Queue(Task{
			Name:      "manual-emergency-sms",
			MachineID: machine.ID,
			Run:       func(ctx context.Context) { d.smsAll(ctx, machine.ID, contacts, sms) },
		})
	})
	return len(contacts), nil
}

// latestPerSensor keeps the first reading of each sensor from a newest first slice.
func latestPerSensor(readings []models.SensorReading) []models.SensorReading {
	var out []models.SensorReading
	seen := make(map[string]bool)
	for _, r := range readings {
		if !seen[r.SensorType] {
			seen[r.SensorType] = true
			out = append(out, r)
		}
	}
	return out
}

func (d *Dispatcher) queueEmail(machineID int64, recipients []string, subject, body string, priority models.EmailPriority) {
	if len(recipients) == 0 {
		d.logger.With("machine_id", machineID).Warnf("No email recipients configured for %q", subject)
		return
	}
	d.runner.Queue(Task{
		Name:      "email",
		MachineID: machineID,
		Run: func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
			defer cancel()
			err := d.channels.Email.SendEmail(ctx, recipients, subject, body, priority)
			d.metrics.Notification(ChannelEmail, err)
			if err != nil {
				d.logger.WithField("machine_id", machineID).WithField("channel", ChannelEmail).
					Errorf("Send email to %v failed: %v", recipients, err)
			}
		},
	})
}

func (d *Dispatcher) queueChat(machineID int64, text string) {
	if d.channels.Chat == nil {
		return
	}
	d.runner.Queue(Task{
		Name:      "chat",
		MachineID: machineID,
		Run: func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
			defer cancel()
			err := d.channels.Chat.Notify(ctx, text)
			d.metrics.Notification(ChannelTelegram, err)
			if err != nil {
				d.logger.WithField("machine_id", machineID).WithField("channel", ChannelTelegram).
					Errorf("Chat notify failed: %v", err)
			}
		},
	})
}

// callAll places one call per contact. A failure never stops the rest.
func (d *Dispatcher) callAll(ctx context.Context, machineID int64, contacts []string, script string) {
	for _, to := range contacts {
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
		sid, err := d.channels.Voice.PlaceVoiceCall(callCtx, to, script)
		cancel()
		d.metrics.Notification(ChannelVoice, err)
		entry := d.logger.WithField("machine_id", machineID).WithField("channel", ChannelVoice).WithField("contact", to)
		if err != nil {
			entry.Errorf("Voice call failed: %v", err)
			continue
		}
		entry.Infof("Voice call initiated sid=%s", sid)
	}
}

func (d *Dispatcher) smsAll(ctx context.Context, machineID int64, contacts []string, body string) {
	for _, to := range contacts {
		smsCtx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
		sid, err := d.channels.SMS.SendSMS(smsCtx, to, body)
		cancel()
		d.metrics.Notification(ChannelSMS, err)
		entry := d.logger.WithField("machine_id", machineID).WithField("channel", ChannelSMS).WithField("contact", to)
		if err != nil {
			entry.Errorf("SMS failed: %v", err)
			continue
		}
		entry.Infof("SMS sent sid=%s", sid)
	}
}

// CallStatus proxies the voice provider's status lookup.
func (d *Dispatcher) CallStatus(ctx context.Context, sid string) (models.CallStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
	defer cancel()
	return d.channels.Voice.GetCallStatus(ctx, sid)
}

func concat(lists ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, l := range lists {
		for _, s := range l {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
