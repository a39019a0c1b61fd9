package alerting

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"html/template"
	"strings"
	"time"

	"telemetry-service/internal/models"
)

var emailTemplates = template.Must(template.New("emails").Funcs(template.FuncMap{
	"pct":  func(f float64) string { return fmt.Sprintf("%.0f%%", f*100) },
	"num":  func(f float64) string { return fmt.Sprintf("%.2f", f) },
	"when": func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
	"health": func(f float64) string { return fmt.Sprintf("%.1f%%", f) },
	"label":  sensorLabel,
}).Parse(`
{{define "maintenance"}}<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: 'Segoe UI', Tahoma, sans-serif; max-width: 700px; margin: 0 auto;">
  <div style="background: #fef3c7; color: #92400e; padding: 12px; text-align: center; font-weight: bold;">
    ⚠️ MAINTENANCE ALERT - Irregular Sensor Readings Detected
  </div>
  <h1>Maintenance Required</h1>
  <h3>🏭 Equipment Information</h3>
  <p><strong>Machine:</strong> {{.Machine.Name}}</p>
  <p><strong>Type:</strong> {{.Machine.MachineType}}</p>
  <p><strong>Location:</strong> {{if .Machine.Location}}{{.Machine.Location}}{{else}}Not specified{{end}}</p>
  <p><strong>Alert Time:</strong> {{when .At}}</p>
  <h3>📊 Irregular Sensor Readings</h3>
  <table>
    <tr><th>Sensor</th><th>Value</th><th>Anomaly Score</th></tr>
    {{range .Sensors}}<tr><td>{{.Sensor}}</td><td>{{num .Value}} {{.Unit}}</td><td>{{pct .AnomalyScore}}</td></tr>
    {{end}}
  </table>
  <h3>📋 Reading History (last {{.HistoryMinutes}} minutes)</h3>
  {{if .History}}<table>
    <tr><th>Seconds Ago</th><th>Sensor</th><th>Value</th><th>Anomaly Score</th><th></th></tr>
    {{range .History}}<tr><td>{{.SecondsBefore}}s</td><td>{{.Sensor}}</td><td>{{num .Value}} {{.Unit}}</td><td>{{pct .AnomalyScore}}</td><td>{{.Trend}}</td></tr>
    {{end}}
  </table>{{else}}<p>No earlier readings in this window.</p>{{end}}
  <h3>🔧 Recommended Actions</h3>
  <ul>
    <li>Verify sensor calibration</li>
    <li>Check mechanical connections</li>
    <li>Schedule a maintenance window within 48 hours</li>
  </ul>
  <p>Automated alert generated at {{when .At}}</p>
</body>
</html>{{end}}

{{define "sabotage"}}<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: 'Segoe UI', Tahoma, sans-serif; max-width: 800px; margin: 0 auto;">
  <div style="background: #dc2626; color: white; padding: 15px; text-align: center; font-weight: bold;">
    🚨 CRITICAL INCIDENT - IMMEDIATE ACTION REQUIRED 🚨
  </div>
  <h1>Critical Incident Report</h1>
  <p><strong>Incident ID:</strong> {{.IncidentID}}</p>
  <p><strong>Machine:</strong> {{.Machine.Name}} ({{.Machine.MachineType}})</p>
  <p><strong>Location:</strong> {{if .Machine.Location}}{{.Machine.Location}}{{else}}Not specified{{end}}</p>
  <p><strong>Incident Time:</strong> {{when .At}}</p>
  <h3>⚡ Critical Sensors</h3>
  <table>
    <tr><th>Sensor</th><th>Value</th><th>Anomaly Score</th></tr>
    {{range .Sensors}}<tr><td>{{.Sensor}}</td><td>{{num .Value}} {{.Unit}}</td><td>{{pct .AnomalyScore}}</td></tr>
    {{end}}
  </table>
  <h3>📈 Pre-Incident Readings (last {{.WindowSeconds}} seconds)</h3>
  {{if .PreIncident}}<table>
    <tr><th>Time Before Incident</th><th>Sensor</th><th>Value</th><th>Anomaly Score</th><th></th></tr>
    {{range .PreIncident}}<tr><td>{{.SecondsBefore}}s</td><td>{{.Sensor}}</td><td>{{num .Value}} {{.Unit}}</td><td>{{pct .AnomalyScore}}</td><td>{{.Trend}}</td></tr>
    {{end}}
  </table>{{else}}<p>No readings recorded in the window before the incident.</p>{{end}}
  <h3>🛡️ Emergency Response Protocol</h3>
  <ul>
    <li><strong>EVACUATE</strong> personnel from the affected area</li>
    <li><strong>SHUTDOWN</strong> the equipment via the emergency stop</li>
    <li><strong>DISPATCH</strong> the emergency response team</li>
    <li><strong>DOCUMENT</strong> scene and readings</li>
  </ul>
  <p>🚨 CRITICAL INCIDENT REPORT - {{.IncidentID}}</p>
</body>
</html>{{end}}

{{define "health_degradation"}}<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: 'Segoe UI', Tahoma, sans-serif; max-width: 700px; margin: 0 auto;">
  <div style="background: #fef3c7; color: #92400e; padding: 12px; text-align: center; font-weight: bold;">
    ⚠️ SENSOR HEALTH DEGRADATION ALERT
  </div>
  <h1>Preventive Maintenance Required</h1>
  <p><strong>Machine:</strong> {{.Machine.Name}} ({{.Machine.MachineType}})</p>
  <p><strong>Location:</strong> {{if .Machine.Location}}{{.Machine.Location}}{{else}}Not specified{{end}}</p>
  <p><strong>Alert Time:</strong> {{when .At}}</p>
  <h3>📉 Degraded Sensors</h3>
  <ul>
    {{range .Sensors}}<li>{{label .SensorType}}: {{health .HealthPct}} health</li>
    {{end}}
  </ul>
  <h3>🔧 Recommended Actions</h3>
  <ul>
    <li>Schedule sensor calibration within 24 hours</li>
    <li>Inspect sensor connections and wiring</li>
    <li>Check environmental factors around the sensors</li>
    <li>Prepare replacement sensors</li>
  </ul>
  <p>Automated alert generated at {{when .At}}</p>
</body>
</html>{{end}}

{{define "sensor_failure"}}<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: 'Segoe UI', Tahoma, sans-serif; max-width: 700px; margin: 0 auto;">
  <div style="background: #dc2626; color: white; padding: 15px; text-align: center; font-weight: bold;">
    🚨 CRITICAL SENSOR FAILURE ALERT 🚨
  </div>
  <h1>Sensors Not Responding</h1>
  <p><strong>Machine:</strong> {{.Machine.Name}} ({{.Machine.MachineType}})</p>
  <p><strong>Location:</strong> {{if .Machine.Location}}{{.Machine.Location}}{{else}}Not specified{{end}}</p>
  <p><strong>Failure Time:</strong> {{when .At}}</p>
  <h3>⚡ Failed Sensors</h3>
  <ul>
    {{range .Sensors}}<li>{{label .SensorType}}: {{health .HealthPct}} health - NOT RESPONDING</li>
    {{end}}
  </ul>
  <h3>🛡️ Immediate Actions</h3>
  <ul>
    <li><strong>STOP PRODUCTION</strong> on the affected equipment</li>
    <li><strong>DISPATCH TECHNICIAN</strong> to the machine</li>
    <li><strong>CHECK SAFETY SYSTEMS</strong> before restart</li>
    <li><strong>INVESTIGATE CAUSE</strong> of the failure</li>
  </ul>
  <p>Automated alert generated at {{when .At}}</p>
</body>
</html>{{end}}

{{define "sensor_maintenance"}}<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: 'Segoe UI', Tahoma, sans-serif; max-width: 700px; margin: 0 auto;">
  <div style="background: #dbeafe; color: #1e3a8a; padding: 12px; text-align: center; font-weight: bold;">
    🔧 INDIVIDUAL SENSOR MAINTENANCE
  </div>
  <p><strong>Machine:</strong> {{.Machine.Name}} ({{.Machine.MachineType}})</p>
  <p><strong>Time:</strong> {{when .At}}</p>
  <ul>
    {{range .Sensors}}<li>{{label .SensorType}} set to maintenance mode: {{health .HealthPct}} health</li>
    {{end}}
  </ul>
  <p>Calibrate or replace the sensor before returning it to service.</p>
</body>
</html>{{end}}
`))

type preIncidentRow struct {
	SecondsBefore int
	Sensor        string
	Value         float64
	Unit          string
	AnomalyScore  float64
	Trend         string
}

type maintenanceEmail struct {
	Machine        models.Machine
	At             time.Time
	Sensors        []models.SensorSnapshot
	HistoryMinutes int
	History        []preIncidentRow
}

type healthEmail struct {
	Machine models.Machine
	At      time.Time
	Sensors []models.SensorHealth
}

type sabotageEmail struct {
	IncidentID    string
	Machine       models.Machine
	At            time.Time
	Sensors       []models.SensorSnapshot
	WindowSeconds int
	PreIncident   []preIncidentRow
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s email: %w", name, err)
	}
	return buf.String(), nil
}

func maintenanceSubject(m models.Machine) string {
	return fmt.Sprintf("⚠️ Irregular Readings Detected - %s - Maintenance Required", m.Name)
}

func sabotageSubject(m models.Machine, at time.Time) string {
	return fmt.Sprintf("🚨 CRITICAL INCIDENT REPORT - %s - %s", m.Name, at.Format("2006-01-02 15:04:05"))
}

func healthDegradationSubject(m models.Machine) string {
	return fmt.Sprintf("⚠️ Sensor Health Alert - %s - Maintenance Recommended", m.Name)
}

func sensorFailureSubject(m models.Machine) string {
	return fmt.Sprintf("🚨 CRITICAL - Sensor Failure - %s - IMMEDIATE ACTION REQUIRED", m.Name)
}

func sensorMaintenanceSubject(m models.Machine, sensorType string) string {
	return fmt.Sprintf("🔧 Sensor Maintenance - %s - %s", m.Name, sensorLabel(sensorType))
}

// sensorLabel turns flow_rate into Flow rate.
func sensorLabel(sensorType string) string {
	s := strings.ReplaceAll(sensorType, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func incidentID(machineID int64, at time.Time) string {
	return fmt.Sprintf("INC-%s-%d", at.Format("20060102150405"), machineID)
}

// preIncidentRows converts readings (newest first) into report rows aged against at.
func preIncidentRows(readings []models.SensorReading, at time.Time) []preIncidentRow {
	rows := make([]preIncidentRow, 0, len(readings))
	for _, r := range readings {
		trend := ""
		if r.AnomalyScore > 0.5 {
			trend = "📈"
		}
		rows = append(rows, preIncidentRow{
			SecondsBefore: int(at.Sub(r.Timestamp).Seconds()),
			Sensor:        r.SensorType,
			Value:         r.Value,
			Unit:          r.Unit,
			AnomalyScore:  r.AnomalyScore,
			Trend:         trend,
		})
	}
	return rows
}

func sensorList(snaps []models.SensorSnapshot) string {
	parts := make([]string, 0, len(snaps))
	for _, s := range snaps {
		parts = append(parts, fmt.Sprintf("%s %.2f %s", s.Sensor, s.Value, s.Unit))
	}
	return strings.Join(parts, ", ")
}

// TwiML documents.

type say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr"`
	Language string   `xml:"language,attr"`
	Text     string   `xml:",chardata"`
}

type pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type gather struct {
	XMLName   xml.Name `xml:"Gather"`
	Timeout   int      `xml:"timeout,attr"`
	NumDigits int      `xml:"numDigits,attr"`
	Say       say
}

type response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Voice holds the text-to-speech settings for generated scripts.
type Voice struct {
	Name     string
	Language string
}

func (v Voice) say(text string) say {
	return say{Voice: v.Name, Language: v.Language, Text: text}
}

func twiml(verbs ...any) string {
	out, err := xml.Marshal(response{Verbs: verbs})
	if err != nil {
		// only plain structs are marshalled here
		panic(err)
	}
	return string(out)
}

func (v Voice) maintenanceScript(m models.Machine, details string) string {
	msg := fmt.Sprintf("Hello, this is a maintenance reminder from the plant monitoring system. "+
		"Equipment %s requires scheduled maintenance. Details: %s. "+
		"Please schedule maintenance within the next 48 hours.", m.Name, details)
	return twiml(v.say(msg))
}

func (v Voice) emergencyScript(m models.Machine, details string, at time.Time) string {
	msg := fmt.Sprintf("Attention! This is an emergency alert from the plant monitoring system. "+
		"We have detected a critical equipment failure. Affected equipment: %s. Incident time: %s. "+
		"Incident details: %s. Immediate emergency response is required. This is not a drill.",
		m.Name, at.Format("15:04:05"), details)
	return twiml(
		v.say(msg),
		pause{Length: 2},
		v.say("Press any key to acknowledge this emergency alert."),
		gather{Timeout: 10, NumDigits: 1, Say: v.say("Thank you for acknowledging. Emergency response team has been notified.")},
		v.say("If you did not acknowledge, this call will be logged as unattended. Please check the emergency dashboard immediately."),
	)
}

func emergencySMS(m models.Machine, details string, at time.Time) string {
	return fmt.Sprintf("🚨 CRITICAL EMERGENCY ALERT 🚨\n\nINCIDENT: %s FAILURE\nTIME: %s\nDETAILS: %s\n\nIMMEDIATE ACTION REQUIRED!",
		m.Name, at.Format("2006-01-02 15:04:05"), details)
}
