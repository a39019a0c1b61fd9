// Package influx mirrors sensor readings into an InfluxDB bucket.
package influx

import (
	"context"
	"fmt"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"telemetry-service/internal/models"
)

const measurement = "sensor_reading"

// PointWriter is the subset of api.WriteAPIBlocking the exporter uses.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type Exporter struct {
	writer PointWriter
	close  func()
}

// New connects to url and writes into org/bucket.
func New(url, token, org, bucket string) *Exporter {
	client := influxdb2.NewClient(url, token)
	return &Exporter{writer: client.WriteAPIBlocking(org, bucket), close: client.Close}
}

// NewWithWriter wraps an existing writer.
func NewWithWriter(w PointWriter) *Exporter {
	return &Exporter{writer: w}
}

// Export writes one point per reading in a single blocking call.
func (e *Exporter) Export(ctx context.Context, machine models.Machine, readings []models.SensorReading) error {
	if len(readings) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(readings))
	for _, r := range readings {
		points = append(points, Point(machine, r))
	}
	if err := e.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write %d points to influxdb: %w", len(points), err)
	}
	return nil
}

// Point maps a reading onto the sensor_reading measurement.
func Point(machine models.Machine, r models.SensorReading) *write.Point {
	return influxdb2.NewPoint(
		measurement,
		map[string]string{
			"machine_id":   strconv.FormatInt(machine.ID, 10),
			"machine_type": machine.MachineType,
			"sensor_type":  r.SensorType,
			"mode":         string(machine.Mode),
		},
		map[string]interface{}{
			"value":         r.Value,
			"anomaly_score": r.AnomalyScore,
			"is_anomaly":    r.IsAnomaly,
			"unit":          r.Unit,
		},
		r.Timestamp,
	)
}

func (e *Exporter) Close() {
	if e.close != nil {
		e.close()
	}
}
