package alerting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"telemetry-service/internal/clock"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/metrics"
	"telemetry-service/internal/models"
)

// AlertStore persists alert records.
type AlertStore interface {
	InsertAlert(ctx context.Context, a models.AlertRecord) error
}

// Publisher forwards alert records to an event stream.
type Publisher interface {
	PublishAlert(ctx context.Context, a models.AlertRecord) error
}

// Recorder stamps, persists and publishes AlertRecords.
type Recorder struct {
	store     AlertStore
	clock     clock.Clock
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *logging.Logger
}

// NewRecorder returns a Recorder. publisher may be nil.
func NewRecorder(store AlertStore, clk clock.Clock, publisher Publisher, m *metrics.Metrics, logger *logging.Logger) *Recorder {
	return &Recorder{store: store, clock: clk, publisher: publisher, metrics: m, logger: logger}
}

// Record assigns an ID and timestamp, encodes payload and writes the record.
// A publish failure is logged and does not fail the call.
func (r *Recorder) Record(ctx context.Context, a models.AlertRecord, payload any) (models.AlertRecord, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.clock.Now()
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return a, fmt.Errorf("failed to encode alert payload: %w", err)
		}
		a.Payload = raw
	}

	if err := r.store.InsertAlert(ctx, a); err != nil {
		return a, err
	}
	r.metrics.Alert(string(a.Class), string(a.Severity))

	if r.publisher != nil {
		if err := r.publisher.PublishAlert(ctx, a); err != nil {
			r.logger.Warnf("Publish alert %s failed: %v", a.ID, err)
		}
	}
	return a, nil
}
