package simulation

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"telemetry-service/internal/catalog"
	"telemetry-service/internal/clock"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/metrics"
	"telemetry-service/internal/models"
)

// Store is the persistence the loop writes through.
type Store interface {
	ListMachines(ctx context.Context, activeOnly bool) ([]models.Machine, error)
	InsertReading(ctx context.Context, r models.SensorReading) error
}

// ValueSource synthesizes sensor values. *Generator is the production source.
type ValueSource interface {
	Generate(def models.SensorDefinition, mode models.MachineMode) float64
}

// Evaluator receives a machine's readings once they are all persisted.
type Evaluator interface {
	Evaluate(ctx context.Context, machine models.Machine, readings []models.SensorReading)
}

// Broadcaster pushes a machine's tick to live subscribers.
type Broadcaster interface {
	Broadcast(machineID int64, readings []models.SensorReading)
}

// Exporter mirrors readings to a secondary sink.
type Exporter interface {
	Export(ctx context.Context, machine models.Machine, readings []models.SensorReading) error
}

type Options struct {
	Interval    time.Duration
	Parallelism int
	Broadcaster Broadcaster
	Exporter    Exporter
}

// Loop drives one tick per interval over every active machine.
type Loop struct {
	store     Store
	catalog   *catalog.Catalog
	gen       ValueSource
	evaluator Evaluator
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *logging.Logger
	opts      Options
}

func NewLoop(store Store, cat *catalog.Catalog, gen ValueSource, ev Evaluator, clk clock.Clock,
	m *metrics.Metrics, logger *logging.Logger, opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Loop{
		store:     store,
		catalog:   cat,
		gen:       gen,
		evaluator: ev,
		clock:     clk,
		metrics:   m,
		logger:    logger,
		opts:      opts,
	}
}

// TickResult summarizes one tick.
type TickResult struct {
	Machines int
	Readings int
	Failed   int
}

// Run ticks immediately and then every interval until ctx is done.
// Per-tick failures are logged and never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	l.logger.Infof("Simulation loop started, interval=%s parallelism=%d", l.opts.Interval, l.opts.Parallelism)
	for {
		l.Tick(ctx)
		select {
		case <-ctx.Done():
			l.logger.Infof("Simulation loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick processes every active, non-shutdown machine once.
func (l *Loop) Tick(ctx context.Context) TickResult {
	started := time.Now()
	defer func() { l.metrics.Tick(time.Since(started)) }()

	var res TickResult
	machines, err := l.store.ListMachines(ctx, true)
	if err != nil {
		l.logger.Errorf("List machines failed: %v", err)
		return res
	}

	now := l.clock.Now()
	var readings, failed, ticked atomic.Int64
	var g errgroup.Group
	g.SetLimit(l.opts.Parallelism)
	for _, m := range machines {
		if m.Mode == models.ModeShutdown {
			continue
		}
		g.Go(func() error {
			n, err := l.tickMachine(ctx, m, now)
			readings.Add(int64(n))
			ticked.Add(1)
			if err != nil {
				failed.Add(1)
				l.metrics.TickError()
				l.logger.With("machine_id", m.ID).Errorf("Tick aborted: %v", err)
			}
			// never fail the group; machines are independent
			return nil
		})
	}
	_ = g.Wait()

	res.Machines = int(ticked.Load())
	res.Readings = int(readings.Load())
	res.Failed = int(failed.Load())
	return res
}

// tickMachine persists every sensor's reading before running the trigger
// checks. The first write failure aborts the machine's tick.
func (l *Loop) tickMachine(ctx context.Context, m models.Machine, now time.Time) (int, error) {
	defs, ok := l.catalog.Sensors(m.MachineType)
	if !ok {
		l.logger.With("machine_id", m.ID).Warnf("Machine type %q has no valid sensor definitions, skipping", m.MachineType)
		return 0, nil
	}

	readings := make([]models.SensorReading, 0, len(defs))
	for _, def := range defs {
		value := l.gen.Generate(def, m.Mode)
		anomaly, score := Score(value, def, m.Mode)
		r := models.SensorReading{
			MachineID:    m.ID,
			SensorType:   def.SensorType,
			Value:        value,
			Unit:         def.Unit,
			IsAnomaly:    anomaly,
			AnomalyScore: score,
			Timestamp:    now,
		}
		if err := l.store.InsertReading(ctx, r); err != nil {
			return len(readings), err
		}
		l.metrics.Reading(anomaly)
		readings = append(readings, r)
	}

	l.evaluator.Evaluate(ctx, m, readings)

	if l.opts.Broadcaster != nil {
		l.opts.Broadcaster.Broadcast(m.ID, readings)
	}
	if l.opts.Exporter != nil {
		if err := l.opts.Exporter.Export(ctx, m, readings); err != nil {
			l.logger.With("machine_id", m.ID).Warnf("Export readings failed: %v", err)
		}
	}
	return len(readings), nil
}
