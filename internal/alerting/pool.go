package alerting

import (
	"context"
	"sync"

	"telemetry-service/internal/logging"
	"telemetry-service/internal/metrics"
)

// Task is a unit of notification work.
type Task struct {
	Name      string
	MachineID int64
	Run       func(ctx context.Context)
}

// Runner accepts tasks for asynchronous execution.
type Runner interface {
	Queue(task Task) bool
}

// Inline runs tasks synchronously on the calling goroutine.
type Inline struct{}

func (Inline) Queue(task Task) bool {
	task.Run(context.Background())
	return true
}

// Pool runs Tasks on a fixed set of workers fed by a bounded queue.
type Pool struct {
	logger  *logging.Logger
	metrics *metrics.Metrics
	tasks   chan Task
	workers int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
}

// NewPool constructs a Pool; call Start to launch the workers.
func NewPool(queueSize, workers int, logger *logging.Logger, m *metrics.Metrics) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:  logger,
		metrics: m,
		tasks:   make(chan Task, queueSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker pool.
func (p *Pool) Start(wg *sync.WaitGroup) {
	p.wg = wg
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Queue enqueues a Task, dropping it when the queue is full.
func (p *Pool) Queue(task Task) bool {
	select {
	case p.tasks <- task:
		p.logger.Debugf("Queued task: %s machine=%d", task.Name, task.MachineID)
		return true
	default:
		p.metrics.QueueDropped()
		p.logger.Errorf("Queue full, dropping task: %s machine=%d", task.Name, task.MachineID)
		return false
	}
}

// Stop cancels the workers. Tasks still queued are abandoned.
func (p *Pool) Stop() {
	p.cancel()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			p.logger.Infof("Worker %d stopped", id)
			return
		case task := <-p.tasks:
			p.run(task)
		}
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("Task %s panicked: %v", task.Name, r)
		}
	}()
	task.Run(p.ctx)
}
