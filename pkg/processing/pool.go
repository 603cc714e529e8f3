package processing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/open-teleop/dashboard/domain/robot"
	customlog "github.com/open-teleop/dashboard/pkg/log"
)

// ErrQueueFull is reported for statuses dropped because the queue was full.
var ErrQueueFull = errors.New("processing queue full")

// Processor handles one queued status.
type Processor func(ctx context.Context, status robot.Status) error

// ProcessResult is the outcome of processing one status.
type ProcessResult struct {
	Status   robot.Status
	Duration time.Duration
	Error    error
}

// ResultHandler is a function that handles processed results
type ResultHandler func(result *ProcessResult)

// ProcessingPool is a bounded queue drained by a fixed set of workers.
// Submissions never block: when the queue is full the status is dropped.
type ProcessingPool struct {
	name          string
	workerCount   int
	queueSize     int
	logger        customlog.Logger
	queue         chan robot.Status
	processor     Processor
	resultHandler ResultHandler

	running bool
	wg      sync.WaitGroup
	mu      sync.Mutex
	metrics PoolMetrics
}

// PoolMetrics tracks metrics for a processing pool
type PoolMetrics struct {
	ProcessedCount    int64
	ErrorCount        int64
	QueuedCount       int64
	DroppedCount      int64
	LastProcessedTime int64
	ProcessingTimeAvg int64 // in microseconds
	ProcessingTimeMax int64 // in microseconds
}

// NewProcessingPool creates a stopped pool. workerCount and queueSize are
// raised to 1 if smaller.
func NewProcessingPool(name string, workerCount, queueSize int, processor Processor, logger customlog.Logger) *ProcessingPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &ProcessingPool{
		name:        name,
		workerCount: workerCount,
		queueSize:   queueSize,
		logger:      logger,
		processor:   processor,
	}
}

// SetResultHandler sets the result handler function
func (p *ProcessingPool) SetResultHandler(handler ResultHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resultHandler = handler
}

// Submit queues status. It returns ErrQueueFull when the status was dropped.
func (p *ProcessingPool) Submit(status robot.Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return errors.New(p.name + " pool not running")
	}

	select {
	case p.queue <- status:
		p.metrics.QueuedCount++
		return nil
	default:
		p.metrics.DroppedCount++
		return ErrQueueFull
	}
}

// Start starts the workers. ctx is handed to the processor.
func (p *ProcessingPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.queue = make(chan robot.Status, p.queueSize)
	p.logger.Debugf("Starting %s pool with %d workers", p.name, p.workerCount)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i, p.queue)
	}
}

// Stop closes the queue, lets the workers drain it and waits for them.
func (p *ProcessingPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.logMetrics()
}

func (p *ProcessingPool) worker(ctx context.Context, id int, queue <-chan robot.Status) {
	defer p.wg.Done()

	p.logger.Debugf("%s pool worker %d started", p.name, id)

	for status := range queue {
		start := time.Now()
		err := p.processor(ctx, status)
		elapsed := time.Since(start)

		p.mu.Lock()
		p.metrics.ProcessedCount++
		p.metrics.LastProcessedTime = time.Now().UnixNano()
		us := elapsed.Microseconds()
		if p.metrics.ProcessingTimeAvg == 0 {
			p.metrics.ProcessingTimeAvg = us
		} else {
			// Simple moving average
			p.metrics.ProcessingTimeAvg = (p.metrics.ProcessingTimeAvg + us) / 2
		}
		if us > p.metrics.ProcessingTimeMax {
			p.metrics.ProcessingTimeMax = us
		}
		if err != nil {
			p.metrics.ErrorCount++
		}
		handler := p.resultHandler
		p.mu.Unlock()

		if handler != nil {
			handler(&ProcessResult{Status: status, Duration: elapsed, Error: err})
		}
	}

	p.logger.Debugf("%s pool worker %d stopped", p.name, id)
}

// GetMetrics returns a copy of the current metrics
func (p *ProcessingPool) GetMetrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

func (p *ProcessingPool) logMetrics() {
	m := p.GetMetrics()
	p.logger.Infof("%s pool metrics: processed=%d, errors=%d, dropped=%d, avg_time=%dµs, max_time=%dµs",
		p.name, m.ProcessedCount, m.ErrorCount, m.DroppedCount, m.ProcessingTimeAvg, m.ProcessingTimeMax)
}

// GetName returns the pool name
func (p *ProcessingPool) GetName() string {
	return p.name
}

// GetQueueLength returns the number of statuses waiting.
func (p *ProcessingPool) GetQueueLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// GetQueueCapacity returns the capacity of the queue
func (p *ProcessingPool) GetQueueCapacity() int {
	return p.queueSize
}
