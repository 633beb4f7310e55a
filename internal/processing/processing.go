package processing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const DEFAULT_QUEUE_SIZE = 64
const DEFAULT_DRAIN_TIMEOUT = 2 * time.Second

var (
	ErrQueueOverflow = errors.New("ingestion queue full, row dropped")
	ErrStopped       = errors.New("ingestion stopped, row dropped")
)

// Appender writes one row to a named dataset.
type Appender interface {
	Append(name, line string) error
}

// Row is one formatted record bound for a dataset.
type Row struct {
	Dataset string
	Line    string
}

type Stats struct {
	Queued    int    `json:"queued"`
	Enqueued  uint64 `json:"enqueued"`
	Written   uint64 `json:"written"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Discarded uint64 `json:"discarded"`
}

// Processor decouples row producers from file I/O: producers never block, and a single
// writer appends rows in the order they were accepted.
type Processor struct {
	appender     Appender
	messageQueue chan Row
	drainTimeout time.Duration
	logger       *zap.Logger

	stopMutex sync.RWMutex
	stopped   bool

	enqueued  atomic.Uint64
	written   atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	discarded atomic.Uint64
}

func NewProcessor(appender Appender, queueSize int, drainTimeout time.Duration, logger *zap.Logger) *Processor {
	if queueSize <= 0 {
		queueSize = DEFAULT_QUEUE_SIZE
	}
	if drainTimeout <= 0 {
		drainTimeout = DEFAULT_DRAIN_TIMEOUT
	}
	return &Processor{
		appender:     appender,
		messageQueue: make(chan Row, queueSize),
		drainTimeout: drainTimeout,
		logger:       logger,
	}
}

// Enqueue hands a row to the writer. When the queue is full the row is dropped and counted.
func (p *Processor) Enqueue(row Row) error {
	p.stopMutex.RLock()
	defer p.stopMutex.RUnlock()

	if p.stopped {
		p.dropped.Add(1)
		return ErrStopped
	}

	select {
	case p.messageQueue <- row:
		p.enqueued.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueOverflow
	}
}

// Run writes queued rows until ctx is done, then drains what is left for at most the drain timeout.
func (p *Processor) Run(ctx context.Context) error {
	for {
		// shutdown wins over further queued rows; those are handled by drain
		if ctx.Err() != nil {
			p.logger.Info("[processor] received shutdown signal, draining queue", zap.Int("queued", len(p.messageQueue)))
			p.drain()
			return nil
		}

		select {
		case row := <-p.messageQueue:
			p.write(row)
		case <-ctx.Done():
		}
	}
}

func (p *Processor) drain() {
	p.stopMutex.Lock()
	p.stopped = true
	p.stopMutex.Unlock()

	deadline := time.NewTimer(p.drainTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-deadline.C:
			remaining := uint64(0)
			for len(p.messageQueue) > 0 {
				<-p.messageQueue
				remaining++
			}
			p.discarded.Add(remaining)
			p.logger.Warn("[processor] drain timed out, discarded queued rows", zap.Uint64("discarded", remaining))
			return
		default:
		}

		select {
		case row := <-p.messageQueue:
			p.write(row)
		default:
			p.logger.Info("[processor] queue drained", zap.Uint64("written", p.written.Load()), zap.Uint64("dropped", p.dropped.Load()))
			return
		}
	}
}

func (p *Processor) write(row Row) {
	if err := p.appender.Append(row.Dataset, row.Line); err != nil {
		p.failed.Add(1)
		p.logger.Warn(
			"[processor] error appending row",
			zap.Error(err),
			zap.String("dataset", row.Dataset),
			zap.String("row", row.Line),
		)
		return
	}
	p.written.Add(1)
}

func (p *Processor) Stats() Stats {
	return Stats{
		Queued:    len(p.messageQueue),
		Enqueued:  p.enqueued.Load(),
		Written:   p.written.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
		Discarded: p.discarded.Load(),
	}
}
