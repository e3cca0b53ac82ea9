// Package pipeline persists harvested product records: per-category
// checkpoints, the batched export pipeline and its writers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/meli-harvester/config"
	"github.com/aluiziolira/meli-harvester/models"
	"github.com/aluiziolira/meli-harvester/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: timed out draining workers")
)

// drainTimeout bounds how long Close waits for workers.
var drainTimeout = 2 * time.Minute

// OutputWriter receives batches of export records.
type OutputWriter interface {
	Write(records []*models.ProductRecord) error
	Close() error
	Validate() error
}

// Stats counts what the pipeline accepted and rejected.
type Stats struct {
	Processed  int64
	Invalid    int64
	Duplicates int64
}

// Pipeline validates and de-duplicates records on submission and hands them
// to the writer in batches. With a single worker, records reach the writer in
// submission order.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	queue     chan *models.ProductRecord
	batchSize int
	wg        sync.WaitGroup

	seenMu sync.Mutex
	seen   map[string]struct{}

	processed  atomic.Int64
	invalid    atomic.Int64
	duplicates atomic.Int64

	mu       sync.Mutex // guards closed and err
	closed   bool
	err      error
	shutdown chan struct{} // closed when intake stops
	aborted  chan struct{} // closed on the first write error

	// sendMu lets Close wait out in-flight sends before closing queue.
	sendMu    sync.RWMutex
	closeOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg. Canceling ctx stops
// accepting new records; records already queued are still written.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	d := config.DefaultConfig()
	bufferSize, batchSize := d.PipelineBufferSize, d.BatchSize
	if cfg != nil {
		if cfg.PipelineBufferSize > 0 {
			bufferSize = cfg.PipelineBufferSize
		}
		if cfg.BatchSize > 0 {
			batchSize = cfg.BatchSize
		}
	}
	return &Pipeline{
		ctx:       ctx,
		writer:    writer,
		queue:     make(chan *models.ProductRecord, bufferSize),
		batchSize: batchSize,
		seen:      make(map[string]struct{}),
		shutdown:  make(chan struct{}),
		aborted:   make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process validates records and queues the accepted ones. Records without
// an id or category name, and ids already accepted, are counted and dropped.
func (p *Pipeline) Process(records ...*models.ProductRecord) error {
	for _, record := range records {
		if record == nil {
			continue
		}
		if err := p.accepting(); err != nil {
			return err
		}
		if !p.admit(record) {
			continue
		}
		if err := p.enqueue(record); err != nil {
			return err
		}
	}
	return nil
}

// Close stops intake and waits for queued records to be written.
func (p *Pipeline) Close() error {
	p.stop(nil)
	p.closeOnce.Do(func() {
		p.sendMu.Lock()
		close(p.queue)
		p.sendMu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return p.Err()
	case <-timer.C:
		return ErrPipelineCloseTimeout
	}
}

// Err returns the first write error.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed:  p.processed.Load(),
		Invalid:    p.invalid.Load(),
		Duplicates: p.duplicates.Load(),
	}
}

// StartMetricsReporting logs the counters every interval until Close.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := p.Stats()
				slog.Info("export progress",
					slog.Int64("processed", stats.Processed),
					slog.Int64("duplicate_ids", stats.Duplicates),
					slog.Int64("invalid_records", stats.Invalid),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) admit(record *models.ProductRecord) bool {
	if err := parser.ValidateRecord(record); err != nil {
		p.invalid.Add(1)
		slog.Debug("export record rejected", slog.Any("error", err))
		return false
	}

	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	if _, dup := p.seen[record.ID]; dup {
		p.duplicates.Add(1)
		return false
	}
	p.seen[record.ID] = struct{}{}
	p.processed.Add(1)
	return true
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.ProductRecord, 0, p.batchSize)
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		if err := p.writer.Write(batch); err != nil {
			p.stop(fmt.Errorf("write batch: %w", err))
			return false
		}
		batch = batch[:0]
		return true
	}

	for {
		select {
		case <-p.aborted:
			return
		case record, ok := <-p.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, record)
			if len(batch) >= p.batchSize && !flush() {
				return
			}
		}
	}
}

func (p *Pipeline) enqueue(record *models.ProductRecord) error {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()

	// queue is closed only after shutdown, and not while the read lock is held
	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	default:
	}

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.queue <- record:
		return nil
	}
}

func (p *Pipeline) accepting() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.closed {
		return ErrPipelineClosed
	}
	return nil
}

// stop closes intake once and records the first error. Only Close closes
// the queue.
func (p *Pipeline) stop(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil && p.err == nil {
		p.err = err
		close(p.aborted)
	}
	if p.closed {
		return
	}
	p.closed = true
	close(p.shutdown)
}
