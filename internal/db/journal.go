package db

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/rescuebot/internal/monitoring"
	"github.com/banshee-data/rescuebot/internal/navigation"
)

// Journal buffers tick records from the control loop and writes them to
// the database in batches from its own goroutine, so the loop never waits
// on disk. When the buffer is full new records are dropped and counted.
type Journal struct {
	db       *DB
	runID    string
	interval time.Duration
	batch    int

	records chan navigation.TickRecord
	dropped atomic.Uint64
	written atomic.Uint64

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// JournalConfig tunes a Journal. Zero values take defaults.
type JournalConfig struct {
	// Interval is how often buffered records are flushed.
	Interval time.Duration
	// BatchSize flushes early once this many records are waiting.
	BatchSize int
	// Buffer is the capacity of the record queue.
	Buffer int
}

// NewJournal returns a journal that records into runID.
func NewJournal(db *DB, runID string, cfg JournalConfig) *Journal {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	return &Journal{
		db:       db,
		runID:    runID,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
		records:  make(chan navigation.TickRecord, cfg.Buffer),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// RunID returns the run being recorded.
func (j *Journal) RunID() string {
	return j.runID
}

// RecordTick queues rec. It never blocks.
func (j *Journal) RecordTick(_ context.Context, rec navigation.TickRecord) error {
	select {
	case j.records <- rec:
	default:
		if j.dropped.Add(1)%100 == 1 {
			monitoring.Logf("[db] journal buffer full, %d ticks dropped so far", j.dropped.Load())
		}
	}
	return nil
}

// Stats reports how many ticks were written and dropped.
func (j *Journal) Stats() (written, dropped uint64) {
	return j.written.Load(), j.dropped.Load()
}

// Run flushes queued records until ctx is cancelled or Stop is called; both
// flush what is still queued before returning.
func (j *Journal) Run(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.mu.Unlock()
	defer close(j.doneCh)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	pending := make([]navigation.TickRecord, 0, j.batch)
	for {
		select {
		case <-ctx.Done():
			j.flush(j.drain(pending))
			return nil
		case <-j.stopCh:
			j.flush(j.drain(pending))
			return nil
		case rec := <-j.records:
			pending = append(pending, rec)
			if len(pending) >= j.batch {
				j.flush(pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			j.flush(pending)
			pending = pending[:0]
		}
	}
}

// Stop ends Run and waits for its final flush when Run has started. Safe
// to call more than once; a Run started after Stop flushes and returns.
func (j *Journal) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.mu.Lock()
	running := j.running
	j.mu.Unlock()
	if running {
		<-j.doneCh
	}
}

func (j *Journal) drain(pending []navigation.TickRecord) []navigation.TickRecord {
	for {
		select {
		case rec := <-j.records:
			pending = append(pending, rec)
		default:
			return pending
		}
	}
}

func (j *Journal) flush(recs []navigation.TickRecord) {
	if len(recs) == 0 {
		return
	}
	// The run context may already be cancelled during the final flush.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.db.InsertTicks(ctx, j.runID, recs); err != nil {
		monitoring.Logf("[db] flush %d ticks: %v", len(recs), err)
		return
	}
	j.written.Add(uint64(len(recs)))
}

var _ navigation.TickRecorder = (*Journal)(nil)
