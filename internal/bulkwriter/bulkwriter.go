// Package bulkwriter implements the Bulk Writer (spec.md §4.I): a
// bounded, blocking work queue drained into the Raw table via batched
// pgx CopyFrom, with exponential backoff on transient connection loss
// and a three-strikes escalation for batches that keep failing.
//
// Grounded on the teacher's chancacher-fronted ingest path for the
// "bounded queue feeding a single drain task" shape, but deliberately
// diverging from Dispatcher's drop-oldest policy: spec.md §4.I requires
// blocking backpressure here, never a drop, so Enqueue is a blocking
// channel send rather than dispatch.Enqueue's non-blocking drop-oldest
// send.
package bulkwriter

import (
	"context"
	"time"

	"github.com/gravwell/pixelforge/internal/errs"
	"github.com/gravwell/pixelforge/internal/logging"
	"github.com/gravwell/pixelforge/internal/record"
	"github.com/gravwell/pixelforge/internal/store"
)

const (
	defaultBatchSize    = 500
	defaultMaxDelay     = time.Second
	defaultBackoffMin   = 500 * time.Millisecond
	defaultBackoffMax   = 30 * time.Second
	maxConsecutiveFails = 3
)

// Item is one Forge-enriched record queued for durable persistence.
type Item struct {
	Record    record.TrackingRecord
	ForgeJSON []byte
}

// Copier is the subset of *store.Store the Writer needs, narrowed for
// testability.
type Copier interface {
	CopyRaw(ctx context.Context, rows []store.RawRow) (int64, error)
}

// Writer drains a bounded, blocking queue into the Raw table in batches.
type Writer struct {
	store     Copier
	log       *logging.Logger
	batchSize int
	maxDelay  time.Duration

	queue chan Item

	consecutiveFails int
	escalated        bool
}

// New builds a Writer with a queue of the given capacity; Enqueue blocks
// once it is full, per spec.md §4.I's "never drop at this stage"
// requirement.
func New(st Copier, capacity int, log *logging.Logger) *Writer {
	if capacity <= 0 {
		capacity = 5000
	}
	return &Writer{
		store:     st,
		log:       log,
		batchSize: defaultBatchSize,
		maxDelay:  defaultMaxDelay,
		queue:     make(chan Item, capacity),
	}
}

// Enqueue blocks until there is room in the queue or ctx is canceled.
func (w *Writer) Enqueue(ctx context.Context, item Item) error {
	select {
	case w.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is canceled, flushing a batch once it
// reaches batchSize or maxDelay elapses since the first item in the
// current batch, whichever comes first.
func (w *Writer) Run(ctx context.Context) {
	batch := make([]Item, 0, w.batchSize)
	timer := time.NewTimer(w.maxDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.writeBatch(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case item := <-w.queue:
			if len(batch) == 0 {
				resetTimer(timer, w.maxDelay)
			}
			batch = append(batch, item)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-timer.C:
			flush()
			timer.Reset(w.maxDelay)
		case <-ctx.Done():
			w.drainQueue(&batch)
			flush()
			return
		}
	}
}

func (w *Writer) drainQueue(batch *[]Item) {
	for {
		select {
		case item := <-w.queue:
			*batch = append(*batch, item)
		default:
			return
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// writeBatch retries a failing batch with exponential backoff; after
// maxConsecutiveFails straight failures it escalates (logs at Critical
// and drops the batch, since a blocking queue with no outlet would
// otherwise wedge the entire Forge process).
func (w *Writer) writeBatch(ctx context.Context, batch []Item) {
	rows := make([]store.RawRow, len(batch))
	for i, item := range batch {
		rows[i] = store.RawRow{Record: item.Record, ForgeJSON: item.ForgeJSON}
	}

	delay := defaultBackoffMin
	for {
		if _, err := w.store.CopyRaw(ctx, rows); err != nil {
			classified := errs.Wrap(errs.Transient, err)
			w.consecutiveFails++
			if w.log != nil {
				w.log.Warnf("bulk copy failed (attempt %d): %v", w.consecutiveFails, classified)
			}
			if w.consecutiveFails >= maxConsecutiveFails {
				w.escalated = true
				fatal := errs.Wrap(errs.Fatal, err)
				if w.log != nil {
					w.log.Criticalf("bulk writer escalating after %d consecutive batch failures, dropping %d rows: %v", w.consecutiveFails, len(rows), fatal)
				}
				w.consecutiveFails = 0
				return
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay *= 2
			if delay > defaultBackoffMax {
				delay = defaultBackoffMax
			}
			continue
		}
		w.consecutiveFails = 0
		return
	}
}

// Escalated reports whether the most recent run hit the three-strikes
// escalation path, exposed for tests and health reporting.
func (w *Writer) Escalated() bool {
	return w.escalated
}
