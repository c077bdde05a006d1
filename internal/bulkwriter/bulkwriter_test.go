package bulkwriter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gravwell/pixelforge/internal/record"
	"github.com/gravwell/pixelforge/internal/store"
)

type fakeCopier struct {
	mu      sync.Mutex
	batches [][]store.RawRow
	failN   int // fail the first failN calls
	calls   int
}

func (f *fakeCopier) CopyRaw(ctx context.Context, rows []store.RawRow) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return 0, errors.New("connection lost")
	}
	cp := make([]store.RawRow, len(rows))
	copy(cp, rows)
	f.batches = append(f.batches, cp)
	return int64(len(rows)), nil
}

func (f *fakeCopier) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestRunFlushesOnBatchSize(t *testing.T) {
	fc := &fakeCopier{}
	w := New(fc, 10, nil)
	w.batchSize = 2
	w.maxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	for i := 0; i < 4; i++ {
		w.Enqueue(ctx, Item{Record: record.TrackingRecord{CompanyID: "1"}})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && fc.batchCount() < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	if fc.batchCount() < 2 {
		t.Fatalf("expected at least 2 flushed batches of size 2, got %d", fc.batchCount())
	}
}

func TestRunFlushesOnMaxDelay(t *testing.T) {
	fc := &fakeCopier{}
	w := New(fc, 10, nil)
	w.batchSize = 100
	w.maxDelay = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	w.Enqueue(ctx, Item{Record: record.TrackingRecord{CompanyID: "1"}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && fc.batchCount() < 1 {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	if fc.batchCount() < 1 {
		t.Fatalf("expected the lone item to flush once maxDelay elapsed")
	}
}

func TestWriteBatchEscalatesAfterThreeFailures(t *testing.T) {
	fc := &fakeCopier{failN: 100}
	w := New(fc, 10, nil)

	// writeBatch backs off 500ms then 1s between its first three
	// attempts (defaultBackoffMin doubling), so the bounding context
	// needs enough headroom to let all three attempts land.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	w.writeBatch(ctx, []Item{{Record: record.TrackingRecord{CompanyID: "1"}}})

	if !w.Escalated() {
		t.Fatalf("expected escalation after repeated failures under a bounded context")
	}
}
