package dispatch

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gravwell/pixelforge/internal/record"
)

type countingWriter struct {
	mu   sync.Mutex
	got  []record.TrackingRecord
	fail bool
}

func (w *countingWriter) Write(rec record.TrackingRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("pipe down")
	}
	w.got = append(w.got, rec)
	return nil
}

func (w *countingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.got)
}

func rec(pixel string) record.TrackingRecord {
	return record.TrackingRecord{
		ReceivedAt: time.Now().UTC(),
		CompanyID:  "12800",
		PixelID:    pixel,
		IPAddress:  "198.51.100.1",
	}
}

func TestEnqueueDropOldestAccounting(t *testing.T) {
	d := New(4, nil, nil, nil)

	for i := 0; i < 4; i++ {
		d.Enqueue(rec("a"))
	}
	// Queue is now full; this one must drop the oldest queued record.
	d.Enqueue(rec("overflow"))

	s := d.Stats()
	if s.Enqueued != 5 {
		t.Fatalf("expected 5 enqueued, got %d", s.Enqueued)
	}
	if s.Dropped != 1 {
		t.Fatalf("expected 1 dropped, got %d", s.Dropped)
	}
	// enqueued - written - dropped must equal the number still queued
	// (spec.md §8's testable accounting identity): nothing has been
	// drained yet, so it should equal the queue depth.
	if got, want := s.Enqueued-s.Written-s.Dropped, uint64(s.QueueDepth); got != want {
		t.Fatalf("accounting identity broken: enqueued-written-dropped=%d queueDepth=%d", got, want)
	}
}

func TestRunDeliversToWriter(t *testing.T) {
	w := &countingWriter{}
	d := New(10, w, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	for i := 0; i < 5; i++ {
		d.Enqueue(rec("a"))
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	d.Wait()

	if got := w.count(); got != 5 {
		t.Fatalf("expected 5 records delivered to writer, got %d", got)
	}
	if s := d.Stats(); s.Written != 5 {
		t.Fatalf("expected written=5, got %d", s.Written)
	}
}

func TestRunRoutesToFailoverOnWriterError(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFailoverWriter(dir)
	if err != nil {
		t.Fatalf("NewFailoverWriter: %v", err)
	}
	w := &countingWriter{fail: true}
	d := New(10, w, fw, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	d.Enqueue(rec("a"))
	d.Enqueue(rec("b"))
	time.Sleep(20 * time.Millisecond)
	cancel()
	d.Wait()
	fw.Close()

	if !d.Stats().Degraded {
		t.Fatalf("expected dispatcher to be degraded after writer failure")
	}

	var replayed []record.TrackingRecord
	if err := CatchUp(dir, func(r record.TrackingRecord) error {
		replayed = append(replayed, r)
		return nil
	}); err != nil {
		t.Fatalf("CatchUp: %v", err)
	}
	if len(replayed) != 2 {
		t.Fatalf("expected 2 replayed records, got %d", len(replayed))
	}
}

func TestCatchUpSkipsAlreadyDoneFiles(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFailoverWriter(dir)
	if err != nil {
		t.Fatalf("NewFailoverWriter: %v", err)
	}
	fw.Append(rec("a"))
	fw.Close()

	calls := 0
	if err := CatchUp(dir, func(record.TrackingRecord) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("first CatchUp: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 replay on first pass, got %d", calls)
	}

	calls = 0
	if err := CatchUp(dir, func(record.TrackingRecord) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("second CatchUp: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected 0 replays once the file is marked done, got %d", calls)
	}
}

func TestCatchUpSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/00000000000000000001.jsonl"
	data := []byte("not json\n")
	good, err := rec("a").MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	data = append(data, good...)
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var replayed []record.TrackingRecord
	if err := CatchUp(dir, func(r record.TrackingRecord) error {
		replayed = append(replayed, r)
		return nil
	}); err != nil {
		t.Fatalf("CatchUp: %v", err)
	}
	if len(replayed) != 1 {
		t.Fatalf("expected the malformed line to be skipped and the good one replayed, got %d records", len(replayed))
	}
}

func TestRotationCompactsClosedFileToGzip(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFailoverWriter(dir)
	if err != nil {
		t.Fatalf("NewFailoverWriter: %v", err)
	}
	fw.rotSize = 1 // force rotation on the very next Append
	if err := fw.Append(rec("a")); err != nil {
		t.Fatalf("Append 1: %v", err)
	}
	if err := fw.Append(rec("b")); err != nil {
		t.Fatalf("Append 2 (triggers rotation of the first file): %v", err)
	}
	fw.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var gz, plain int
	for _, e := range entries {
		switch {
		case len(e.Name()) > 3 && e.Name()[len(e.Name())-3:] == ".gz":
			gz++
		case len(e.Name()) > 6 && e.Name()[len(e.Name())-6:] == ".jsonl":
			plain++
		}
	}
	if gz != 1 {
		t.Fatalf("expected exactly 1 compacted .jsonl.gz file from the rotated-out first file, got %d", gz)
	}
	if plain != 1 {
		t.Fatalf("expected exactly 1 plain .jsonl file still open for writes, got %d", plain)
	}

	var replayed []record.TrackingRecord
	if err := CatchUp(dir, func(r record.TrackingRecord) error {
		replayed = append(replayed, r)
		return nil
	}); err != nil {
		t.Fatalf("CatchUp: %v", err)
	}
	if len(replayed) != 2 {
		t.Fatalf("expected both the gzip-compacted and plain records to replay, got %d", len(replayed))
	}
}
