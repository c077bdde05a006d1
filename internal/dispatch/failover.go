package dispatch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dchest/safefile"
	"github.com/gofrs/flock"
	"github.com/klauspost/compress/gzip"

	"github.com/gravwell/pixelforge/internal/record"
)

const (
	defaultRotateSize  = 64 * 1024 * 1024
	defaultRotateAfter = 10 * time.Minute
)

// FailoverWriter is the single owner of the durable append-only JSONL
// directory described by spec.md §6: one TrackingRecord per line, files
// time-sortable by name, rotated by size or time, with a `.done` sidecar
// marker once every line in a file has been acknowledged downstream.
type FailoverWriter struct {
	dir string

	mu       sync.Mutex
	cur      *os.File
	curPath  string
	curSize  int64
	openedAt time.Time
	rotSize  int64
	rotAfter time.Duration
}

// NewFailoverWriter opens (creating if necessary) the failover directory
// at dir.
func NewFailoverWriter(dir string) (*FailoverWriter, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	return &FailoverWriter{dir: dir, rotSize: defaultRotateSize, rotAfter: defaultRotateAfter}, nil
}

// Append writes one JSON line for rec, rotating the active file first if
// it has grown past the size or time threshold.
func (f *FailoverWriter) Append(rec record.TrackingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cur != nil && (f.curSize > f.rotSize || time.Since(f.openedAt) > f.rotAfter) {
		if err := f.rotateLocked(); err != nil {
			return err
		}
	}
	if f.cur == nil {
		if err := f.openNewLocked(); err != nil {
			return err
		}
	}
	b, err := rec.MarshalJSON()
	if err != nil {
		return err
	}
	b = append(b, '\n')
	n, err := f.cur.Write(b)
	if err != nil {
		return err
	}
	f.curSize += int64(n)
	return nil
}

func (f *FailoverWriter) openNewLocked() error {
	name := fmt.Sprintf("%020d.jsonl", time.Now().UnixNano())
	path := filepath.Join(f.dir, name)
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return err
	}
	f.cur = fh
	f.curPath = path
	f.curSize = 0
	f.openedAt = time.Now()
	return nil
}

func (f *FailoverWriter) rotateLocked() error {
	if f.cur == nil {
		return nil
	}
	if err := f.cur.Close(); err != nil {
		return err
	}
	path := f.curPath
	f.cur = nil
	f.curPath = ""
	return compactFile(path)
}

// compactFile gzips a just-closed, no-longer-written-to failover file and
// removes the plain copy, so a backlog of rotated files under heavy
// failover use doesn't grow unbounded on disk. CatchUp transparently reads
// either form.
func compactFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dstPath := path + ".gz"
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if err := gw.Close(); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return err
	}
	return os.Remove(path)
}

// Close flushes and closes the active file without marking it done; a
// later catch-up pass will still find and replay it.
func (f *FailoverWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cur == nil {
		return nil
	}
	err := f.cur.Close()
	f.cur = nil
	return err
}

// CatchUp replays every undone `.jsonl` file in dir, in name (therefore
// time) order, invoking deliver for each decoded record. A file is marked
// done — via an atomically-renamed sidecar, using safefile the way the
// teacher's config writers use it for crash-safe rewrites — only after
// every one of its lines has been acknowledged by deliver. Replay takes
// an exclusive flock for the duration, so a concurrent Append into a
// brand new file is unaffected but two catch-up passes cannot race.
func CatchUp(dir string, deliver func(record.TrackingRecord) error) error {
	lockPath := filepath.Join(dir, ".catchup.lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		return nil // another catch-up pass owns replay right now
	}
	defer fl.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".jsonl") && !strings.HasSuffix(e.Name(), ".jsonl.gz") {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, e.Name()+".done")); err == nil {
			continue // already fully replayed
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	for _, name := range files {
		path := filepath.Join(dir, name)
		if err := replayFile(path, deliver); err != nil {
			return fmt.Errorf("replay %s: %w", name, err)
		}
		if err := markDone(path); err != nil {
			return err
		}
		// The data file goes only after the marker is durably in place,
		// so a crash between the two replays at worst a no-op file.
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, deliver func(record.TrackingRecord) error) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	var r io.Reader = fh
	if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(fh)
		if err != nil {
			return err
		}
		defer gr.Close()
		r = gr
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), record.MaxQueryStringBytes*4)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record.TrackingRecord
		if err := rec.UnmarshalJSON(line); err != nil {
			continue // a corrupt line must not block the rest of the file
		}
		if err := deliver(rec); err != nil {
			return err
		}
	}
	return sc.Err()
}

func markDone(path string) error {
	w, err := safefile.Create(path+".done", 0640)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(strconv.FormatInt(time.Now().Unix(), 10))); err != nil {
		w.Close()
		return err
	}
	return w.Commit()
}
