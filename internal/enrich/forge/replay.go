package forge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

const (
	replayQuantPixels = 10
	replayQuantMillis = 100
	replayMinPoints   = 3
)

type replayEntry struct {
	firstFingerprint string
	count            int
}

// ReplayIndex maps a quantized mouse-path digest to the fingerprint that
// first presented it; a different fingerprint presenting the same digest
// is a behavioral replay.
type ReplayIndex struct {
	mu      sync.Mutex
	entries map[string]*replayEntry
}

func NewReplayIndex() *ReplayIndex {
	return &ReplayIndex{entries: make(map[string]*replayEntry)}
}

// Observe quantizes path, looks up its digest, and reports whether this
// fingerprint is replaying another fingerprint's path.
func (r *ReplayIndex) Observe(fingerprint, path string) (detected bool, matchFingerprint string, count int) {
	pts := parseMousePath(path)
	if len(pts) < replayMinPoints {
		return false, "", 0
	}
	digest := quantizedDigest(pts)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[digest]
	if !ok {
		r.entries[digest] = &replayEntry{firstFingerprint: fingerprint}
		return false, "", 0
	}
	if e.firstFingerprint == fingerprint {
		return false, "", e.count
	}
	e.count++
	return true, e.firstFingerprint, e.count
}

func quantizedDigest(pts []mousePoint) string {
	h := sha256.New()
	for _, p := range pts {
		qx := p.x / replayQuantPixels
		qy := p.y / replayQuantPixels
		qt := p.t / replayQuantMillis
		fmt.Fprintf(h, "%d,%d,%d|", qx, qy, qt)
	}
	return hex.EncodeToString(h.Sum(nil))
}
