// Package dcset holds the datacenter CIDR set used by Fast Enrichment 4
// (datacenter classification). It is grounded directly on the teacher's
// own ingest/processors/srcrouter.go, which solves the identical "classify
// an IP against a loaded CIDR set" problem — there, routing log entries by
// source IP — with the teacher's own github.com/asergeyev/nradix radix
// tree (srcrouter.go's NewTree/AddCIDR/FindCIDR) rather than a linear scan.
package dcset

import (
	"bufio"
	"io"
	"net/netip"
	"strings"
	"sync"

	"github.com/asergeyev/nradix"
)

// Set is a named CIDR membership table backed by an nradix.Tree. Lookups
// take a read lock; refreshes build a new tree and swap it in under the
// write lock, so no reader ever observes a half-built set.
type Set struct {
	mu    sync.RWMutex
	tree  *nradix.Tree
	count int
}

// New returns an empty set; Contains returns ("", false) until Load is
// called.
func New() *Set {
	return &Set{tree: nradix.NewTree(32)}
}

// Load replaces the set's contents with the CIDR/provider pairs read from
// r, one `cidr,provider` pair per line (blank lines and lines starting
// with `#` are skipped). Load is atomic: a concurrent Contains call sees
// either the old or the new tree, never a partial one.
func (s *Set) Load(r io.Reader) error {
	fresh := nradix.NewTree(32)
	n := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == `` || strings.HasPrefix(line, "#") {
			continue
		}
		cidr, provider, ok := strings.Cut(line, ",")
		if !ok {
			provider = "unknown"
			cidr = line
		}
		cidr = strings.TrimSpace(cidr)
		provider = strings.TrimSpace(provider)
		if err := fresh.AddCIDR(cidr, provider); err != nil {
			continue // malformed feed line, skip rather than fail the whole refresh
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.tree = fresh
	s.count = n
	s.mu.Unlock()
	return nil
}

// Contains reports whether addr falls within a loaded datacenter CIDR,
// and if so which provider published it.
func (s *Set) Contains(addr netip.Addr) (provider string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addr = addr.Unmap()
	v, err := s.tree.FindCIDR(addr.String())
	if err != nil || v == nil {
		return "", false
	}
	provider, ok = v.(string)
	return provider, ok
}

// Len reports the number of loaded CIDR entries.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
