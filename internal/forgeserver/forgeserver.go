// Package forgeserver is the Forge-side accept loop for the Edge-to-Forge
// pipe (spec.md §4.G): one listener, one goroutine per connection, a
// line-delimited JSON decode loop that logs and counts malformed lines
// but never treats them as fatal.
//
// Grounded on ingest/muxer.go's per-connection read loop shape
// (authenticate, then loop reading framed records until the connection
// drops) and ingestConnection.go's Write/WriteEntry pattern of one
// decode-and-hand-off per unit, generalized from the binary entry wire
// format to line-delimited JSON.
package forgeserver

import (
	"bufio"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gravwell/pixelforge/internal/errs"
	"github.com/gravwell/pixelforge/internal/logging"
	"github.com/gravwell/pixelforge/internal/pipetransport"
	"github.com/gravwell/pixelforge/internal/record"
)

// Handler receives one successfully decoded TrackingRecord per call. It
// is expected to be non-blocking or to apply its own backpressure; the
// Server applies none beyond the single per-connection goroutine.
type Handler func(record.TrackingRecord)

// Server accepts connections on a Unix domain socket, authenticates each
// with the shared secret, then decodes line-delimited JSON records until
// the peer disconnects.
type Server struct {
	Secret  string
	Handler Handler
	Log     *logging.Logger

	malformed uint64
	decoded   uint64

	wg sync.WaitGroup
}

// Serve accepts connections from ln until it returns an error (typically
// because ln was closed by the caller during shutdown).
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Wait blocks until every in-flight connection goroutine has exited,
// called by the owning process after it stops accepting new connections.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	if err := pipetransport.ServerHandshake(conn, s.Secret); err != nil {
		if s.Log != nil {
			s.Log.Warnf("pipe handshake rejected: %v", err)
		}
		return
	}

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), record.MaxQueryStringBytes*4)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record.TrackingRecord
		if err := rec.UnmarshalJSON(line); err != nil {
			atomic.AddUint64(&s.malformed, 1)
			if s.Log != nil {
				s.Log.Warnf("%v", errs.Wrap(errs.Parse, err))
			}
			continue
		}
		atomic.AddUint64(&s.decoded, 1)
		if s.Handler != nil {
			s.Handler(rec)
		}
	}
	if err := sc.Err(); err != nil && err != io.EOF && s.Log != nil {
		s.Log.Warnf("%v", errs.Wrap(errs.Transient, err))
	}
}

// Stats is the decode/malformed counter snapshot.
type Stats struct {
	Decoded   uint64
	Malformed uint64
}

func (s *Server) Stats() Stats {
	return Stats{
		Decoded:   atomic.LoadUint64(&s.decoded),
		Malformed: atomic.LoadUint64(&s.malformed),
	}
}
