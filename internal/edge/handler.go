// Package edge implements Edge Capture (spec.md §4.D): the hot-path HTTP
// handler that parses a tracking pixel request into a TrackingRecord,
// runs the Fast Enrichments, serves the fixed GIF, and hands the record
// to the Dispatcher. Grounded on HttpIngester/handlers.go's ServeHTTP —
// path/method routing, a bounded body reader, and fire-and-forget handoff
// to the next stage — generalized from a POST-body ingester to a GET
// pixel tracker.
package edge

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gravwell/pixelforge/internal/enrich/fast"
	"github.com/gravwell/pixelforge/internal/logging"
	"github.com/gravwell/pixelforge/internal/record"
)

const (
	maxURLBytes   = 8192
	maxQueryBytes = record.MaxQueryStringBytes

	// defaultEnrichTimeout is the fallback overall budget for the Fast
	// Enrichments pipeline when Handler.EnrichTimeout is unset. It must
	// comfortably exceed the sum of the slowest per-enrichment budgets
	// spec.md §5 names (reverse DNS 250ms + WHOIS 2s), not cap beneath
	// them.
	defaultEnrichTimeout = 3 * time.Second
)

var pixelPath = regexp.MustCompile(`^/([^/]+)/([^/]+)_SMART\.GIF$`)
var scriptPath = regexp.MustCompile(`^/js/([^/]+)/([^/]+)\.js$`)

// Dispatcher is the handoff boundary to the Dispatcher component (Module
// E); Edge Capture never blocks the response on it.
type Dispatcher interface {
	Enqueue(record.TrackingRecord) bool
}

// Handler serves the tracking pixel and script endpoints.
type Handler struct {
	Dispatcher Dispatcher
	Pipeline   *fast.Pipeline
	Log        *logging.Logger
	TrustProxy func(net.IP) bool
	ScriptBody func(company, pixel string) []byte

	// EnrichTimeout bounds the overall Fast Enrichments run. It exists
	// only to guarantee forward progress if an enrichment misbehaves; it
	// must not be sized beneath the real per-enrichment budgets (reverse
	// DNS, WHOIS) the Pipeline itself enforces, or it silently defeats
	// them. Defaults to defaultEnrichTimeout when zero.
	EnrichTimeout time.Duration
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The URL cap binds the path; the query string has its own, larger
	// cap checked on the pixel route, so a maximum-size query is not
	// rejected by the smaller URL bound.
	if len(r.URL.Path) > maxURLBytes {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if m := scriptPath.FindStringSubmatch(r.URL.Path); m != nil {
		h.serveScript(w, r, m[1], m[2])
		return
	}

	m := pixelPathMatch(r.URL.Path)
	if m == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if len(r.URL.RawQuery) > maxQueryBytes {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	company, pixel := m[1], m[2]
	rec := record.TrackingRecord{
		ReceivedAt:  time.Now().UTC(),
		CompanyID:   company,
		PixelID:     pixel,
		IPAddress:   h.remoteIP(r).String(),
		RequestPath: r.URL.Path,
		QueryString: r.URL.RawQuery,
		HeadersJson: HeadersJSON(r.Header),
		UserAgent:   r.Header.Get("User-Agent"),
		Referer:     r.Header.Get("Referer"),
	}
	rec.TruncateUserAgent()
	rec.TruncateReferer()
	// Hit-type classification is decided on the raw query string as the
	// client sent it, before any _srv_ pair lands in it.
	rec.QueryString = record.AppendParam(rec.QueryString, record.SrvPrefix+"hitType", rec.HitType())

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(pixelGIF)))
	w.WriteHeader(http.StatusOK)
	w.Write(pixelGIF)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	h.enrichAndDispatch(rec)
}

// enrichAndDispatch runs the Fast Enrichments and hands the record off to
// the Dispatcher. It executes after the response is already written, so
// enrichment latency never touches the response path (spec.md §4.D).
func (h *Handler) enrichAndDispatch(rec record.TrackingRecord) {
	if h.Pipeline != nil {
		timeout := h.EnrichTimeout
		if timeout <= 0 {
			timeout = defaultEnrichTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		h.Pipeline.Run(ctx, &rec, fingerprintFrom(rec.QueryString, rec.UserAgent))
		cancel()
	}
	if h.Dispatcher != nil {
		if !h.Dispatcher.Enqueue(rec) && h.Log != nil {
			h.Log.Warn("dispatcher dropped a record")
		}
	}
}

func fingerprintFrom(qs, ua string) fast.Fingerprint {
	cp := record.ExtractClientParams(qs)
	return fast.Fingerprint{
		CanvasHash: cp["cv"],
		WebGLHash:  cp["wgl"],
		AudioHash:  cp["aud"],
		Fonts:      cp["fonts"],
		GPU:        cp["gpu"],
		Timezone:   cp["tz"],
		UserAgent:  ua,
	}
}

func (h *Handler) serveScript(w http.ResponseWriter, r *http.Request, company, pixel string) {
	w.Header().Set("Content-Type", "application/javascript")
	if h.ScriptBody == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Write(h.ScriptBody(company, pixel))
}

func pixelPathMatch(path string) []string {
	// Case-insensitive "_SMART.GIF" suffix; the company/pixel segments
	// themselves are not case-folded.
	idx := strings.LastIndex(strings.ToUpper(path), "_SMART.GIF")
	if idx < 0 || idx+len("_SMART.GIF") != len(path) {
		return nil
	}
	return pixelPath.FindStringSubmatch(path[:idx] + "_SMART.GIF")
}

// remoteIP resolves the client IP per spec.md §4.D: the first
// X-Forwarded-For entry when the request arrived over loopback or a
// trusted peer, else the transport peer address. Grounded on
// HttpIngester/main.go's getRemoteAddr/getRemoteIP.
func (h *Handler) remoteIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(host)

	trusted := peer != nil && peer.IsLoopback()
	if !trusted && h.TrustProxy != nil && peer != nil {
		trusted = h.TrustProxy(peer)
	}
	if trusted {
		if xff := r.Header.Get("X-Forwarded-For"); xff != `` {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if ip := net.ParseIP(first); ip != nil {
				return ip
			}
		}
	}
	if peer != nil {
		return peer
	}
	return net.ParseIP("127.0.0.1")
}
