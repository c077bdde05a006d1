package edge

import (
	"bytes"
	"net/http"
	"sync"
)

// capturedHeaders are the known header names captured into HeadersJson,
// per spec.md §4.D: user-agent, referer, accept-language, and a
// configurable set including client-hint headers.
var capturedHeaders = []string{
	"User-Agent",
	"Referer",
	"Accept-Language",
	"Sec-CH-UA",
	"Sec-CH-UA-Mobile",
	"Sec-CH-UA-Platform",
	"Sec-CH-UA-Platform-Version",
	"Sec-Fetch-Site",
}

// bufPool recycles the per-request JSON builder buffer. It replaces the
// teacher's thread-local string builder idiom for JSON generation
// (gravwell's logging package keeps one writer per goroutine via a
// caller-owned buffer) with a pooled *bytes.Buffer, matching spec.md §9's
// design note on replacing thread-local buffers with pooled ones.
var bufPool = sync.Pool{New: func() interface{} { return new(bytes.Buffer) }}

// HeadersJSON renders the known captured headers of r as a JSON object.
// String escaping handles '"', '\', and control characters U+0000..U+001F
// at minimum. An empty header set yields "{}".
func HeadersJSON(h http.Header) string {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	buf.WriteByte('{')
	first := true
	for _, name := range capturedHeaders {
		v := h.Get(name)
		if v == `` {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		writeJSONString(buf, name)
		buf.WriteByte(':')
		writeJSONString(buf, v)
	}
	buf.WriteByte('}')
	return buf.String()
}

func writeJSONString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u`)
				const hex = "0123456789abcdef"
				buf.WriteByte(hex[(r>>12)&0xf])
				buf.WriteByte(hex[(r>>8)&0xf])
				buf.WriteByte(hex[(r>>4)&0xf])
				buf.WriteByte(hex[r&0xf])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}
