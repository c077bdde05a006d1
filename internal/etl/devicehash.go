package etl

import (
	"crypto/sha256"
	"encoding/hex"
)

// DeviceHash computes the 32-byte digest over the canonical join of the
// five fingerprint components named in spec.md §3's DeviceDimension
// entry. It returns ok=false when every component is absent, matching
// the invariant that device hash is null for hits with no fingerprint
// material at all.
func DeviceHash(canvas, fonts, gpu, webgl, audio string) (hash string, ok bool) {
	if canvas == "" && fonts == "" && gpu == "" && webgl == "" && audio == "" {
		return "", false
	}
	h := sha256.New()
	h.Write([]byte(canvas))
	h.Write([]byte{'|'})
	h.Write([]byte(fonts))
	h.Write([]byte{'|'})
	h.Write([]byte(gpu))
	h.Write([]byte{'|'})
	h.Write([]byte(webgl))
	h.Write([]byte{'|'})
	h.Write([]byte(audio))
	return hex.EncodeToString(h.Sum(nil)), true
}
