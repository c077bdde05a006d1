package fast

import (
	"strings"

	"github.com/mssola/useragent"

	"github.com/gravwell/pixelforge/internal/record"
)

// runUAParse is enrichment 9: structured user-agent parse via
// mssola/useragent, the pack's standard UA parsing library.
func (p *Pipeline) runUAParse(rec *record.TrackingRecord, fp Fingerprint) {
	ua := strings.TrimSpace(fp.UserAgent)
	if ua == `` {
		p.Stats.skip(9)
		return
	}
	ua2 := useragent.New(ua)
	browser, browserVer := ua2.Browser()
	osInfo := ua2.OSInfo()

	appendParam(rec, "_srv_browser", browser)
	appendParam(rec, "_srv_browserVer", browserVer)
	appendParam(rec, "_srv_os", osInfo.Name)
	appendParam(rec, "_srv_osVer", osInfo.Version)

	deviceType := "desktop"
	if ua2.Mobile() {
		deviceType = "mobile"
	}
	appendParam(rec, "_srv_deviceType", deviceType)
	appendParam(rec, "_srv_deviceModel", deviceModel(ua))
	appendParam(rec, "_srv_deviceBrand", deviceBrand(ua))
}

// deviceModel/deviceBrand pull a best-effort vendor hint out of the raw
// UA string; mssola/useragent does not itself model brand/model, only
// platform/browser/OS, so this stays a thin heuristic layered on top.
func deviceModel(ua string) string {
	switch {
	case strings.Contains(ua, "iPhone"):
		return "iPhone"
	case strings.Contains(ua, "iPad"):
		return "iPad"
	case strings.Contains(ua, "Pixel"):
		return "Pixel"
	}
	return ``
}

func deviceBrand(ua string) string {
	switch {
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"), strings.Contains(ua, "Macintosh"):
		return "Apple"
	case strings.Contains(ua, "Pixel"):
		return "Google"
	case strings.Contains(ua, "SM-"):
		return "Samsung"
	}
	return ``
}
