package forge

import "strings"

// contradictionPredicate is one named, fixed rule from spec.md §4.H's
// contradiction matrix: an impossible or highly improbable combination
// of client-reported signals.
type contradictionPredicate struct {
	name string
	test func(s Signals) bool
}

var contradictionPredicates = []contradictionPredicate{
	{"WindowsSafari", func(s Signals) bool {
		return containsFold(s.OS, "windows") && containsFold(s.Browser, "safari")
	}},
	{"MacOSDirectX", func(s Signals) bool {
		return containsFold(s.OS, "mac") && containsFold(s.GPURenderer, "directx")
	}},
	{"SafariBattery", func(s Signals) bool {
		return containsFold(s.Browser, "safari") && s.Battery
	}},
	{"TouchMismatch", func(s Signals) bool {
		return s.TouchPoints > 0 && containsFold(s.Platform, "macintel") && !containsFold(s.OS, "ios")
	}},
	{"LinuxAppleFonts", func(s Signals) bool {
		return containsFold(s.OS, "linux") && (hasFont(s.Fonts, "SF Pro") || hasFont(s.Fonts, "San Francisco"))
	}},
	{"AppleGPUNonMac", func(s Signals) bool {
		return containsFold(s.GPURenderer, "apple") && !containsFold(s.OS, "mac") && !containsFold(s.OS, "ios")
	}},
	{"MobileHighRes", func(s Signals) bool {
		return containsFold(s.Platform, "mobile") && s.ScreenWidth*s.ScreenHeight > 3840*2160
	}},
	{"DesktopTinyScreen", func(s Signals) bool {
		return !containsFold(s.Platform, "mobile") && s.ScreenWidth > 0 && s.ScreenWidth < 320
	}},
	{"HighCoresVirtualGPU", func(s Signals) bool {
		return s.CoresLogical >= 16 && (containsFold(s.GPURenderer, "swiftshader") || containsFold(s.GPURenderer, "llvmpipe"))
	}},
	{"WebDriverEntropy", func(s Signals) bool {
		return s.WebDriver && mouseEntropy(s.MousePath) > 2
	}},
	{"PhoneWideScreen", func(s Signals) bool {
		return containsFold(s.Platform, "iphone") && s.ScreenWidth > s.ScreenHeight && s.ScreenWidth > 1000
	}},
	{"LowMemHighCores", func(s Signals) bool {
		return s.MemoryGB > 0 && s.MemoryGB < 2 && s.CoresLogical >= 16
	}},
	{"MobileTouchHover", func(s Signals) bool {
		return containsFold(s.Platform, "mobile") && s.TouchPoints == 0
	}},
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func hasFont(fonts []string, name string) bool {
	for _, f := range fonts {
		if strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}

// Contradictions evaluates every predicate against s and returns the
// triggered flag names plus their count. An all-null Signals value
// triggers none.
func Contradictions(s Signals) (flags []string, count int) {
	for _, p := range contradictionPredicates {
		if p.test(s) {
			flags = append(flags, p.name)
		}
	}
	return flags, len(flags)
}
