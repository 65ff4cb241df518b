// Package skipreason buckets pytest skip reasons into report categories.
package skipreason

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"
)

const (
	DefaultLabel = "Skipped Upstream"
	MosaicLabel  = "Mosaic"

	// TextLimit caps reasons and crash messages kept in summaries.
	TextLimit = 250

	maxCacheEntries = 4096
)

type rule struct {
	contains string
	any      []string
	all      []string
	regex    *regexp.Regexp
	label    string
}

func (r rule) match(s string) bool {
	switch {
	case r.contains != "":
		return strings.Contains(s, r.contains)
	case len(r.any) > 0:
		for _, k := range r.any {
			if strings.Contains(s, k) {
				return true
			}
		}
		return false
	case len(r.all) > 0:
		for _, k := range r.all {
			if !strings.Contains(s, k) {
				return false
			}
		}
		return true
	case r.regex != nil:
		return r.regex.MatchString(s)
	}
	return false
}

// rules are evaluated in order, more specific before generic.
var rules = []rule{
	{contains: "tpu", label: "TPU-Only"},
	{contains: "mosaic", label: MosaicLabel},

	{any: []string{"skip on rocm", "skip for rocm"}, label: "Not Supported on ROCm"},
	{all: []string{"not supported on", "rocm"}, label: "Not Supported on ROCm"},
	{contains: "is not available for rocm", label: "Not Supported on ROCm"},

	// before the generic "support" rule
	{all: []string{">=", "devices"}, label: "Multiple Devices Required"},
	{all: []string{"test", "requires", "device"}, label: "Multiple Devices Required"},

	{any: []string{"cuda", "sm90", "sm100a", "sm80", "cudnn", "nvidia", "cupy", "capability"}, label: "NVIDIA-Specific"},
	{contains: "at least", label: "NVIDIA-Specific"},

	{any: []string{"metal", "apple"}, label: "Apple-Specific"},

	{contains: "test enabled only for cpu", label: "CPU-Only"},
	{contains: "jax implements eig only on cpu", label: "CPU-Only"},
	{contains: "schur decomposition is only implemented on cpu", label: "CPU-Only"},
	{contains: "backend is not cpu", label: "CPU-Only"},
	{contains: "only for cpu", label: "CPU-Only"},

	{contains: "x64", label: "Device Inapplicability"},
	{contains: "x32", label: "Device Inapplicability"},
	{contains: "memories do not work on cpu and gpu backends yet", label: "Device Inapplicability"},

	{contains: "magma is not installed", label: "Missing Module/API/Plugin"},
	{contains: "no module named", label: "Missing Module/API/Plugin"},
	{contains: "requires pytorch", label: "Missing Module/API/Plugin"},
	{contains: "requires tensorflow", label: "Missing Module/API/Plugin"},
	{regex: regexp.MustCompile(`(?i)tests?\s+require?\s+(.+?)\s+plugin`), label: "Missing Module/API/Plugin"},

	{contains: "memory size limit exceeded", label: "Memory Limit Exceeded"},

	{contains: "too slow", label: "Too Slow (Skipped Upstream)"},
	{contains: "skipping big tests under sanitizers due to slowdown", label: "Too Slow (Skipped Upstream)"},

	{any: []string{"unmaintained", "not maintained"}, label: "Currently Unmaintained (Skipped Upstream)"},

	{contains: "dimension", label: DefaultLabel},
	{contains: "not supported in interpret mode", label: DefaultLabel},
	{contains: "not implemented", label: DefaultLabel},
	{contains: "not relevant", label: DefaultLabel},
	{contains: "support", label: DefaultLabel},
}

// Normalize collapses whitespace and lowercases the reason.
func Normalize(reason string) string {
	return strings.ToLower(strings.Join(strings.Fields(reason), " "))
}

var (
	cacheMu sync.Mutex
	cache   = make(map[string]string)
)

// CategorizeReason maps a skip reason to its category label.
// The first matching rule wins; empty and unknown reasons get DefaultLabel.
func CategorizeReason(reason string) string {
	if reason == "" {
		return DefaultLabel
	}

	cacheMu.Lock()
	label, ok := cache[reason]
	cacheMu.Unlock()
	if ok {
		return label
	}

	label = categorize(Normalize(reason))

	cacheMu.Lock()
	if len(cache) >= maxCacheEntries {
		cache = make(map[string]string)
	}
	cache[reason] = label
	cacheMu.Unlock()

	return label
}

func categorize(s string) string {
	for _, r := range rules {
		if r.match(s) {
			return r.label
		}
	}
	return DefaultLabel
}

// Categorize labels a skipped test. Mosaic tests are recognised by their
// file or test name before the reason is looked at.
func Categorize(file string, test string, reason string) string {
	f := strings.ToLower(file)
	if strings.Contains(f, "mosaic") || strings.Contains(f, "mgpu") || strings.Contains(strings.ToLower(test), "mosaic") {
		return MosaicLabel
	}
	return CategorizeReason(reason)
}

// ExtractSkipReason parses the tuple-string pytest writes for skips,
// e.g. "('/path/test_x.py', 42, 'Skipped: some reason')" -> "Skipped: some reason".
// Anything else is returned as is.
func ExtractSkipReason(reason string) string {
	if len(reason) < 2 {
		return reason
	}
	parts := strings.SplitN(reason[1:len(reason)-1], ",", 3)
	if len(parts) != 3 {
		return reason
	}
	msg := strings.TrimSpace(parts[2])
	if len(msg) >= 2 && (msg[0] == '\'' || msg[0] == '"') && msg[len(msg)-1] == msg[0] {
		msg = msg[1 : len(msg)-1]
	}
	return msg
}

// FromLongrepr returns the skip reason held in a stage longrepr, which is
// either the tuple-string form or a json list ["path", line, "reason"].
// The result is truncated to TextLimit.
func FromLongrepr(longrepr string) string {
	s := strings.TrimSpace(longrepr)
	switch {
	case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
		s = ExtractSkipReason(s)
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		var parts []any
		if err := json.Unmarshal([]byte(s), &parts); err == nil && len(parts) == 3 {
			if msg, ok := parts[2].(string); ok {
				s = msg
			}
		}
	}
	return Truncate(s)
}

// Truncate cuts s to TextLimit runes.
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= TextLimit {
		return s
	}
	return string(r[:TextLimit])
}

// NormalizeMessage collapses whitespace in a crash message and truncates it.
func NormalizeMessage(msg string) string {
	return Truncate(strings.Join(strings.Fields(msg), " "))
}
