// Package pytest models the pytest-json-report output and builds
// pytest command lines.
package pytest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	OutcomePassed  = "passed"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
	OutcomeXFailed = "xfailed"
	OutcomeXPassed = "xpassed"
)

// Summary counts, keyed the way pytest-json-report writes them
// ("passed", "failed", "total", "collected", "unskipped_total", ...).
// Only the keys present in the source report are kept.
type Summary map[string]int

func (s Summary) Get(key string) int {
	return s[key]
}

func (s Summary) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Add adds n to key, creating it when missing.
func (s Summary) Add(key string, n int) {
	s[key] += n
}

// AddExisting adds n to key only if the key is already present.
func (s Summary) AddExisting(key string, n int) {
	if _, ok := s[key]; ok {
		s[key] += n
	}
}

// Report is one pytest-json-report file.
// Fields not modelled here are preserved in Extra.
type Report struct {
	Created     float64           `json:"created"`
	Duration    float64           `json:"duration"`
	ExitCode    int               `json:"exitcode"`
	Root        string            `json:"root"`
	Environment json.RawMessage   `json:"environment,omitempty"`
	Summary     Summary           `json:"summary"`
	Collectors  []json.RawMessage `json:"collectors,omitempty"`
	Tests       []Test            `json:"tests"`

	Extra map[string]json.RawMessage `json:"-"`
}

var reportKeys = []string{"created", "duration", "exitcode", "root", "environment", "summary", "collectors", "tests"}

func (r *Report) UnmarshalJSON(data []byte) error {
	type plain Report
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraFields(data, reportKeys)
	if err != nil {
		return err
	}
	*r = Report(p)
	r.Extra = extra
	return nil
}

func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	if r.Summary == nil {
		r.Summary = Summary{}
	}
	if r.Tests == nil {
		r.Tests = []Test{}
	}
	return marshalWithExtra(plain(r), r.Extra)
}

// Stage is one of the setup/call/teardown phases of a test.
type Stage struct {
	Duration float64 `json:"duration"`
	Outcome  string  `json:"outcome"`
	Longrepr string  `json:"longrepr,omitempty"`
	Crash    *Crash  `json:"crash,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var stageKeys = []string{"duration", "outcome", "longrepr", "crash"}

func (s *Stage) UnmarshalJSON(data []byte) error {
	type plain Stage
	// longrepr is usually a string but older plugins emit a list
	var p struct {
		plain
		Longrepr json.RawMessage `json:"longrepr"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraFields(data, stageKeys)
	if err != nil {
		return err
	}
	*s = Stage(p.plain)
	s.Longrepr = longreprString(p.Longrepr)
	s.Extra = extra
	return nil
}

func (s Stage) MarshalJSON() ([]byte, error) {
	type plain Stage
	return marshalWithExtra(plain(s), s.Extra)
}

func longreprString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

type Crash struct {
	Path    string `json:"path,omitempty"`
	LineNo  int    `json:"lineno,omitempty"`
	Message string `json:"message,omitempty"`
}

// Test is one entry of the report "tests" array.
type Test struct {
	NodeID   string   `json:"nodeid"`
	LineNo   int      `json:"lineno"`
	Outcome  string   `json:"outcome"`
	Keywords []string `json:"keywords,omitempty"`
	Setup    *Stage   `json:"setup,omitempty"`
	Call     *Stage   `json:"call,omitempty"`
	Teardown *Stage   `json:"teardown,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var testKeys = []string{"nodeid", "lineno", "outcome", "keywords", "setup", "call", "teardown"}

func (t *Test) UnmarshalJSON(data []byte) error {
	type plain Test
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraFields(data, testKeys)
	if err != nil {
		return err
	}
	*t = Test(p)
	t.Extra = extra
	return nil
}

func (t Test) MarshalJSON() ([]byte, error) {
	type plain Test
	return marshalWithExtra(plain(t), t.Extra)
}

// LongreprOrEmpty returns the call stage longrepr, if any.
func (t Test) LongreprOrEmpty() string {
	if t.Call == nil {
		return ""
	}
	return t.Call.Longrepr
}

// CallDuration returns the call stage duration, if any.
func (t Test) CallDuration() float64 {
	if t.Call == nil {
		return 0
	}
	return t.Call.Duration
}

func extraFields(data []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

func marshalWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return b, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// ErrNoTests is returned when a directory holds no pytest-json-report files.
var ErrNoTests = errors.New("no pytest reports found")

// LoadReport reads a pytest-json-report file.
func LoadReport(path string) (*Report, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("failed to parse pytest report %s: %w", path, err)
	}
	if r.Summary == nil {
		r.Summary = Summary{}
	}
	return &r, nil
}

// WriteReport writes r to path, creating the parent directory.
func WriteReport(path string, r *Report, indent int) error {
	return WriteJSONFile(path, r, indent)
}

// WriteJSONFile writes v as indented JSON through a temp file and rename,
// so a concurrent reader never sees a partial report.
func WriteJSONFile(path string, v any, indent int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", strings.Repeat(" ", indent))
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
