// Package sentinel reads the "last running test" marker that the pytest
// plugin in the test tree writes when a test starts and removes when it
// finishes. A marker left behind after pytest exits means the test crashed
// the interpreter (segfault, abort, OOM kill).
package sentinel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var ErrNotFound = errors.New("sentinel file not found")

const (
	StatusRunning = "running"

	unknownTest  = "unknown_test"
	unknownClass = "UnknownClass"
	unknownGPU   = "unknown"

	// DefaultReason is the abort reason written into the reports.
	DefaultReason = "Test aborted or crashed."
)

// FileName returns the sentinel file name for a module stem.
func FileName(stem string) string {
	return stem + "_last_running.json"
}

// GPUID is the gpu_id field, which the plugin writes either as a
// string ("3") or as a number (3).
type GPUID string

func (g *GPUID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*g = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*g = GPUID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid gpu_id %s: %w", string(data), err)
	}
	*g = GPUID(n.String())
	return nil
}

func (g GPUID) String() string {
	if g == "" {
		return unknownGPU
	}
	return string(g)
}

// Record is the content of a sentinel file.
type Record struct {
	NodeID    string `json:"nodeid,omitempty"`
	TestName  string `json:"test_name,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	GPUID     GPUID  `json:"gpu_id,omitempty"`
	// Status is optional; plugins that keep the file after a clean finish
	// set it to something other than "running".
	Status string `json:"status,omitempty"`
}

// Read parses the sentinel at path.
// Returns ErrNotFound if the file does not exist.
func Read(path string) (*Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse sentinel %s: %w", path, err)
	}
	return &rec, nil
}

// Remove deletes the sentinel, ignoring a missing file.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Running reports whether the record describes a test that never finished.
func (r *Record) Running() bool {
	return r.Status == "" || r.Status == StatusRunning
}

// Identifier is the nodeid when present, else the test name.
func (r *Record) Identifier() string {
	if r.NodeID != "" {
		return r.NodeID
	}
	if r.TestName != "" {
		return r.TestName
	}
	return unknownTest
}

// Started parses start_time, which the plugin writes with Python's
// datetime.isoformat() (local time, usually without a zone).
func (r *Record) Started() (time.Time, error) {
	return ParseTime(r.StartTime)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

// ParseTime parses an isoformat timestamp; zoneless values are local time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatTime renders t the way Python's datetime.isoformat() does for a
// naive local timestamp.
func FormatTime(t time.Time) string {
	return t.Local().Format("2006-01-02T15:04:05.000000")
}

// Abort describes a test that crashed the interpreter.
type Abort struct {
	// TestName is the sentinel identifier, usually a full nodeid.
	TestName  string
	TestClass string
	Reason    string
	AbortTime time.Time
	// Duration is how long the test ran before the crash was noticed.
	Duration time.Duration
	GPUID    string
}

// AbortFromRecord builds the abort entry for rec as observed at now.
// An unparsable start_time yields a zero duration.
func AbortFromRecord(rec *Record, now time.Time) *Abort {
	id := rec.Identifier()

	class := unknownClass
	if parts := strings.Split(id, "::"); len(parts) >= 2 {
		class = parts[1]
	}

	var dur time.Duration
	if started, err := rec.Started(); err == nil {
		dur = now.Sub(started)
		if dur < 0 {
			dur = 0
		}
	}

	return &Abort{
		TestName:  id,
		TestClass: class,
		Reason:    DefaultReason,
		AbortTime: now,
		Duration:  dur,
		GPUID:     rec.GPUID.String(),
	}
}
