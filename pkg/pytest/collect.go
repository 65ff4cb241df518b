package pytest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ParseCollectLog reads a --report-log JSONL file produced by
// "pytest --collect-only" and returns the absolute paths of the
// collected test modules, sorted and deduplicated.
// Module paths in nodeids are relative to jaxDir.
func ParseCollectLog(r io.Reader, jaxDir string) ([]string, error) {
	absRoot, err := filepath.Abs(jaxDir)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	// collect reports for large modules exceed the default 64KiB token
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry struct {
			NodeID *string `json:"nodeid"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("invalid report-log line %d: %w", lineNo, err)
		}
		if entry.NodeID == nil {
			continue
		}

		module, _, _ := strings.Cut(*entry.NodeID, "::")
		if module == "" || !strings.Contains(module, ".py") {
			continue
		}
		seen[filepath.Join(absRoot, module)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	modules := make([]string, 0, len(seen))
	for m := range seen {
		modules = append(modules, m)
	}
	sort.Strings(modules)
	return modules, nil
}

// ParseCollectLogFile is ParseCollectLog on a file path.
func ParseCollectLogFile(path string, jaxDir string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCollectLog(f, jaxDir)
}

// SplitNodeID splits "file::Class::test" into its parts.
// "file::test" yields an empty class, a bare file yields empty class and test.
func SplitNodeID(nodeid string) (file string, class string, test string) {
	parts := strings.SplitN(nodeid, "::", 3)
	switch len(parts) {
	case 1:
		return parts[0], "", ""
	case 2:
		return parts[0], "", parts[1]
	default:
		return parts[0], parts[1], parts[2]
	}
}

// ModuleStem returns the file name of a module path without its extension,
// e.g. "/src/jax/tests/api_test.py" -> "api_test".
func ModuleStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
