package abortreport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/sentinel"
)

const (
	resultsTableOpen = `<table id="results-table">`
	tableClose       = "</table>"
)

var (
	reMalformedRunCount = regexp.MustCompile(`\d+/\d+ test done\.`)
	reTestsRanIn        = regexp.MustCompile(`(\d+) tests? ran in`)
	reTestsTook         = regexp.MustCompile(`(\d+) tests? took`)
	reFailedCount       = regexp.MustCompile(`(\d+) Failed`)
	reJSONBlob          = regexp.MustCompile(`data-jsonblob="([^"]*)"`)
	reReloadButton      = regexp.MustCompile(`class="summary__reload__button\s*"`)
)

// FormatDuration renders seconds as HH:MM:SS, the pytest-html format.
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

func logHTML(a *sentinel.Abort) string {
	parts := strings.Split(longrepr(a, "\n"), "\n")
	for i := range parts {
		parts[i] = html.EscapeString(parts[i])
	}
	return strings.Join(parts, "<br/>")
}

func resultsRow(nodeid string, duration string) []string {
	return []string{
		`<td class="col-result">Failed</td>`,
		`<td class="col-name">` + html.EscapeString(nodeid) + `</td>`,
		`<td class="col-duration">` + duration + `</td>`,
		`<td class="col-links"></td>`,
	}
}

// blobTest is one entry of the pytest-html data-jsonblob "tests" object.
type blobTest struct {
	TestID          string   `json:"testId"`
	ID              string   `json:"id"`
	Log             string   `json:"log"`
	Extras          []string `json:"extras"`
	ResultsTableRow []string `json:"resultsTableRow"`
	TableHTML       []string `json:"tableHtml"`
	Result          string   `json:"result"`
	Collapsed       bool     `json:"collapsed"`
}

func newBlobTest(id string, stem string, a *sentinel.Abort) blobTest {
	nodeid := NodeID(stem, a.TestName)
	return blobTest{
		TestID:          nodeid,
		ID:              id,
		Log:             longrepr(a, "\n"),
		Extras:          []string{},
		ResultsTableRow: resultsRow(nodeid, FormatDuration(a.Duration.Seconds())),
		TableHTML:       []string{},
		Result:          "failed",
		Collapsed:       false,
	}
}

func abortRow(stem string, a *sentinel.Abort) string {
	var buf bytes.Buffer
	buf.WriteString("\n                <tbody class=\"results-table-row\">\n")
	buf.WriteString("                    <tr class=\"collapsible\">\n")
	for _, td := range resultsRow(NodeID(stem, a.TestName), FormatDuration(a.Duration.Seconds())) {
		buf.WriteString("                        " + td + "\n")
	}
	buf.WriteString("                    </tr>\n")
	buf.WriteString("                    <tr class=\"extras-row\">\n")
	buf.WriteString("                        <td class=\"extra\" colspan=\"4\">\n")
	buf.WriteString("                            <div class=\"extraHTML\"></div>\n")
	buf.WriteString("                            <div class=\"logwrapper\">\n")
	buf.WriteString("                                <div class=\"logexpander\"></div>\n")
	buf.WriteString("                                <div class=\"log\">" + logHTML(a) + "</div>\n")
	buf.WriteString("                            </div>\n")
	buf.WriteString("                        </td>\n")
	buf.WriteString("                    </tr>\n")
	buf.WriteString("                </tbody>")
	return buf.String()
}

// bumpCount increments the first captured count of re and writes it back
// into every match. It returns the count before the increment.
func bumpCount(content string, re *regexp.Regexp, format string) (string, int, bool) {
	m := re.FindStringSubmatch(content)
	if m == nil {
		return content, 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return content, 0, false
	}
	return re.ReplaceAllLiteralString(content, fmt.Sprintf(format, n+1)), n, true
}

// updateSummaryCounts bumps the test and failure counters. The failed
// filter checkbox is enabled when the report had no failure before, since
// pytest-html disables the filter of every outcome with a zero count.
func updateSummaryCounts(content string) string {
	content = reMalformedRunCount.ReplaceAllLiteralString(content, "1 tests took 00:00:01.")
	content, _, _ = bumpCount(content, reTestsRanIn, "%d tests ran in")
	content, _, _ = bumpCount(content, reTestsTook, "%d tests took")

	content, prevFailed, bumped := bumpCount(content, reFailedCount, "%d Failed")
	if !bumped {
		content = strings.ReplaceAll(content, "0 Failed,", "1 Failed,")
	}
	if !bumped || prevFailed == 0 {
		content = strings.ReplaceAll(content, `data-test-result="failed" disabled`, `data-test-result="failed"`)
	}
	return content
}

// updateJSONBlob adds the abort to the data-jsonblob that the pytest-html
// javascript renders the table from.
func updateJSONBlob(content string, stem string, a *sentinel.Abort) (string, error) {
	loc := reJSONBlob.FindStringSubmatchIndex(content)
	if loc == nil {
		return content, nil
	}

	var blob map[string]json.RawMessage
	if err := json.Unmarshal([]byte(html.UnescapeString(content[loc[2]:loc[3]])), &blob); err != nil {
		return content, fmt.Errorf("invalid data-jsonblob: %w", err)
	}
	if blob == nil {
		blob = map[string]json.RawMessage{}
	}

	tests := map[string]json.RawMessage{}
	if raw, ok := blob["tests"]; ok {
		if err := json.Unmarshal(raw, &tests); err != nil {
			return content, fmt.Errorf("invalid data-jsonblob tests: %w", err)
		}
		if tests == nil {
			tests = map[string]json.RawMessage{}
		}
	}

	n := len(tests)
	id := fmt.Sprintf("test_%d", n)
	for _, exists := tests[id]; exists; _, exists = tests[id] {
		n++
		id = fmt.Sprintf("test_%d", n)
	}

	entry, err := json.Marshal(newBlobTest(id, stem, a))
	if err != nil {
		return content, err
	}
	tests[id] = entry

	if blob["tests"], err = json.Marshal(tests); err != nil {
		return content, err
	}
	updated, err := json.Marshal(blob)
	if err != nil {
		return content, err
	}
	return content[:loc[2]] + html.EscapeString(string(updated)) + content[loc[3]:], nil
}

// AppendHTML splices the abort into the pytest-html report at path.
// A missing report, or one without a results table, is replaced by a fresh
// abort-only report.
func AppendHTML(path string, stem string, a *sentinel.Abort) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read html report for %s: %w", stem, err)
		}
		return writeNewHTML(path, stem, a)
	}
	content := string(b)

	start := strings.Index(content, resultsTableOpen)
	if start < 0 {
		log.Logger.Warnw("results table not found in html report, creating new one", "file", path)
		return writeNewHTML(path, stem, a)
	}
	end := strings.Index(content[start:], tableClose)
	if end < 0 {
		log.Logger.Warnw("results table closing tag not found in html report, creating new one", "file", path)
		return writeNewHTML(path, stem, a)
	}
	end += start

	content = content[:end] + abortRow(stem, a) + "\n    " + content[end:]
	content = updateSummaryCounts(content)
	if content, err = updateJSONBlob(content, stem, a); err != nil {
		log.Logger.Warnw("could not update json data in html report", "file", path, "error", err)
	}
	content = reReloadButton.ReplaceAllLiteralString(content, `class="summary__reload__button hidden"`)

	if err := writeFileAtomic(path, []byte(content)); err != nil {
		return fmt.Errorf("failed to write html report for %s: %w", stem, err)
	}
	log.Logger.Infow("appended abort test to existing html report", "file", path)
	return nil
}

var newReportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8"/>
    <title id="head-title">{{.Title}}</title>
    <link href="assets/style.css" rel="stylesheet" type="text/css"/>
  </head>
  <body onLoad="init()">
    <h1 id="title">{{.Title}}</h1>
    <p>Report generated on {{.Generated}} by
       <a href="https://pypi.python.org/pypi/pytest-html">pytest-html</a> v4.1.1</p>
    <div id="environment-header">
      <h2>Environment</h2>
    </div>
    <table id="environment"></table>
    <div class="summary">
      <div class="summary__data">
        <h2>Summary</h2>
        <div class="additional-summary prefix">
        </div>
        <p class="run-count">1 tests took {{.Duration}}.</p>
        <p class="filter">(Un)check the boxes to filter the results.</p>
        <div class="summary__reload">
          <div class="summary__reload__button hidden" onclick="location.reload()">
            <div>There are still tests running. <br />Reload this page to get the latest results!</div>
          </div>
        </div>
        <div class="summary__spacer"></div>
        <div class="controls">
          <div class="filters">
            <input checked="true" class="filter" name="filter_checkbox" type="checkbox" data-test-result="failed" />
            <span class="failed">1 Failed,</span>
            <input checked="true" class="filter" name="filter_checkbox" type="checkbox" data-test-result="passed" disabled/>
            <span class="passed">0 Passed,</span>
            <input checked="true" class="filter" name="filter_checkbox" type="checkbox" data-test-result="skipped" disabled/>
            <span class="skipped">0 Skipped,</span>
            <input checked="true" class="filter" name="filter_checkbox" type="checkbox" data-test-result="xfailed" disabled/>
            <span class="xfailed">0 Expected failures,</span>
            <input checked="true" class="filter" name="filter_checkbox" type="checkbox" data-test-result="xpassed" disabled/>
            <span class="xpassed">0 Unexpected passes,</span>
            <input checked="true" class="filter" name="filter_checkbox" type="checkbox" data-test-result="error" disabled/>
            <span class="error">0 Errors,</span>
            <input checked="true" class="filter" name="filter_checkbox" type="checkbox" data-test-result="rerun" disabled/>
            <span class="rerun">0 Reruns</span>
          </div>
          <div class="collapse">
            <button id="show_all_details">Show all details</button>&nbsp;/&nbsp;<button id="hide_all_details">Hide all details</button>
          </div>
        </div>
      </div>
      <div class="additional-summary summary">
      </div>
      <div class="additional-summary postfix">
      </div>
    </div>
    <table id="results-table">
      <thead id="results-table-head">
        <tr>
          <th class="sortable result initial-sort" data-column-type="result">Result</th>
          <th class="sortable" data-column-type="name">Test</th>
          <th class="sortable" data-column-type="duration">Duration</th>
          <th class="sortable links" data-column-type="links">Links</th>
        </tr>
      </thead>
      <tbody class="results-table-row">
        <tr class="collapsible">
          <td class="col-result">Failed</td>
          <td class="col-name">{{.NodeID}}</td>
          <td class="col-duration">{{.Duration}}</td>
          <td class="col-links"></td>
        </tr>
        <tr class="extras-row">
          <td class="extra" colspan="4">
            <div class="extraHTML"></div>
            <div class="logwrapper">
              <div class="logexpander"></div>
              <div class="log">{{.Log}}</div>
            </div>
          </td>
        </tr>
      </tbody>
    </table>
    <div id="data-container" data-jsonblob="{{.JSONBlob}}"></div>
    <script>
      function init() {
      }
    </script>
  </body>
</html>
`))

// NewHTML renders an abort-only pytest-html report.
func NewHTML(stem string, a *sentinel.Abort) ([]byte, error) {
	title := stem + "_log.html"
	blob, err := json.Marshal(map[string]any{
		"environment": map[string]any{
			"Python":   "3.x",
			"Platform": "Linux",
		},
		"tests": map[string]blobTest{
			"test_0": newBlobTest("test_0", stem, a),
		},
		"renderCollapsed": []string{"passed"},
		"initialSort":     "result",
		"title":           title,
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = newReportTemplate.Execute(&buf, struct {
		Title     string
		Generated string
		Duration  string
		NodeID    string
		Log       template.HTML
		JSONBlob  string
	}{
		Title:     title,
		Generated: a.AbortTime.Format("02-Jan-2006 at 15:04:05"),
		Duration:  FormatDuration(a.Duration.Seconds()),
		NodeID:    NodeID(stem, a.TestName),
		Log:       template.HTML(logHTML(a)),
		JSONBlob:  string(blob),
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeNewHTML(path string, stem string, a *sentinel.Abort) error {
	b, err := NewHTML(stem, a)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, b); err != nil {
		return fmt.Errorf("failed to write new html report for %s: %w", stem, err)
	}
	log.Logger.Infow("created new html report with abort test", "file", path)
	return nil
}

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
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
