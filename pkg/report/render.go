package report

import (
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/rocm/jaxci/pkg/pytest"
)

var outcomeOrder = []string{
	pytest.OutcomePassed,
	pytest.OutcomeFailed,
	pytest.OutcomeError,
	pytest.OutcomeSkipped,
	pytest.OutcomeXFailed,
	pytest.OutcomeXPassed,
}

// RenderTable writes the outcome totals, the modules with failed or crashed
// tests, and the skip categories.
func (s Summary) RenderTable(wr io.Writer) {
	totals := tablewriter.NewWriter(wr)
	totals.SetAlignment(tablewriter.ALIGN_CENTER)
	totals.SetHeader([]string{"Outcome", "Tests"})
	for _, o := range outcomes(s.Totals) {
		totals.Append([]string{o, strconv.Itoa(s.Totals[o])})
	}
	totals.Render()

	failing := tablewriter.NewWriter(wr)
	failing.SetHeader([]string{"Module", "Failed", "Crashed"})
	failing.SetAutoWrapText(false)
	rows := 0
	for _, m := range s.Modules {
		if len(m.Failed) == 0 && len(m.Crashed) == 0 {
			continue
		}
		failing.Append([]string{m.Module, strings.Join(m.Failed, "\n"), strings.Join(m.Crashed, "\n")})
		rows++
	}
	if rows > 0 {
		failing.Render()
	}

	if len(s.Skips) == 0 {
		return
	}
	skips := tablewriter.NewWriter(wr)
	skips.SetHeader([]string{"Skip Category", "Tests"})
	for _, c := range s.Categories() {
		skips.Append([]string{c, strconv.Itoa(len(s.Skips[c]))})
	}
	skips.Render()
}

// outcomes lists the known outcomes first, then any others sorted.
func outcomes(totals map[string]int) []string {
	var out []string
	seen := make(map[string]bool, len(totals))
	for _, o := range outcomeOrder {
		if _, ok := totals[o]; ok {
			out = append(out, o)
			seen[o] = true
		}
	}
	var rest []string
	for o := range totals {
		if !seen[o] {
			rest = append(rest, o)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
