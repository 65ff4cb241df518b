package pytest

import (
	"strconv"
)

// Command is a pytest invocation that writes a json and an html report.
type Command struct {
	Python     string
	JSONReport string
	HTMLReport string
	Reruns     int
	// FailFast adds -x, stopping the module at its first failure.
	FailFast bool
	// Target is a module path or a directory.
	Target   string
	Deselect []string
}

// Args renders the argv, e.g.
// python3 -m pytest --json-report --json-report-file=X --html=Y --reruns 3 -x -v tests/api_test.py --deselect=...
func (c Command) Args() []string {
	python := c.Python
	if python == "" {
		python = "python3"
	}
	args := []string{
		python, "-m", "pytest",
		"--json-report",
		"--json-report-file=" + c.JSONReport,
		"--html=" + c.HTMLReport,
		"--reruns", strconv.Itoa(c.Reruns),
	}
	if c.FailFast {
		args = append(args, "-x")
	}
	args = append(args, "-v", c.Target)
	for _, id := range c.Deselect {
		args = append(args, "--deselect="+id)
	}
	return args
}

// CollectArgs renders the collect-only invocation whose report log
// lists every test module under testsDir.
func CollectArgs(python string, testsDir string, reportLog string) []string {
	if python == "" {
		python = "python3"
	}
	return []string{
		python, "-m", "pytest",
		"--import-mode=prepend",
		"--collect-only",
		testsDir,
		"--report-log=" + reportLog,
	}
}
