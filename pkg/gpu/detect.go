package gpu

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rocm/jaxci/pkg/process"
)

var ErrNoGPUs = errors.New("no AMD GPUs detected")

const rocmSMICommand = "rocm-smi"

// DetectAMDGPUs runs rocm-smi and counts the listed devices.
func DetectAMDGPUs(ctx context.Context, runner process.Runner) (int, error) {
	res, err := runner.Run(ctx, process.Spec{
		Args:    []string{rocmSMICommand},
		Timeout: time.Minute,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to run %s: %w", rocmSMICommand, err)
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("%s exited with code %d: %s", rocmSMICommand, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	n := ParseROCmSMI(res.Stdout)
	if n == 0 {
		return 0, ErrNoGPUs
	}
	return n, nil
}

// ParseROCmSMI counts device rows in the rocm-smi concise table.
// Rows start after the first header line beginning with "Device" and are
// recognised by an integer in the first column, e.g.
//
//	Device  Node  IDs              Temp    Power  ...
//	              (DID,     GUID)  (Edge)  (Avg)  ...
//	=================================================
//	0       2     0x74a1,   28851  35.0°C  140.0W ...
//	1       3     0x74a1,   23018  37.0°C  142.0W ...
func ParseROCmSMI(out []byte) int {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	seenHeader := false
	count := 0
	for scanner.Scan() {
		line := scanner.Text()
		if !seenHeader {
			if strings.HasPrefix(line, "Device") {
				seenHeader = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if _, err := strconv.ParseUint(fields[0], 10, 32); err == nil {
			count++
		}
	}
	return count
}
