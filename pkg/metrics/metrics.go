// Package metrics holds the prometheus registry the jaxci packages register
// their collectors on, and writes it out for the node_exporter textfile
// collector at the end of a run.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const (
	// ModuleLabelKey is the label carrying the test module stem.
	ModuleLabelKey = "module"

	// OutcomeLabelKey is the label carrying a module outcome
	// ("passed", "failed", "crashed", "timeout", "skipped").
	OutcomeLabelKey = "outcome"
)

var registry = prometheus.NewRegistry()

// MustRegister registers the collectors on the package registry.
func MustRegister(cs ...prometheus.Collector) {
	registry.MustRegister(cs...)
}

// Gatherer returns the package registry.
func Gatherer() prometheus.Gatherer {
	return registry
}

// WriteTextfile writes every registered metric to path in the text
// exposition format.
func WriteTextfile(path string) error {
	return WriteGathererTextfile(path, registry)
}

// WriteGathererTextfile writes g to path, creating the parent directory.
func WriteGathererTextfile(path string, g prometheus.Gatherer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// ReadCounter sums the counter values of the metric family name whose
// labels include all of the given label pairs.
func ReadCounter(g prometheus.Gatherer, name string, labels map[string]string) (float64, error) {
	mfs, err := g.Gather()
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !hasLabels(m, labels) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
	}
	return total, nil
}

func hasLabels(m *dto.Metric, labels map[string]string) bool {
	for k, v := range labels {
		found := false
		for _, lp := range m.GetLabel() {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
