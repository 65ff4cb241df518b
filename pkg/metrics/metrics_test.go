package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "test",
		Name:      "modules_total",
		Help:      "modules",
	}, []string{ModuleLabelKey, OutcomeLabelKey})
	reg.MustRegister(c)

	c.WithLabelValues("api_test", "passed").Inc()
	c.WithLabelValues("lax_test", "passed").Add(2)
	c.WithLabelValues("lax_test", "crashed").Inc()

	v, err := ReadCounter(reg, "test_modules_total", nil)
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)

	v, err = ReadCounter(reg, "test_modules_total", map[string]string{OutcomeLabelKey: "passed"})
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	v, err = ReadCounter(reg, "test_modules_total", map[string]string{ModuleLabelKey: "lax_test", OutcomeLabelKey: "crashed"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = ReadCounter(reg, "missing", nil)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestWriteGathererTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "test", Name: "gpus_in_use", Help: "gpus"})
	reg.MustRegister(g)
	g.Set(3)

	p := filepath.Join(t.TempDir(), "sub", "jaxci.prom")
	require.NoError(t, WriteGathererTextfile(p, reg))

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "test_gpus_in_use 3"), string(b))
}

func TestPackageRegistry(t *testing.T) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: "pkgtest", Name: "events_total", Help: "events"})
	MustRegister(c)
	c.Add(5)

	v, err := ReadCounter(Gatherer(), "pkgtest_events_total", nil)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)

	p := filepath.Join(t.TempDir(), "m.prom")
	require.NoError(t, WriteTextfile(p))
	_, err = os.Stat(p)
	assert.NoError(t, err)
}
