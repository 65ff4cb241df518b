package skipreason

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorizeReason(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"", DefaultLabel},
		{"something entirely new", DefaultLabel},
		{"Test requires TPU", "TPU-Only"},
		{"Mosaic GPU lowering only", "Mosaic"},
		{"Skip on ROCm: flaky", "Not Supported on ROCm"},
		{"fp8 is not supported on   ROCm", "Not Supported on ROCm"},
		{"hipBLASLt is not available for ROCm", "Not Supported on ROCm"},
		{"Test requires >= 2 devices", "Multiple Devices Required"},
		{"This test requires a multi-device setup", "Multiple Devices Required"},
		{"Requires CUDA 12", "NVIDIA-Specific"},
		{"needs cuDNN", "NVIDIA-Specific"},
		{"requires compute capability 9.0", "NVIDIA-Specific"},
		{"needs at least version 3", "NVIDIA-Specific"},
		{"Metal plugin", "Apple-Specific"},
		{"Test enabled only for CPU", "CPU-Only"},
		{"backend is not CPU", "CPU-Only"},
		{"Skipping x64 mode", "Device Inapplicability"},
		{"No module named 'torch'", "Missing Module/API/Plugin"},
		{"requires PyTorch", "Missing Module/API/Plugin"},
		{"tests require foo plugin", "Missing Module/API/Plugin"},
		{"memory size limit exceeded", "Memory Limit Exceeded"},
		{"too slow", "Too Slow (Skipped Upstream)"},
		{"this path is unmaintained", "Currently Unmaintained (Skipped Upstream)"},
		{"Not implemented yet", DefaultLabel},
		{"unsupported dtype", DefaultLabel},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			assert.Equal(t, tt.want, CategorizeReason(tt.reason))
			// cached path gives the same answer
			assert.Equal(t, tt.want, CategorizeReason(tt.reason))
		})
	}
}

func TestRuleOrder(t *testing.T) {
	// tpu precedes nvidia and support rules
	assert.Equal(t, "TPU-Only", CategorizeReason("not supported on TPU or CUDA"))
	// multi-device precedes the generic support rule
	assert.Equal(t, "Multiple Devices Required", CategorizeReason("support needs >= 4 devices"))
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, MosaicLabel, Categorize("tests/mosaic/gpu_test.py", "testX", "Requires CUDA"))
	assert.Equal(t, MosaicLabel, Categorize("tests/pallas/mgpu_attention_test.py", "testX", ""))
	assert.Equal(t, MosaicLabel, Categorize("tests/pallas/ops_test.py", "testMosaicLowering", ""))
	assert.Equal(t, "NVIDIA-Specific", Categorize("tests/api_test.py", "testX", "Requires CUDA"))
}

func TestCategorizeConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, "TPU-Only", CategorizeReason("tpu only"))
			}
		}()
	}
	wg.Wait()
}

func TestExtractSkipReason(t *testing.T) {
	assert.Equal(t, "Skipped: some reason", ExtractSkipReason("('/path/test_x.py', 42, 'Skipped: some reason')"))
	assert.Equal(t, "Skipped: a, b", ExtractSkipReason(`("/p.py", 1, "Skipped: a, b")`))
	assert.Equal(t, "(only two, parts)", ExtractSkipReason("(only two, parts)"))
	assert.Equal(t, "x", ExtractSkipReason("x"))
}

func TestFromLongrepr(t *testing.T) {
	assert.Equal(t, "Skipped: r", FromLongrepr("('/p.py', 1, 'Skipped: r')"))
	assert.Equal(t, "Skipped: TPU only", FromLongrepr(`["/x.py", 12, "Skipped: TPU only"]`))
	assert.Equal(t, "plain", FromLongrepr("plain"))
	assert.Len(t, []rune(FromLongrepr(strings.Repeat("é", 400))), TextLimit)
}

func TestNormalizeMessage(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeMessage("  a\n\tb   c "))
	assert.Len(t, NormalizeMessage(strings.Repeat("x ", 300)), TextLimit)
}
