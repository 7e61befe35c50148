package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raftwork/convkit/internal/conv"
	"github.com/raftwork/convkit/internal/device"
	"github.com/raftwork/convkit/internal/reference"
	"github.com/raftwork/convkit/internal/tensorio"
)

func TestScenarioTable(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			require.False(t, seen[s.Name], "duplicate scenario name")
			seen[s.Name] = true

			p := s.params()
			assert.GreaterOrEqual(t, p.OutH(), 1)
			assert.GreaterOrEqual(t, p.OutW(), 1)
			assert.Positive(t, s.flops())

			inst := s.instance(1)
			assert.Len(t, inst.Src, p.SrcLen())
			assert.Len(t, inst.Weights, p.WeightsLen())
			assert.Len(t, inst.Bias, s.OC)
			assert.Len(t, inst.Dst, p.DstLen())
		})
	}
}

func TestFindScenario(t *testing.T) {
	s, ok := findScenario("pointwise")
	require.True(t, ok)
	assert.Equal(t, "pointwise", s.Name)

	_, ok = findScenario("definitely-not-a-scenario")
	assert.False(t, ok)
}

func TestScenariosMatchReference(t *testing.T) {
	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			if testing.Short() && s.flops() > 5e7 {
				t.Skip("large scenario skipped in short mode")
			}

			ctx, err := device.NewContext(device.CPU)
			require.NoError(t, err)
			defer ctx.Close()

			inst := s.instance(99)
			ad, err := conv.New(ctx, inst)
			require.NoError(t, err)
			defer ad.Close()
			require.NoError(t, ad.Run())

			want := reference.Conv2D(s.params(), inst.Src, inst.Weights, inst.Bias)
			require.Len(t, inst.Dst, len(want))

			var maxAbs float64
			for _, v := range want {
				if a := float64(v); a > maxAbs {
					maxAbs = a
				} else if -a > maxAbs {
					maxAbs = -a
				}
			}
			assert.InDeltaSlice(t, want, inst.Dst, 1e-3*(1+maxAbs))
		})
	}
}

func TestReportRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.cbor")
	in := Report{
		Scenario:   "small",
		Engine:     "cpu/avx2",
		Parallel:   2,
		Runs:       128,
		ElapsedSec: 1.5,
		RunsPerSec: 85.3,
		GFLOPS:     0.42,
		Timestamp:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, writeReport(path, in))

	out, err := readReport(path)
	require.NoError(t, err)
	assert.True(t, in.Timestamp.Equal(out.Timestamp))
	in.Timestamp, out.Timestamp = time.Time{}, time.Time{}
	assert.Equal(t, in, out)
}

func TestDumpTensors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tensors.arrow")
	sc, ok := findScenario("small")
	require.True(t, ok)
	inst := sc.instance(7)

	require.NoError(t, dumpTensors(path, inst))

	tensors, err := tensorio.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, tensors, 4)

	names := make([]string, len(tensors))
	for i, tensor := range tensors {
		names[i] = tensor.Name
	}
	assert.Equal(t, []string{"src", "weights", "bias", "dst"}, names)

	assert.Equal(t, []int{inst.N, inst.IC, inst.IH, inst.IW}, tensors[0].Dims)
	assert.Equal(t, "nhwc", tensors[0].Layout)
	assert.Equal(t, inst.Src, tensors[0].Values)
}
