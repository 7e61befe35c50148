package conv

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raftwork/convkit/internal/device"
	"github.com/raftwork/convkit/internal/reference"
)

func newCtx(t *testing.T) *device.Context {
	t.Helper()
	ctx, err := device.NewContext(device.CPU)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })
	return ctx
}

// newInstance allocates caller buffers for the geometry and seeds the
// inputs deterministically.
func newInstance(t *testing.T, p reference.Params, seed int64) Instance {
	t.Helper()
	inst := Instance{
		N: p.N, IC: p.IC, OC: p.OC,
		IH: p.IH, IW: p.IW, KH: p.KH, KW: p.KW,
		OH: p.OutH(), OW: p.OutW(),
		StrideH: p.StrideH, StrideW: p.StrideW,
		PadTop: p.PadTop, PadBottom: p.PadBottom,
		PadLeft: p.PadLeft, PadRight: p.PadRight,
		Src:     make([]float32, p.SrcLen()),
		Weights: make([]float32, p.WeightsLen()),
		Bias:    make([]float32, p.OC),
		Dst:     make([]float32, p.DstLen()),
	}
	r := rand.New(rand.NewSource(seed))
	fill(inst.Src, r)
	fill(inst.Weights, r)
	fill(inst.Bias, r)
	return inst
}

func fill(buf []float32, r *rand.Rand) {
	for i := range buf {
		buf[i] = r.Float32()*2 - 1
	}
}

func snapshot(buf []float32) []float32 {
	return append([]float32(nil), buf...)
}

func TestRunMatchesReference(t *testing.T) {
	cases := []struct {
		name string
		p    reference.Params
	}{
		{"General3x3", reference.Params{
			N: 2, IC: 3, OC: 4, IH: 8, IW: 8, KH: 3, KW: 3,
			StrideH: 1, StrideW: 1, ReLU: true,
		}},
		{"Padded", reference.Params{
			N: 1, IC: 4, OC: 6, IH: 7, IW: 7, KH: 3, KW: 3,
			StrideH: 1, StrideW: 1,
			PadTop: 1, PadBottom: 1, PadLeft: 1, PadRight: 1, ReLU: true,
		}},
		{"StridedAsymmetric", reference.Params{
			N: 1, IC: 2, OC: 3, IH: 9, IW: 7, KH: 3, KW: 2,
			StrideH: 2, StrideW: 2,
			PadTop: 1, PadBottom: 0, PadLeft: 1, PadRight: 0, ReLU: true,
		}},
		{"Pointwise", reference.Params{
			N: 2, IC: 4, OC: 4, IH: 5, IW: 5, KH: 1, KW: 1,
			StrideH: 1, StrideW: 1, ReLU: true,
		}},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := newCtx(t)
			inst := newInstance(t, tc.p, int64(i+1))

			ad, err := New(ctx, inst)
			require.NoError(t, err)
			defer ad.Close()
			require.NoError(t, ad.Run())

			want := reference.Conv2D(tc.p, inst.Src, inst.Weights, inst.Bias)
			require.Len(t, inst.Dst, len(want))
			assert.InDeltaSlice(t, want, inst.Dst, 1e-4)
		})
	}
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := newCtx(t)
	p := reference.Params{
		N: 1, IC: 3, OC: 4, IH: 6, IW: 6, KH: 3, KW: 3,
		StrideH: 1, StrideW: 1, ReLU: true,
	}
	inst := newInstance(t, p, 7)

	ad, err := New(ctx, inst)
	require.NoError(t, err)
	defer ad.Close()

	require.NoError(t, ad.Run())
	first := snapshot(inst.Dst)

	// Neither scribbling over dst nor editing the inputs may change the
	// second run: the staged bytes are what executes.
	for i := range inst.Dst {
		inst.Dst[i] = -999
	}
	inst.Src[0] += 100
	require.NoError(t, ad.Run())
	assert.Equal(t, first, inst.Dst)
}

func TestNilBuffersRejectedBeforeEngineUse(t *testing.T) {
	p := reference.Params{
		N: 1, IC: 2, OC: 2, IH: 4, IW: 4, KH: 3, KW: 3,
		StrideH: 1, StrideW: 1,
	}
	cases := []struct {
		name   string
		mutate func(*Instance)
	}{
		{"NilSrc", func(in *Instance) { in.Src = nil }},
		{"NilWeights", func(in *Instance) { in.Weights = nil }},
		{"NilBias", func(in *Instance) { in.Bias = nil }},
		{"NilDst", func(in *Instance) { in.Dst = nil }},
		{"EmptySrc", func(in *Instance) { in.Src = make([]float32, 0) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inst := newInstance(t, p, 3)
			tc.mutate(&inst)

			// The nil context proves buffer validation happens before
			// the engine is touched.
			ad, err := New(nil, inst)
			require.Error(t, err)
			assert.Nil(t, ad)
			assert.True(t, device.IsInvalidHandle(err), "want invalid handle, got %v", err)
		})
	}
}

func TestShapeMismatchFailsConstruction(t *testing.T) {
	base := reference.Params{
		N: 1, IC: 2, OC: 3, IH: 8, IW: 8, KH: 3, KW: 3,
		StrideH: 1, StrideW: 1,
	}
	cases := []struct {
		name   string
		mutate func(*Instance)
	}{
		{"WrongSizedBias", func(in *Instance) { in.Bias = make([]float32, in.OC+1) }},
		{"WrongSizedDst", func(in *Instance) { in.Dst = make([]float32, in.dstLen()-1) }},
		{"BadOutputDims", func(in *Instance) {
			in.OH, in.OW = in.OH+1, in.OW+1
			in.Dst = make([]float32, in.dstLen())
		}},
		{"PadAsWideAsKernel", func(in *Instance) {
			in.PadTop = in.KH
			in.OH = in.OH + in.KH
			in.Dst = make([]float32, in.dstLen())
		}},
		{"ZeroStride", func(in *Instance) { in.StrideH = 0 }},
		{"KernelExceedsInput", func(in *Instance) {
			in.KH = in.IH + 1
			in.Weights = make([]float32, in.weightsLen())
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := newCtx(t)
			inst := newInstance(t, base, 5)
			tc.mutate(&inst)

			ad, err := New(ctx, inst)
			require.Error(t, err)
			assert.Nil(t, ad)
			assert.True(t, device.IsConstruction(err), "want construction error, got %v", err)
		})
	}
}

func TestLayoutTransparency(t *testing.T) {
	t.Run("PointwiseIsZeroCopy", func(t *testing.T) {
		ctx := newCtx(t)
		p := reference.Params{
			N: 1, IC: 8, OC: 8, IH: 4, IW: 4, KH: 1, KW: 1,
			StrideH: 1, StrideW: 1, ReLU: true,
		}
		inst := newInstance(t, p, 11)
		ad, err := New(ctx, inst)
		require.NoError(t, err)
		defer ad.Close()

		// The negotiated layouts match the caller's, so the primitive
		// reads and writes the user memories directly.
		assert.Nil(t, ad.srcReorder)
		assert.Nil(t, ad.weightsReorder)
		assert.Nil(t, ad.dstReorder)
		assert.Same(t, ad.srcUser, ad.srcConv)
		assert.Same(t, ad.weightsUser, ad.weightsConv)
		assert.Same(t, ad.dstUser, ad.dstConv)

		require.NoError(t, ad.Run())
		want := reference.Conv2D(p, inst.Src, inst.Weights, inst.Bias)
		assert.InDeltaSlice(t, want, inst.Dst, 1e-4)
	})

	t.Run("GeneralIsReordered", func(t *testing.T) {
		ctx := newCtx(t)
		p := reference.Params{
			N: 1, IC: 3, OC: 4, IH: 6, IW: 6, KH: 3, KW: 3,
			StrideH: 1, StrideW: 1, ReLU: true,
		}
		inst := newInstance(t, p, 12)
		ad, err := New(ctx, inst)
		require.NoError(t, err)
		defer ad.Close()

		assert.NotNil(t, ad.srcReorder)
		assert.NotNil(t, ad.weightsReorder)
		assert.NotNil(t, ad.dstReorder)
		assert.NotSame(t, ad.srcUser, ad.srcConv)

		require.NoError(t, ad.Run())
		want := reference.Conv2D(p, inst.Src, inst.Weights, inst.Bias)
		assert.InDeltaSlice(t, want, inst.Dst, 1e-4)
	})
}

func TestEndToEnd32x32(t *testing.T) {
	ctx := newCtx(t)
	p := reference.Params{
		N: 1, IC: 3, OC: 8, IH: 32, IW: 32, KH: 3, KW: 3,
		StrideH: 1, StrideW: 1, ReLU: true,
	}
	require.Equal(t, 30, p.OutH())
	require.Equal(t, 30, p.OutW())

	inst := newInstance(t, p, 0)
	// Small integer inputs keep every intermediate sum exactly
	// representable, so the optimized path must match the direct one bit
	// for bit whatever its summation order.
	for i := range inst.Src {
		inst.Src[i] = float32(i % 16)
	}
	for i := range inst.Weights {
		inst.Weights[i] = 1
	}
	for i := range inst.Bias {
		inst.Bias[i] = 0
	}

	ad, err := New(ctx, inst)
	require.NoError(t, err)
	defer ad.Close()
	require.NoError(t, ad.Run())

	want := reference.Conv2D(p, inst.Src, inst.Weights, inst.Bias)
	assert.Equal(t, want, inst.Dst)
}

func TestReloadSemantics(t *testing.T) {
	ctx := newCtx(t)
	p := reference.Params{
		N: 1, IC: 3, OC: 4, IH: 6, IW: 6, KH: 3, KW: 3,
		StrideH: 1, StrideW: 1, ReLU: true,
	}
	inst := newInstance(t, p, 21)

	ad, err := New(ctx, inst)
	require.NoError(t, err)
	defer ad.Close()

	require.NoError(t, ad.Run())
	before := snapshot(inst.Dst)

	// Edit the caller's src in place. Without Reload the staged bytes
	// still win; after Reload the new bytes take effect.
	r := rand.New(rand.NewSource(22))
	fill(inst.Src, r)

	require.NoError(t, ad.Run())
	assert.Equal(t, before, inst.Dst)

	require.NoError(t, ad.Reload())
	require.NoError(t, ad.Run())
	want := reference.Conv2D(p, inst.Src, inst.Weights, inst.Bias)
	assert.InDeltaSlice(t, want, inst.Dst, 1e-4)
	assert.NotEqual(t, before, inst.Dst)
}

func TestUseAfterClose(t *testing.T) {
	ctx := newCtx(t)
	p := reference.Params{
		N: 1, IC: 2, OC: 2, IH: 4, IW: 4, KH: 1, KW: 1,
		StrideH: 1, StrideW: 1,
	}
	inst := newInstance(t, p, 31)

	ad, err := New(ctx, inst)
	require.NoError(t, err)
	require.NoError(t, ad.Close())

	err = ad.Run()
	require.Error(t, err)
	assert.True(t, device.IsInvalidHandle(err))

	err = ad.Reload()
	require.Error(t, err)
	assert.True(t, device.IsInvalidHandle(err))

	require.NoError(t, ad.Close(), "close is idempotent")
}

func TestAdaptersShareContext(t *testing.T) {
	ctx := newCtx(t)
	p := reference.Params{
		N: 1, IC: 3, OC: 4, IH: 6, IW: 6, KH: 3, KW: 3,
		StrideH: 1, StrideW: 1, ReLU: true,
	}

	a1 := newInstance(t, p, 41)
	a2 := newInstance(t, p, 42)

	ad1, err := New(ctx, a1)
	require.NoError(t, err)
	defer ad1.Close()
	ad2, err := New(ctx, a2)
	require.NoError(t, err)
	defer ad2.Close()

	require.NoError(t, ad1.Run())
	require.NoError(t, ad2.Run())

	assert.InDeltaSlice(t, reference.Conv2D(p, a1.Src, a1.Weights, a1.Bias), a1.Dst, 1e-4)
	assert.InDeltaSlice(t, reference.Conv2D(p, a2.Src, a2.Weights, a2.Bias), a2.Dst, 1e-4)
}
