package device

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/raftwork/convkit/internal/simd"
)

// convShape is the scalar geometry of one plan, fixed at negotiation time.
type convShape struct {
	n, ic, oc      int
	ih, iw, kh, kw int
	oh, ow         int
	sh, sw         int // strides
	pt, pb, pl, pr int // padding top/bottom/left/right
}

// convPlan is an immutable negotiated execution plan: concrete operand
// layouts plus the kernel selected for them. Shared between primitives via
// the plan cache; only the workspace pool mutates and it is safe to share.
type convPlan struct {
	shape     convShape
	src       MemDesc
	weights   MemDesc
	bias      MemDesc
	dst       MemDesc
	post      []PostOp
	pointwise bool

	// im2col scratch, one buffer per worker
	workspace sync.Pool
}

func convPlanKey(d ConvForwardDesc, attr Attr) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%d|%s|%s|%s|%s|s%d,%d|p%d,%d,%d,%d",
		int(d.Prop), int(d.Alg), d.Src, d.Weights, d.Bias, d.Dst,
		d.StrideH, d.StrideW, d.PadTop, d.PadBottom, d.PadLeft, d.PadRight)
	for _, p := range attr.PostOps() {
		fmt.Fprintf(&b, "|e%d,%g,%g,%g", int(p.Alg), p.Scale, p.Alpha, p.Beta)
	}
	return b.String()
}

// newConvPlan validates the whole descriptor, then resolves any LayoutAny
// operands to the layouts its kernels want: NHWC/IHWO for pointwise
// convolutions, which run as one sgemm over the caller's own layout, and
// NCHW/OIHW otherwise, which run as im2col plus sgemm per image. A rejected
// descriptor never yields a partial plan.
func newConvPlan(d ConvForwardDesc, attr Attr) (*convPlan, error) {
	const op = "conv_forward"

	if d.Alg != ConvDirect {
		return nil, constructionError(op, "unsupported convolution algorithm %d", int(d.Alg))
	}
	if d.Prop != ForwardTraining && d.Prop != ForwardInference {
		return nil, constructionError(op, "unsupported propagation kind %d", int(d.Prop))
	}
	for _, operand := range []struct {
		name string
		d    MemDesc
	}{
		{"src", d.Src}, {"weights", d.Weights}, {"bias", d.Bias}, {"dst", d.Dst},
	} {
		if _, err := NewMemDesc(operand.d.Dims, operand.d.Type, operand.d.Tag); err != nil {
			return nil, constructionError(op, "invalid %s descriptor: %v", operand.name, err)
		}
		if operand.d.Type != F32 {
			return nil, constructionError(op, "cpu convolution supports f32 operands only, %s is %s", operand.name, operand.d.Type)
		}
	}
	if len(d.Src.Dims) != 4 || len(d.Weights.Dims) != 4 || len(d.Dst.Dims) != 4 {
		return nil, constructionError(op, "src, weights and dst must be rank 4")
	}
	if d.Bias.Tag != X || len(d.Bias.Dims) != 1 {
		return nil, constructionError(op, "bias must be a concrete rank-1 tensor")
	}

	g := convShape{
		n: d.Src.Dims[0], ic: d.Src.Dims[1], ih: d.Src.Dims[2], iw: d.Src.Dims[3],
		oc: d.Weights.Dims[0], kh: d.Weights.Dims[2], kw: d.Weights.Dims[3],
		oh: d.Dst.Dims[2], ow: d.Dst.Dims[3],
		sh: d.StrideH, sw: d.StrideW,
		pt: d.PadTop, pb: d.PadBottom, pl: d.PadLeft, pr: d.PadRight,
	}

	if d.Weights.Dims[1] != g.ic {
		return nil, constructionError(op, "channel mismatch: src has %d input channels, weights want %d", g.ic, d.Weights.Dims[1])
	}
	if d.Bias.Dims[0] != g.oc {
		return nil, constructionError(op, "bias length %d does not match %d output channels", d.Bias.Dims[0], g.oc)
	}
	if d.Dst.Dims[0] != g.n {
		return nil, constructionError(op, "batch mismatch: src has %d, dst has %d", g.n, d.Dst.Dims[0])
	}
	if d.Dst.Dims[1] != g.oc {
		return nil, constructionError(op, "dst has %d channels, weights produce %d", d.Dst.Dims[1], g.oc)
	}
	if g.sh < 1 || g.sw < 1 {
		return nil, constructionError(op, "strides must be positive, got %dx%d", g.sh, g.sw)
	}
	if g.pt < 0 || g.pb < 0 || g.pl < 0 || g.pr < 0 {
		return nil, constructionError(op, "padding must be non-negative")
	}
	// An output position whose kernel window sits entirely in padding reads
	// no input at all; reject padding that wide.
	if g.pt >= g.kh || g.pb >= g.kh || g.pl >= g.kw || g.pr >= g.kw {
		return nil, constructionError(op, "padding %d,%d/%d,%d must be narrower than the %dx%d kernel",
			g.pt, g.pb, g.pl, g.pr, g.kh, g.kw)
	}
	if wantOH := outDim(g.ih, g.kh, g.pt, g.pb, g.sh); wantOH < 1 || wantOH != g.oh {
		return nil, constructionError(op, "dst height %d inconsistent with geometry, want %d", g.oh, wantOH)
	}
	if wantOW := outDim(g.iw, g.kw, g.pl, g.pr, g.sw); wantOW < 1 || wantOW != g.ow {
		return nil, constructionError(op, "dst width %d inconsistent with geometry, want %d", g.ow, wantOW)
	}
	for _, p := range attr.PostOps() {
		if p.Alg != EltwiseReLU {
			return nil, constructionError(op, "unsupported post-op algorithm %d", int(p.Alg))
		}
	}

	pointwise := g.kh == 1 && g.kw == 1 && g.sh == 1 && g.sw == 1 &&
		g.pt == 0 && g.pb == 0 && g.pl == 0 && g.pr == 0

	prefSrc, prefWeights, prefDst := NCHW, OIHW, NCHW
	if pointwise {
		prefSrc, prefWeights, prefDst = NHWC, IHWO, NHWC
	}
	srcTag, weightsTag, dstTag := d.Src.Tag, d.Weights.Tag, d.Dst.Tag
	if srcTag == LayoutAny {
		srcTag = prefSrc
	}
	if weightsTag == LayoutAny {
		weightsTag = prefWeights
	}
	if dstTag == LayoutAny {
		dstTag = prefDst
	}

	p := &convPlan{
		shape:   g,
		src:     d.Src.WithLayout(srcTag),
		weights: d.Weights.WithLayout(weightsTag),
		bias:    d.Bias,
		dst:     d.Dst.WithLayout(dstTag),
		post:    attr.PostOps(),
	}
	switch {
	case pointwise && srcTag == NHWC && weightsTag == IHWO && dstTag == NHWC:
		p.pointwise = true
	case srcTag == NCHW && weightsTag == OIHW && dstTag == NCHW:
		wsLen := g.ic * g.kh * g.kw * g.oh * g.ow
		p.workspace.New = func() interface{} {
			buf := make([]float32, wsLen)
			return &buf
		}
	default:
		return nil, constructionError(op, "no direct convolution kernel for layouts src=%s weights=%s dst=%s",
			srcTag, weightsTag, dstTag)
	}
	return p, nil
}

func outDim(in, k, padL, padR, stride int) int {
	span := in + padL + padR - k
	if span < 0 {
		return 0
	}
	return span/stride + 1
}

var _ ConvForward = (*cpuConv)(nil)

// cpuConv is a planned fused convolution. Execution is stateless beyond the
// shared plan, so one primitive can run concurrently on different streams
// as long as the bound memories differ.
type cpuConv struct {
	eng  *CPUEngine
	plan *convPlan
}

func (c *cpuConv) Kind() string { return "conv_forward" }

func (c *cpuConv) SrcDesc() MemDesc     { return c.plan.src }
func (c *cpuConv) WeightsDesc() MemDesc { return c.plan.weights }
func (c *cpuConv) BiasDesc() MemDesc    { return c.plan.bias }
func (c *cpuConv) DstDesc() MemDesc     { return c.plan.dst }

func (c *cpuConv) Execute(s Stream, args Args) error {
	cs, ok := s.(*cpuStream)
	if !ok || cs.eng != c.eng {
		return executionError("execute", "stream was not opened on this engine")
	}
	return cs.Submit(c, args)
}

func (c *cpuConv) run(args Args) error {
	const op = "conv_forward"
	start := time.Now()

	src, err := f32Data(args, ArgSrc, c.plan.src, op)
	if err != nil {
		return err
	}
	weights, err := f32Data(args, ArgWeights, c.plan.weights, op)
	if err != nil {
		return err
	}
	bias, err := f32Data(args, ArgBias, c.plan.bias, op)
	if err != nil {
		return err
	}
	dst, err := f32Data(args, ArgDst, c.plan.dst, op)
	if err != nil {
		return err
	}

	if c.plan.pointwise {
		c.runPointwise(src, weights, bias, dst)
	} else {
		c.runIm2col(src, weights, bias, dst)
	}

	primitivesExecuted.WithLabelValues(c.Kind()).Inc()
	primitiveDuration.WithLabelValues(c.Kind()).Observe(time.Since(start).Seconds())
	return nil
}

// runPointwise computes a 1x1 convolution as a single sgemm: src rows are
// the N*H*W spatial positions, weights collapse to an IC x OC matrix, and
// both sides stay in the caller's channel-last layout.
func (c *cpuConv) runPointwise(src, weights, bias, dst []float32) {
	g := c.plan.shape
	m := g.n * g.oh * g.ow

	a := blas32.General{Rows: m, Cols: g.ic, Stride: g.ic, Data: src}
	b := blas32.General{Rows: g.ic, Cols: g.oc, Stride: g.oc, Data: weights}
	out := blas32.General{Rows: m, Cols: g.oc, Stride: g.oc, Data: dst}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, b, 0, out)

	workers := c.eng.workersFor(m, g.oc)
	rowsPerWorker := (m + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		startRow := w * rowsPerWorker
		endRow := startRow + rowsPerWorker
		if startRow >= m {
			break
		}
		if endRow > m {
			endRow = m
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for r := start; r < end; r++ {
				simd.VecAdd(dst[r*g.oc:(r+1)*g.oc], bias)
			}
			applyPostOps(dst[start*g.oc:end*g.oc], c.plan.post)
		}(startRow, endRow)
	}
	wg.Wait()
}

// runIm2col lowers each image to a column matrix and multiplies it against
// the OC x (IC*KH*KW) weight matrix, writing the NCHW image block directly.
// Images are distributed across workers; each worker reuses one pooled
// workspace.
func (c *cpuConv) runIm2col(src, weights, bias, dst []float32) {
	g := c.plan.shape
	colRows := g.ic * g.kh * g.kw
	colCols := g.oh * g.ow
	srcStride := g.ic * g.ih * g.iw
	dstStride := g.oc * colCols

	workers := c.eng.workersFor(g.n, colRows*colCols)
	imagesPerWorker := (g.n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		startImg := w * imagesPerWorker
		endImg := startImg + imagesPerWorker
		if startImg >= g.n {
			break
		}
		if endImg > g.n {
			endImg = g.n
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()

			wsp := c.plan.workspace.Get().(*[]float32)
			defer c.plan.workspace.Put(wsp)
			ws := *wsp

			a := blas32.General{Rows: g.oc, Cols: colRows, Stride: colRows, Data: weights}
			b := blas32.General{Rows: colRows, Cols: colCols, Stride: colCols, Data: ws}

			for n := start; n < end; n++ {
				im2col(src[n*srcStride:(n+1)*srcStride], g, ws)

				img := dst[n*dstStride : (n+1)*dstStride]
				out := blas32.General{Rows: g.oc, Cols: colCols, Stride: colCols, Data: img}
				blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, b, 0, out)

				for o := 0; o < g.oc; o++ {
					simd.AddScalar(img[o*colCols:(o+1)*colCols], bias[o])
				}
				applyPostOps(img, c.plan.post)
			}
		}(startImg, endImg)
	}
	wg.Wait()
}

// im2col unrolls one NCHW image into a (IC*KH*KW) x (OH*OW) matrix where
// every column holds the receptive field of one output position. Padding
// positions read as zero.
func im2col(img []float32, g convShape, out []float32) {
	colCols := g.oh * g.ow
	for ch := 0; ch < g.ic; ch++ {
		for kh := 0; kh < g.kh; kh++ {
			for kw := 0; kw < g.kw; kw++ {
				base := ((ch*g.kh+kh)*g.kw + kw) * colCols
				for oh := 0; oh < g.oh; oh++ {
					inH := oh*g.sh - g.pt + kh
					rowOK := inH >= 0 && inH < g.ih
					for ow := 0; ow < g.ow; ow++ {
						inW := ow*g.sw - g.pl + kw
						idx := base + oh*g.ow + ow
						if rowOK && inW >= 0 && inW < g.iw {
							out[idx] = img[(ch*g.ih+inH)*g.iw+inW]
						} else {
							out[idx] = 0
						}
					}
				}
			}
		}
	}
}

// applyPostOps runs the fused epilogue chain over buf in append order.
func applyPostOps(buf []float32, post []PostOp) {
	for _, p := range post {
		simd.ReLU(buf, p.Alpha)
		if p.Scale != 1 {
			simd.Scale(buf, p.Scale)
		}
	}
}

// f32Data resolves one bound operand to its float32 host storage. The plan
// descriptor pins the type, so a matched, unreleased memory always has an
// f32 backing.
func f32Data(args Args, arg Arg, want MemDesc, op string) ([]float32, error) {
	cm, err := hostMemory(args, arg, want, op)
	if err != nil {
		return nil, err
	}
	return cm.f32, nil
}
