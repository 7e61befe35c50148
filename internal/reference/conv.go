// Package reference holds a direct-from-definition convolution used to
// check the optimized kernels. It is deliberately slow and simple; nothing
// here is reached on a serving path.
package reference

// Params describes one fused convolution over caller-layout buffers:
// channel-last activations (values of all channels for one pixel stored
// together) and weights grouped input-channel first, output-channel last.
type Params struct {
	N, IC, OC        int
	IH, IW           int
	KH, KW           int
	StrideH, StrideW int

	PadTop, PadBottom, PadLeft, PadRight int

	// ReLU clamps negative outputs to zero after bias.
	ReLU bool
}

// OutH returns the output height implied by the geometry, zero when the
// kernel does not fit.
func (p Params) OutH() int {
	return outSpan(p.IH, p.KH, p.PadTop, p.PadBottom, p.StrideH)
}

// OutW is the width counterpart of OutH.
func (p Params) OutW() int {
	return outSpan(p.IW, p.KW, p.PadLeft, p.PadRight, p.StrideW)
}

func outSpan(in, k, padL, padR, stride int) int {
	span := in + padL + padR - k
	if span < 0 {
		return 0
	}
	return span/stride + 1
}

// SrcLen, WeightsLen and DstLen give the expected buffer sizes.
func (p Params) SrcLen() int     { return p.N * p.IH * p.IW * p.IC }
func (p Params) WeightsLen() int { return p.OC * p.IC * p.KH * p.KW }
func (p Params) DstLen() int     { return p.N * p.OutH() * p.OutW() * p.OC }

// Conv2D computes the fused convolution one output value at a time. Buffer
// lengths must match the Params sizes; padding taps read as zero.
func Conv2D(p Params, src, weights, bias []float32) []float32 {
	oh, ow := p.OutH(), p.OutW()
	dst := make([]float32, p.N*oh*ow*p.OC)

	for n := 0; n < p.N; n++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				for oc := 0; oc < p.OC; oc++ {
					acc := bias[oc]
					for ic := 0; ic < p.IC; ic++ {
						for kh := 0; kh < p.KH; kh++ {
							inH := y*p.StrideH - p.PadTop + kh
							if inH < 0 || inH >= p.IH {
								continue
							}
							for kw := 0; kw < p.KW; kw++ {
								inW := x*p.StrideW - p.PadLeft + kw
								if inW < 0 || inW >= p.IW {
									continue
								}
								s := src[((n*p.IH+inH)*p.IW+inW)*p.IC+ic]
								w := weights[((ic*p.KH+kh)*p.KW+kw)*p.OC+oc]
								acc += s * w
							}
						}
					}
					if p.ReLU && acc < 0 {
						acc = 0
					}
					dst[((n*oh+y)*ow+x)*p.OC+oc] = acc
				}
			}
		}
	}
	return dst
}
