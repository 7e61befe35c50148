package conv

import (
	"fmt"

	"github.com/raftwork/convkit/internal/device"
)

// Instance describes one fused convolution: logical shape, stride and
// per-side padding, plus the four caller-owned float32 buffers. Dims follow
// the fixed logical order {N, C, H, W} for activations and {OC, IC, KH, KW}
// for weights; the buffers themselves hold channel-last activations and
// output-channel-last weights, the layouts the adapter commits to when it
// marshals. The adapter never resizes or retains ownership of the buffers.
type Instance struct {
	N, IC, OC int
	IH, IW    int
	KH, KW    int
	OH, OW    int

	StrideH, StrideW int

	PadTop, PadBottom, PadLeft, PadRight int

	Src     []float32 // N*IH*IW*IC
	Weights []float32 // IC*KH*KW*OC
	Bias    []float32 // OC
	Dst     []float32 // N*OH*OW*OC
}

func (in Instance) srcLen() int     { return in.N * in.IH * in.IW * in.IC }
func (in Instance) weightsLen() int { return in.OC * in.IC * in.KH * in.KW }
func (in Instance) dstLen() int     { return in.N * in.OH * in.OW * in.OC }

// validateBuffers rejects unusable caller buffers before any engine object
// exists. Missing buffers are an invalid-handle failure; present buffers of
// the wrong size are a construction failure.
func (in Instance) validateBuffers() error {
	for _, b := range []struct {
		name string
		buf  []float32
		want int
	}{
		{"src", in.Src, in.srcLen()},
		{"weights", in.Weights, in.weightsLen()},
		{"bias", in.Bias, in.OC},
		{"dst", in.Dst, in.dstLen()},
	} {
		if len(b.buf) == 0 {
			return device.NewError(device.KindInvalidHandle, "conv", "nil "+b.name+" buffer")
		}
		if len(b.buf) != b.want {
			return device.NewError(device.KindConstruction, "conv",
				fmt.Sprintf("%s buffer has %d elements, the declared dims require %d", b.name, len(b.buf), b.want))
		}
	}
	return nil
}
