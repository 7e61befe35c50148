//go:build ignore

// Prints the negotiated plan for each benchmark shape: the layouts the
// engine picked for src/weights/dst and which operands would need a reorder
// from the caller's nhwc/ihwo layouts.
//
// Usage: go run scripts/print_plans.go
package main

import (
	"fmt"
	"os"

	"github.com/raftwork/convkit/internal/device"
)

type shape struct {
	name           string
	n, ic, oc      int
	ih, iw, kh, kw int
	sh, sw         int
	pt, pb, pl, pr int
}

var shapes = []shape{
	{"pointwise", 1, 64, 64, 56, 56, 1, 1, 1, 1, 0, 0, 0, 0},
	{"small", 1, 3, 8, 32, 32, 3, 3, 1, 1, 0, 0, 0, 0},
	{"resnet3x3", 1, 64, 64, 56, 56, 3, 3, 1, 1, 1, 1, 1, 1},
	{"strided", 2, 16, 32, 31, 27, 3, 3, 2, 2, 1, 0, 1, 0},
}

func outDim(in, k, padL, padR, stride int) int {
	return (in+padL+padR-k)/stride + 1
}

func main() {
	eng := device.NewCPUEngine()
	fmt.Printf("engine: %s\n\n", eng.Name())

	for _, s := range shapes {
		oh := outDim(s.ih, s.kh, s.pt, s.pb, s.sh)
		ow := outDim(s.iw, s.kw, s.pl, s.pr, s.sw)

		userSrc, err := device.NewMemDesc([]int{s.n, s.ic, s.ih, s.iw}, device.F32, device.NHWC)
		must(err)
		userWeights, err := device.NewMemDesc([]int{s.oc, s.ic, s.kh, s.kw}, device.F32, device.IHWO)
		must(err)
		userBias, err := device.NewMemDesc([]int{s.oc}, device.F32, device.X)
		must(err)
		userDst, err := device.NewMemDesc([]int{s.n, s.oc, oh, ow}, device.F32, device.NHWC)
		must(err)

		var attr device.Attr
		attr.AppendEltwise(1, device.EltwiseReLU, 0, 0)

		plan, err := eng.ConvForward(device.ConvForwardDesc{
			Prop:    device.ForwardTraining,
			Alg:     device.ConvDirect,
			Src:     userSrc.WithLayout(device.LayoutAny),
			Weights: userWeights.WithLayout(device.LayoutAny),
			Bias:    userBias,
			Dst:     userDst.WithLayout(device.LayoutAny),
			StrideH: s.sh, StrideW: s.sw,
			PadTop: s.pt, PadBottom: s.pb, PadLeft: s.pl, PadRight: s.pr,
		}, attr)
		must(err)

		fmt.Printf("%-12s src=%s weights=%s dst=%s", s.name,
			plan.SrcDesc().Tag, plan.WeightsDesc().Tag, plan.DstDesc().Tag)
		fmt.Printf("  reorders:")
		for _, op := range []struct {
			name string
			need bool
		}{
			{"src", !plan.SrcDesc().Equal(userSrc)},
			{"weights", !plan.WeightsDesc().Equal(userWeights)},
			{"dst", !plan.DstDesc().Equal(userDst)},
		} {
			if op.need {
				fmt.Printf(" %s", op.name)
			}
		}
		fmt.Println()
	}
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
