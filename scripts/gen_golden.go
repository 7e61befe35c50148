//go:build ignore

// Runs the hand-checkable 32x32 shape with deterministic integer inputs and
// snapshots all four tensors as an Arrow IPC file. The integer inputs keep
// every sum exact, so snapshots from different BLAS builds must be
// byte-identical and can be diffed directly.
//
// Usage: go run scripts/gen_golden.go -out small_golden.arrow
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/raftwork/convkit/internal/conv"
	"github.com/raftwork/convkit/internal/device"
	"github.com/raftwork/convkit/internal/tensorio"
)

func main() {
	out := flag.String("out", "small_golden.arrow", "Output path for the Arrow snapshot")
	flag.Parse()

	inst := conv.Instance{
		N: 1, IC: 3, OC: 8,
		IH: 32, IW: 32, KH: 3, KW: 3,
		OH: 30, OW: 30,
		StrideH: 1, StrideW: 1,
		Src:     make([]float32, 1*32*32*3),
		Weights: make([]float32, 8*3*3*3),
		Bias:    make([]float32, 8),
		Dst:     make([]float32, 1*30*30*8),
	}
	for i := range inst.Src {
		inst.Src[i] = float32(i % 16)
	}
	for i := range inst.Weights {
		inst.Weights[i] = 1
	}

	ctx, err := device.NewContext(device.CPU)
	must(err)
	defer ctx.Close()

	ad, err := conv.New(ctx, inst)
	must(err)
	defer ad.Close()
	must(ad.Run())

	must(tensorio.WriteFile(*out, []tensorio.Tensor{
		{Name: "src", Layout: "nhwc", Dims: []int{inst.N, inst.IC, inst.IH, inst.IW}, Values: inst.Src},
		{Name: "weights", Layout: "ihwo", Dims: []int{inst.OC, inst.IC, inst.KH, inst.KW}, Values: inst.Weights},
		{Name: "bias", Layout: "x", Dims: []int{inst.OC}, Values: inst.Bias},
		{Name: "dst", Layout: "nhwc", Dims: []int{inst.N, inst.OC, inst.OH, inst.OW}, Values: inst.Dst},
	}))
	fmt.Printf("wrote %s\n", *out)
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
