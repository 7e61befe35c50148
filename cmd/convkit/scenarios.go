package main

import (
	"math/rand"

	"github.com/raftwork/convkit/internal/conv"
	"github.com/raftwork/convkit/internal/reference"
)

// Scenario is one benchmark shape. All scenarios run the fused conv+ReLU;
// they differ in which engine path they land on.
type Scenario struct {
	Name string
	Desc string

	N, IC, OC int
	IH, IW    int
	KH, KW    int

	StrideH, StrideW int

	PadTop, PadBottom, PadLeft, PadRight int
}

var scenarios = []Scenario{
	{
		Name: "pointwise",
		Desc: "1x1 channel projection; negotiates the caller's own layouts (zero-copy)",
		N:    1, IC: 64, OC: 64, IH: 56, IW: 56, KH: 1, KW: 1,
		StrideH: 1, StrideW: 1,
	},
	{
		Name: "small",
		Desc: "hand-checkable 3x3 over 32x32, no padding",
		N:    1, IC: 3, OC: 8, IH: 32, IW: 32, KH: 3, KW: 3,
		StrideH: 1, StrideW: 1,
	},
	{
		Name: "resnet3x3",
		Desc: "ResNet-style 3x3 block, unit padding; exercises all three reorders",
		N:    1, IC: 64, OC: 64, IH: 56, IW: 56, KH: 3, KW: 3,
		StrideH: 1, StrideW: 1,
		PadTop: 1, PadBottom: 1, PadLeft: 1, PadRight: 1,
	},
	{
		Name: "strided",
		Desc: "strided downsample with asymmetric padding",
		N:    2, IC: 16, OC: 32, IH: 31, IW: 27, KH: 3, KW: 3,
		StrideH: 2, StrideW: 2,
		PadTop: 1, PadBottom: 0, PadLeft: 1, PadRight: 0,
	},
}

func findScenario(name string) (Scenario, bool) {
	for _, s := range scenarios {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

func (s Scenario) params() reference.Params {
	return reference.Params{
		N: s.N, IC: s.IC, OC: s.OC,
		IH: s.IH, IW: s.IW, KH: s.KH, KW: s.KW,
		StrideH: s.StrideH, StrideW: s.StrideW,
		PadTop: s.PadTop, PadBottom: s.PadBottom,
		PadLeft: s.PadLeft, PadRight: s.PadRight,
		ReLU: true,
	}
}

// instance allocates caller buffers for the scenario and seeds the inputs.
func (s Scenario) instance(seed int64) conv.Instance {
	p := s.params()
	inst := conv.Instance{
		N: s.N, IC: s.IC, OC: s.OC,
		IH: s.IH, IW: s.IW, KH: s.KH, KW: s.KW,
		OH: p.OutH(), OW: p.OutW(),
		StrideH: s.StrideH, StrideW: s.StrideW,
		PadTop: s.PadTop, PadBottom: s.PadBottom,
		PadLeft: s.PadLeft, PadRight: s.PadRight,
		Src:     make([]float32, p.SrcLen()),
		Weights: make([]float32, p.WeightsLen()),
		Bias:    make([]float32, s.OC),
		Dst:     make([]float32, p.DstLen()),
	}
	r := rand.New(rand.NewSource(seed))
	fillUniform(inst.Src, r)
	fillUniform(inst.Weights, r)
	fillUniform(inst.Bias, r)
	return inst
}

func fillUniform(buf []float32, r *rand.Rand) {
	for i := range buf {
		buf[i] = r.Float32()*2 - 1
	}
}

// flops is the multiply-add count of one run, for throughput reporting.
func (s Scenario) flops() float64 {
	p := s.params()
	return 2 * float64(s.N) * float64(s.OC) * float64(p.OutH()) * float64(p.OutW()) *
		float64(s.IC) * float64(s.KH) * float64(s.KW)
}
