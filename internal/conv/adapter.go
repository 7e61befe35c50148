// Package conv adapts caller-described convolution instances onto a tensor
// primitive engine: it assembles descriptors in fixed logical dim order,
// stages engine memory for the caller's buffers, reconciles physical
// layouts with explicit reorders, and runs the fused convolution+ReLU
// synchronously.
package conv

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/raftwork/convkit/internal/device"
)

// Adapter owns the engine objects for one Instance: staged user-layout
// memories, the negotiated primitive, and whatever reorders the negotiation
// made necessary. An adapter is not safe for concurrent use; failures are
// final and never retried.
type Adapter struct {
	ctx  *device.Context
	inst Instance

	prim device.ConvForward

	// user-layout staging, marshal targets
	srcUser     device.Memory
	weightsUser device.Memory
	bias        device.Memory
	dstUser     device.Memory

	// primitive-layout operands; alias the user memories when the
	// negotiated layout already matches (the zero-copy path)
	srcConv     device.Memory
	weightsConv device.Memory
	dstConv     device.Memory

	srcReorder     device.Primitive
	weightsReorder device.Primitive
	dstReorder     device.Primitive

	args device.Args

	closed bool
}

// New builds the execution plan for inst on ctx's engine: user memories in
// the caller-committed layouts (channel-last activations, output-channel-
// last weights), a fused conv+ReLU primitive negotiated over LayoutAny
// operands, and reorders wherever the negotiated layouts differ. Inputs are
// marshaled in before New returns; engine rejections propagate unchanged.
func New(ctx *device.Context, inst Instance) (*Adapter, error) {
	if err := inst.validateBuffers(); err != nil {
		return nil, err
	}
	if ctx == nil || ctx.Engine == nil || ctx.Stream == nil {
		return nil, device.NewError(device.KindConstruction, "conv", "context is not usable")
	}

	userSrc, err := device.NewMemDesc([]int{inst.N, inst.IC, inst.IH, inst.IW}, device.F32, device.NHWC)
	if err != nil {
		return nil, err
	}
	userWeights, err := device.NewMemDesc([]int{inst.OC, inst.IC, inst.KH, inst.KW}, device.F32, device.IHWO)
	if err != nil {
		return nil, err
	}
	userBias, err := device.NewMemDesc([]int{inst.OC}, device.F32, device.X)
	if err != nil {
		return nil, err
	}
	userDst, err := device.NewMemDesc([]int{inst.N, inst.OC, inst.OH, inst.OW}, device.F32, device.NHWC)
	if err != nil {
		return nil, err
	}

	var attr device.Attr
	attr.AppendEltwise(1, device.EltwiseReLU, 0, 0)

	prim, err := ctx.Engine.ConvForward(device.ConvForwardDesc{
		Prop:    device.ForwardTraining,
		Alg:     device.ConvDirect,
		Src:     userSrc.WithLayout(device.LayoutAny),
		Weights: userWeights.WithLayout(device.LayoutAny),
		Bias:    userBias,
		Dst:     userDst.WithLayout(device.LayoutAny),
		StrideH: inst.StrideH, StrideW: inst.StrideW,
		PadTop: inst.PadTop, PadBottom: inst.PadBottom,
		PadLeft: inst.PadLeft, PadRight: inst.PadRight,
	}, attr)
	if err != nil {
		return nil, err
	}

	a := &Adapter{ctx: ctx, inst: inst, prim: prim}
	ok := false
	defer func() {
		if !ok {
			a.release()
		}
	}()

	if a.srcUser, err = ctx.Engine.NewMemory(userSrc); err != nil {
		return nil, err
	}
	if a.weightsUser, err = ctx.Engine.NewMemory(userWeights); err != nil {
		return nil, err
	}
	if a.bias, err = ctx.Engine.NewMemory(userBias); err != nil {
		return nil, err
	}
	if a.dstUser, err = ctx.Engine.NewMemory(userDst); err != nil {
		return nil, err
	}

	// Layout reconciliation: every operand whose negotiated layout differs
	// from the user layout gets a primitive-layout twin plus a reorder;
	// matching operands feed the primitive directly.
	a.srcConv = a.srcUser
	if !prim.SrcDesc().Equal(userSrc) {
		if a.srcConv, err = ctx.Engine.NewMemory(prim.SrcDesc()); err != nil {
			return nil, err
		}
		if a.srcReorder, err = ctx.Engine.Reorder(userSrc, prim.SrcDesc()); err != nil {
			return nil, err
		}
	}
	a.weightsConv = a.weightsUser
	if !prim.WeightsDesc().Equal(userWeights) {
		if a.weightsConv, err = ctx.Engine.NewMemory(prim.WeightsDesc()); err != nil {
			return nil, err
		}
		if a.weightsReorder, err = ctx.Engine.Reorder(userWeights, prim.WeightsDesc()); err != nil {
			return nil, err
		}
	}
	a.dstConv = a.dstUser
	if !prim.DstDesc().Equal(userDst) {
		if a.dstConv, err = ctx.Engine.NewMemory(prim.DstDesc()); err != nil {
			return nil, err
		}
		if a.dstReorder, err = ctx.Engine.Reorder(prim.DstDesc(), userDst); err != nil {
			return nil, err
		}
	}

	a.args = device.Args{
		device.ArgSrc:     a.srcConv,
		device.ArgWeights: a.weightsConv,
		device.ArgBias:    a.bias,
		device.ArgDst:     a.dstConv,
	}

	if err := a.Reload(); err != nil {
		return nil, err
	}

	log.Debug().
		Int("n", inst.N).Int("ic", inst.IC).Int("oc", inst.OC).
		Str("src_layout", prim.SrcDesc().Tag.String()).
		Str("weights_layout", prim.WeightsDesc().Tag.String()).
		Str("dst_layout", prim.DstDesc().Tag.String()).
		Bool("src_reorder", a.srcReorder != nil).
		Bool("weights_reorder", a.weightsReorder != nil).
		Bool("dst_reorder", a.dstReorder != nil).
		Msg("Convolution adapter ready")

	ok = true
	return a, nil
}

// Run executes the fused convolution synchronously: submit, wait, reorder
// the destination back to the caller's layout when the plan computed in a
// different one, and marshal the result into the Dst buffer. Run reuses
// whatever bytes occupy the staged inputs; it never re-reads the caller's
// input buffers.
func (a *Adapter) Run() error {
	if a.closed {
		return device.NewError(device.KindInvalidHandle, "run", "adapter is closed")
	}
	start := time.Now()

	if err := a.prim.Execute(a.ctx.Stream, a.args); err != nil {
		return err
	}
	if err := a.ctx.Stream.Wait(); err != nil {
		return err
	}

	if a.dstReorder != nil {
		if err := a.runReorder(a.dstReorder, a.dstConv, a.dstUser, "dst"); err != nil {
			return err
		}
	}

	if err := copyOut(a.inst.Dst, a.dstUser, "dst"); err != nil {
		return err
	}

	runsTotal.Inc()
	runDuration.Observe(time.Since(start).Seconds())
	return nil
}

// Reload re-marshals the instance's current Src, Weights and Bias into the
// staged memories and re-runs the input reorders, making edited caller
// bytes visible to subsequent Runs.
func (a *Adapter) Reload() error {
	if a.closed {
		return device.NewError(device.KindInvalidHandle, "reload", "adapter is closed")
	}

	if err := copyIn(a.srcUser, a.inst.Src, "src"); err != nil {
		return err
	}
	if err := copyIn(a.weightsUser, a.inst.Weights, "weights"); err != nil {
		return err
	}
	if err := copyIn(a.bias, a.inst.Bias, "bias"); err != nil {
		return err
	}

	if a.srcReorder != nil {
		if err := a.runReorder(a.srcReorder, a.srcUser, a.srcConv, "src"); err != nil {
			return err
		}
	}
	if a.weightsReorder != nil {
		if err := a.runReorder(a.weightsReorder, a.weightsUser, a.weightsConv, "weights"); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) runReorder(p device.Primitive, src, dst device.Memory, operand string) error {
	if err := p.Execute(a.ctx.Stream, device.Args{device.ArgSrc: src, device.ArgDst: dst}); err != nil {
		return err
	}
	if err := a.ctx.Stream.Wait(); err != nil {
		return err
	}
	reordersTotal.WithLabelValues(operand).Inc()
	return nil
}

// Close releases the adapter's engine memory. The context stays caller
// owned; further Run or Reload calls fail with an invalid-handle error.
func (a *Adapter) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.release()
	return nil
}

func (a *Adapter) release() {
	for _, m := range []device.Memory{
		a.srcUser, a.weightsUser, a.bias, a.dstUser,
		a.srcConv, a.weightsConv, a.dstConv,
	} {
		if m != nil {
			m.Release()
		}
	}
}
