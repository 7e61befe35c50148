package device

import (
	"fmt"
	"strconv"
	"strings"
)

// MemDesc describes a tensor: logical dims, element type and physical
// layout. Two descriptors are interchangeable only when their resolved
// strides agree; Equal implements exactly that, so a primitive-chosen layout
// that happens to coincide with the user's needs no reorder.
type MemDesc struct {
	Dims []int
	Type DataType
	Tag  Layout
}

// NewMemDesc builds a validated descriptor. The tag's rank must match
// len(dims) and every dim must be positive. LayoutAny accepts rank 1 or 4.
func NewMemDesc(dims []int, dt DataType, tag Layout) (MemDesc, error) {
	const op = "mem_desc"
	if dt.Size() == 0 {
		return MemDesc{}, constructionError(op, "unknown data type %d", int(dt))
	}
	if tag == LayoutAny {
		if len(dims) != 1 && len(dims) != 4 {
			return MemDesc{}, constructionError(op, "layout any wants rank 1 or 4, got %d dims", len(dims))
		}
	} else if tag.Rank() != len(dims) {
		return MemDesc{}, constructionError(op, "layout %s wants rank %d, got %d dims", tag, tag.Rank(), len(dims))
	}
	for i, d := range dims {
		if d <= 0 {
			return MemDesc{}, constructionError(op, "dim %d is %d, want > 0", i, d)
		}
	}
	return MemDesc{Dims: append([]int(nil), dims...), Type: dt, Tag: tag}, nil
}

// NumElems returns the product of the logical dims.
func (d MemDesc) NumElems() int {
	n := 1
	for _, v := range d.Dims {
		n *= v
	}
	return n
}

// ByteSize returns the dense size of the tensor in bytes.
func (d MemDesc) ByteSize() int { return d.NumElems() * d.Type.Size() }

// IsAny reports whether the layout is still a negotiation wildcard.
func (d MemDesc) IsAny() bool { return d.Tag == LayoutAny }

// Strides returns logical-order strides, or nil for LayoutAny.
func (d MemDesc) Strides() []int { return layoutStrides(d.Tag, d.Dims) }

// WithLayout returns a copy of the descriptor carrying tag.
func (d MemDesc) WithLayout(tag Layout) MemDesc {
	d.Tag = tag
	return d
}

// Equal reports whether two descriptors describe interchangeable memory:
// same dims, same type, and identical strides wherever a dim extent exceeds
// one. Strides of size-1 dims never influence addressing, so degenerate
// shapes whose layouts coincide compare equal.
func (d MemDesc) Equal(o MemDesc) bool {
	if d.Type != o.Type || len(d.Dims) != len(o.Dims) {
		return false
	}
	for i := range d.Dims {
		if d.Dims[i] != o.Dims[i] {
			return false
		}
	}
	if d.Tag == LayoutAny || o.Tag == LayoutAny {
		return d.Tag == o.Tag
	}
	ds, os := d.Strides(), o.Strides()
	for i := range ds {
		if d.Dims[i] > 1 && ds[i] != os[i] {
			return false
		}
	}
	return true
}

func (d MemDesc) String() string {
	parts := make([]string, len(d.Dims))
	for i, v := range d.Dims {
		parts[i] = strconv.Itoa(v)
	}
	return fmt.Sprintf("%s %s %s", strings.Join(parts, "x"), d.Type, d.Tag)
}

// PropKind selects the propagation flavor of a primitive.
type PropKind int

const (
	ForwardTraining PropKind = iota
	ForwardInference
)

// ConvAlg selects the convolution algorithm.
type ConvAlg int

// ConvDirect computes the convolution directly, without FFT or Winograd
// lowering.
const ConvDirect ConvAlg = iota

// EltwiseAlg selects the elementwise function of a post-op.
type EltwiseAlg int

// EltwiseReLU is max(x, 0), or x < 0 ? alpha*x : x when alpha is nonzero.
const EltwiseReLU EltwiseAlg = iota

// PostOp is one fused epilogue step: out = scale * alg(alpha, beta, x).
type PostOp struct {
	Scale float32
	Alg   EltwiseAlg
	Alpha float32
	Beta  float32
}

// Attr collects primitive attributes. The zero value is an empty chain.
type Attr struct {
	post []PostOp
}

// AppendEltwise adds an elementwise step to the post-op chain.
func (a *Attr) AppendEltwise(scale float32, alg EltwiseAlg, alpha, beta float32) {
	a.post = append(a.post, PostOp{Scale: scale, Alg: alg, Alpha: alpha, Beta: beta})
}

// PostOps returns the chain in append order.
func (a Attr) PostOps() []PostOp { return a.post }

// ConvForwardDesc describes a forward convolution with bias. Src, Weights
// and Dst may carry LayoutAny to let the engine choose a layout; Bias must
// be concrete rank 1.
type ConvForwardDesc struct {
	Prop    PropKind
	Alg     ConvAlg
	Src     MemDesc
	Weights MemDesc
	Bias    MemDesc
	Dst     MemDesc

	StrideH, StrideW int

	PadTop, PadBottom, PadLeft, PadRight int
}
