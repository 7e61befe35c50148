package device

// Layout tags the physical arrangement of a tensor's elements. Logical
// dimension order never changes with the tag: activations are {N, C, H, W},
// weights {OC, IC, KH, KW} and 1-D tensors {L} no matter how the bytes are
// laid out. LayoutAny defers the choice to the engine at primitive
// construction time.
type Layout int

const (
	LayoutAny Layout = iota
	NCHW
	NHWC
	OIHW
	IHWO
	X
)

func (l Layout) String() string {
	switch l {
	case LayoutAny:
		return "any"
	case NCHW:
		return "nchw"
	case NHWC:
		return "nhwc"
	case OIHW:
		return "oihw"
	case IHWO:
		return "ihwo"
	case X:
		return "x"
	}
	return "undef"
}

// Rank returns the dimensionality the tag applies to, or 0 for LayoutAny.
func (l Layout) Rank() int {
	switch l {
	case NCHW, NHWC, OIHW, IHWO:
		return 4
	case X:
		return 1
	}
	return 0
}

// layoutStrides derives logical-order strides for the tag over dims. The
// returned slice lines up with the logical dims whatever the physical order.
func layoutStrides(l Layout, dims []int) []int {
	switch l {
	case NCHW, OIHW:
		// physical order matches logical order
		return []int{dims[1] * dims[2] * dims[3], dims[2] * dims[3], dims[3], 1}
	case NHWC:
		// physical N, H, W, C
		return []int{dims[2] * dims[3] * dims[1], 1, dims[3] * dims[1], dims[1]}
	case IHWO:
		// physical IC, KH, KW, OC
		return []int{1, dims[2] * dims[3] * dims[0], dims[3] * dims[0], dims[0]}
	case X:
		return []int{1}
	}
	return nil
}
