package device

// DataType tags the element type of a memory object.
type DataType int

const (
	F32 DataType = iota + 1
	F64
)

// Size returns the element width in bytes, or 0 for an unknown type.
func (dt DataType) Size() int {
	switch dt {
	case F32:
		return 4
	case F64:
		return 8
	}
	return 0
}

func (dt DataType) String() string {
	switch dt {
	case F32:
		return "f32"
	case F64:
		return "f64"
	}
	return "undef"
}
