package conv

import (
	"fmt"
	"unsafe"

	"github.com/raftwork/convkit/internal/device"
)

// floatBytes views a float32 slice as raw bytes without copying.
func floatBytes(buf []float32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&buf[0])), len(buf)*4)
}

// hostBytes resolves a memory object's host byte view. Marshaling is a
// host-only path: memory owned by a non-cpu engine is as unusable here as
// a released one, so both fail as invalid handles.
func hostBytes(m device.Memory, name string) ([]byte, error) {
	if m.Engine().Kind() != device.CPU {
		return nil, device.NewError(device.KindInvalidHandle, "marshal", name+" memory is not on a host engine")
	}
	b := m.Bytes()
	if b == nil {
		return nil, device.NewError(device.KindInvalidHandle, "marshal", name+" memory has no host storage")
	}
	return b, nil
}

// copyIn marshals a caller buffer into engine memory byte for byte. The
// memory must be host addressable and exactly the buffer's size.
func copyIn(m device.Memory, buf []float32, name string) error {
	if len(buf) == 0 {
		return device.NewError(device.KindInvalidHandle, "marshal", "nil "+name+" buffer")
	}
	dst, err := hostBytes(m, name)
	if err != nil {
		return err
	}
	src := floatBytes(buf)
	if len(src) != len(dst) {
		return device.NewError(device.KindConstruction, "marshal",
			fmt.Sprintf("%s buffer is %d bytes, memory holds %d", name, len(src), len(dst)))
	}
	copy(dst, src)
	marshaledBytes.WithLabelValues("in").Add(float64(len(src)))
	return nil
}

// copyOut marshals engine memory back into a caller buffer.
func copyOut(buf []float32, m device.Memory, name string) error {
	if len(buf) == 0 {
		return device.NewError(device.KindInvalidHandle, "marshal", "nil "+name+" buffer")
	}
	src, err := hostBytes(m, name)
	if err != nil {
		return err
	}
	dst := floatBytes(buf)
	if len(src) != len(dst) {
		return device.NewError(device.KindConstruction, "marshal",
			fmt.Sprintf("%s buffer is %d bytes, memory holds %d", name, len(dst), len(src)))
	}
	copy(dst, src)
	marshaledBytes.WithLabelValues("out").Add(float64(len(src)))
	return nil
}
