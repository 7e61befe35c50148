package device

import "unsafe"

var _ Memory = (*cpuMemory)(nil)

// cpuMemory backs a descriptor with a dense typed slice. The byte view
// aliases the typed storage: kernels index float slices while marshaling
// copies bytes, and both see the same allocation.
type cpuMemory struct {
	eng      *CPUEngine
	desc     MemDesc
	f32      []float32
	f64      []float64
	released bool
}

func newCPUMemory(eng *CPUEngine, d MemDesc) (*cpuMemory, error) {
	m := &cpuMemory{eng: eng, desc: d}
	n := d.NumElems()
	switch d.Type {
	case F32:
		m.f32 = make([]float32, n)
	case F64:
		m.f64 = make([]float64, n)
	default:
		return nil, constructionError("memory", "no cpu storage for type %s", d.Type)
	}
	memAllocatedBytes.Add(float64(d.ByteSize()))
	memObjects.Inc()
	return m, nil
}

func (m *cpuMemory) Desc() MemDesc { return m.desc }

func (m *cpuMemory) Engine() Engine { return m.eng }

// Bytes aliases the typed backing storage, keeping float alignment intact.
func (m *cpuMemory) Bytes() []byte {
	switch {
	case m.f32 != nil:
		return unsafe.Slice((*byte)(unsafe.Pointer(&m.f32[0])), len(m.f32)*4)
	case m.f64 != nil:
		return unsafe.Slice((*byte)(unsafe.Pointer(&m.f64[0])), len(m.f64)*8)
	}
	return nil
}

func (m *cpuMemory) Release() {
	if m.released {
		return
	}
	m.released = true
	memAllocatedBytes.Sub(float64(m.desc.ByteSize()))
	memObjects.Dec()
	m.f32, m.f64 = nil, nil
}
