package device

import (
	"sync"
	"time"
)

// Reorder plans a layout rewrite between two concrete descriptors of equal
// dims and type. The primitive preserves logical values; only the physical
// element order changes.
func (e *CPUEngine) Reorder(src, dst MemDesc) (Primitive, error) {
	const op = "reorder"

	for _, operand := range []struct {
		name string
		d    MemDesc
	}{
		{"src", src}, {"dst", dst},
	} {
		if operand.d.IsAny() {
			return nil, constructionError(op, "%s layout must be concrete", operand.name)
		}
		if _, err := NewMemDesc(operand.d.Dims, operand.d.Type, operand.d.Tag); err != nil {
			return nil, constructionError(op, "invalid %s descriptor: %v", operand.name, err)
		}
	}
	if src.Type != dst.Type {
		return nil, constructionError(op, "type mismatch: %s vs %s", src.Type, dst.Type)
	}
	if len(src.Dims) != len(dst.Dims) {
		return nil, constructionError(op, "rank mismatch: %d vs %d", len(src.Dims), len(dst.Dims))
	}
	for i := range src.Dims {
		if src.Dims[i] != dst.Dims[i] {
			return nil, constructionError(op, "dim %d mismatch: %d vs %d", i, src.Dims[i], dst.Dims[i])
		}
	}
	return &cpuReorder{eng: e, src: src, dst: dst}, nil
}

var _ Primitive = (*cpuReorder)(nil)

// cpuReorder copies elements between two layouts of the same logical
// tensor, walking the logical index space with each side's own strides.
type cpuReorder struct {
	eng *CPUEngine
	src MemDesc
	dst MemDesc
}

func (r *cpuReorder) Kind() string { return "reorder" }

func (r *cpuReorder) Execute(s Stream, args Args) error {
	cs, ok := s.(*cpuStream)
	if !ok || cs.eng != r.eng {
		return executionError("execute", "stream was not opened on this engine")
	}
	return cs.Submit(r, args)
}

func (r *cpuReorder) run(args Args) error {
	const op = "reorder"
	start := time.Now()

	srcMem, err := hostMemory(args, ArgSrc, r.src, op)
	if err != nil {
		return err
	}
	dstMem, err := hostMemory(args, ArgDst, r.dst, op)
	if err != nil {
		return err
	}

	dims := r.src.Dims
	if len(dims) == 1 {
		// Rank 1 has a single layout; the copy is dense.
		switch r.src.Type {
		case F32:
			copy(dstMem.f32, srcMem.f32)
		case F64:
			copy(dstMem.f64, srcMem.f64)
		}
	} else {
		r.copyStrided(srcMem, dstMem)
	}

	primitivesExecuted.WithLabelValues(r.Kind()).Inc()
	primitiveDuration.WithLabelValues(r.Kind()).Observe(time.Since(start).Seconds())
	return nil
}

// copyStrided walks the rank-4 logical index space, parallel over the two
// outer dims.
func (r *cpuReorder) copyStrided(srcMem, dstMem *cpuMemory) {
	dims := r.src.Dims
	ss, ds := r.src.Strides(), r.dst.Strides()
	outer := dims[0] * dims[1]
	inner := dims[2] * dims[3]

	workers := r.eng.workersFor(outer, inner)
	outerPerWorker := (outer + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		startOuter := w * outerPerWorker
		endOuter := startOuter + outerPerWorker
		if startOuter >= outer {
			break
		}
		if endOuter > outer {
			endOuter = outer
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for o := start; o < end; o++ {
				i0, i1 := o/dims[1], o%dims[1]
				sBase := i0*ss[0] + i1*ss[1]
				dBase := i0*ds[0] + i1*ds[1]
				for i2 := 0; i2 < dims[2]; i2++ {
					sRow := sBase + i2*ss[2]
					dRow := dBase + i2*ds[2]
					switch r.src.Type {
					case F32:
						for i3 := 0; i3 < dims[3]; i3++ {
							dstMem.f32[dRow+i3*ds[3]] = srcMem.f32[sRow+i3*ss[3]]
						}
					case F64:
						for i3 := 0; i3 < dims[3]; i3++ {
							dstMem.f64[dRow+i3*ds[3]] = srcMem.f64[sRow+i3*ss[3]]
						}
					}
				}
			}
		}(startOuter, endOuter)
	}
	wg.Wait()
}

// hostMemory resolves one bound operand like f32Data but keeps the typed
// memory object, letting reorders serve both element types.
func hostMemory(args Args, arg Arg, want MemDesc, op string) (*cpuMemory, error) {
	m, ok := args[arg]
	if !ok || m == nil {
		return nil, invalidHandleError(op, "no memory bound for "+arg.String())
	}
	cm, ok := m.(*cpuMemory)
	if !ok {
		return nil, executionError(op, "%s memory does not belong to the cpu engine", arg)
	}
	if cm.f32 == nil && cm.f64 == nil {
		return nil, invalidHandleError(op, arg.String()+" memory is released")
	}
	if !cm.desc.Equal(want) {
		return nil, executionError(op, "%s memory is %s, plan wants %s", arg, cm.desc, want)
	}
	return cm, nil
}
