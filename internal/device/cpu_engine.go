package device

import (
	"runtime"

	"github.com/rs/zerolog/log"
)

var _ Engine = (*CPUEngine)(nil)

// CPUEngine plans and executes primitives on the host. Convolution kernels
// run on gonum BLAS; negotiated plans are cached per engine.
type CPUEngine struct {
	isa     isaInfo
	workers int
	plans   *planCache
}

// NewCPUEngine detects the host ISA and readies the plan cache.
func NewCPUEngine() *CPUEngine {
	e := &CPUEngine{
		isa:     detectISA(),
		workers: runtime.NumCPU(),
		plans:   newPlanCache(),
	}
	log.Debug().
		Str("isa", e.isa.name).
		Int("lanes", e.isa.lanes).
		Int("workers", e.workers).
		Msg("CPU engine ready")
	return e
}

func (e *CPUEngine) Name() string { return "cpu/" + e.isa.name }

func (e *CPUEngine) Kind() Kind { return CPU }

// NewMemory allocates dense storage for a concrete descriptor.
func (e *CPUEngine) NewMemory(d MemDesc) (Memory, error) {
	if d.IsAny() {
		return nil, constructionError("memory", "cannot allocate storage for layout any")
	}
	if _, err := NewMemDesc(d.Dims, d.Type, d.Tag); err != nil {
		return nil, err
	}
	return newCPUMemory(e, d)
}

// ConvForward validates and plans a fused forward convolution. Identical
// descriptor/attribute pairs reuse the cached plan.
func (e *CPUEngine) ConvForward(d ConvForwardDesc, attr Attr) (ConvForward, error) {
	key := convPlanKey(d, attr)
	if p, ok := e.plans.get(key); ok {
		return &cpuConv{eng: e, plan: p}, nil
	}

	p, err := newConvPlan(d, attr)
	if err != nil {
		return nil, err
	}
	e.plans.put(key, p)
	return &cpuConv{eng: e, plan: p}, nil
}

// NewStream opens an in-order execution queue on the engine.
func (e *CPUEngine) NewStream() (Stream, error) {
	return newCPUStream(e), nil
}

// workersFor caps parallelism so every worker keeps at least a few thousand
// vector lanes of work; tiny tensors stay single threaded.
func (e *CPUEngine) workersFor(items, elemsPerItem int) int {
	w := e.workers
	if w > items {
		w = items
	}
	maxUseful := items * elemsPerItem / (e.isa.lanes * 2048)
	if maxUseful < 1 {
		maxUseful = 1
	}
	if w > maxUseful {
		w = maxUseful
	}
	return w
}
