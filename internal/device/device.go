package device

// Arg names one operand slot of a primitive.
type Arg int

const (
	ArgSrc Arg = iota
	ArgWeights
	ArgBias
	ArgDst
)

func (a Arg) String() string {
	switch a {
	case ArgSrc:
		return "src"
	case ArgWeights:
		return "weights"
	case ArgBias:
		return "bias"
	case ArgDst:
		return "dst"
	}
	return "unknown"
}

// Args binds operand slots to memory objects for one execution.
type Args map[Arg]Memory

// Memory pairs a descriptor with engine-owned storage. Objects live until
// Release; the engine never frees them behind the caller's back.
type Memory interface {
	// Desc returns the descriptor the memory was allocated for.
	Desc() MemDesc

	// Bytes returns the host view of the storage, or nil when the
	// engine's memory is not host addressable.
	Bytes() []byte

	// Engine returns the owning engine.
	Engine() Engine

	// Release drops the storage. Using the memory afterwards fails with
	// an invalid-handle error.
	Release()
}

// Primitive is an executable engine object. Execute enqueues it on a
// stream; completion and failure are observed through Stream.Wait.
type Primitive interface {
	Kind() string
	Execute(s Stream, args Args) error
}

// ConvForward is a planned forward convolution. The engine resolves any
// LayoutAny operands at construction; the chosen descriptors are exposed so
// callers can stage reorders where they differ from their own layouts.
type ConvForward interface {
	Primitive
	SrcDesc() MemDesc
	WeightsDesc() MemDesc
	BiasDesc() MemDesc
	DstDesc() MemDesc
}

// Stream is an in-order command queue owned by an engine. Submissions are
// asynchronous; Wait blocks until everything queued so far has run and
// returns the first execution error, which stays sticky until Close.
// Streams are not safe for concurrent submission.
type Stream interface {
	Submit(p Primitive, args Args) error
	Wait() error
	Close() error
}

// Engine creates memory objects and plans primitives for one device.
type Engine interface {
	Name() string
	Kind() Kind

	// NewMemory allocates storage for a concrete descriptor.
	NewMemory(d MemDesc) (Memory, error)

	// ConvForward plans a convolution. Construction validates the whole
	// descriptor; a rejected descriptor never yields a partial plan.
	ConvForward(d ConvForwardDesc, attr Attr) (ConvForward, error)

	// Reorder plans a layout rewrite between two concrete descriptors of
	// equal dims and type.
	Reorder(src, dst MemDesc) (Primitive, error)

	// NewStream opens an execution queue on the engine.
	NewStream() (Stream, error)
}

// Kind selects an engine implementation.
type Kind int

const (
	CPU Kind = iota
)

func (k Kind) String() string {
	switch k {
	case CPU:
		return "cpu"
	}
	return "unknown"
}

// NewEngine constructs the engine for kind.
func NewEngine(k Kind) (Engine, error) {
	switch k {
	case CPU:
		return NewCPUEngine(), nil
	}
	return nil, constructionError("engine", "unsupported engine kind %d", int(k))
}

// Context owns an engine plus one stream, created and torn down together.
// Callers pass a Context to everything that talks to the device; nothing in
// this package holds global engine state.
type Context struct {
	Engine Engine
	Stream Stream
}

// NewContext builds an engine of the given kind and opens its stream.
func NewContext(k Kind) (*Context, error) {
	eng, err := NewEngine(k)
	if err != nil {
		return nil, err
	}
	strm, err := eng.NewStream()
	if err != nil {
		return nil, err
	}
	return &Context{Engine: eng, Stream: strm}, nil
}

// Close tears the stream down and surfaces its sticky error, if any.
func (c *Context) Close() error {
	if c.Stream == nil {
		return nil
	}
	err := c.Stream.Close()
	c.Stream = nil
	return err
}
