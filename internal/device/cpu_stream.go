package device

import (
	"sync"
)

var _ Stream = (*cpuStream)(nil)

// runner is the package-private execution hook every cpu primitive
// implements. The stream worker calls it after dequeue.
type runner interface {
	run(args Args) error
}

// cpuStream runs primitives on a single worker goroutine in submission
// order. The first failure is recorded and returned by every Wait until
// Close; later tasks still run, so a queued reorder never deadlocks a
// caller that waits after each submit. Submit holds mu from the
// closed-check through the enqueue, so a Submit racing Close fails with
// the closed-stream error and never reaches a torn-down queue.
type cpuStream struct {
	eng   *CPUEngine
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex // serializes Submit against Close
	closed bool

	errMu sync.Mutex
	err   error
}

func newCPUStream(eng *CPUEngine) *cpuStream {
	s := &cpuStream{
		eng:   eng,
		tasks: make(chan func(), 16),
		done:  make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *cpuStream) worker() {
	for task := range s.tasks {
		task()
		s.wg.Done()
	}
	close(s.done)
}

// Submit enqueues p with its argument bindings. The primitive must have
// been planned by the cpu engine.
func (s *cpuStream) Submit(p Primitive, args Args) error {
	r, ok := p.(runner)
	if !ok {
		return executionError("submit", "primitive %T was not planned by the cpu engine", p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return executionError("submit", "stream is closed")
	}

	s.wg.Add(1)
	s.tasks <- func() {
		if err := r.run(args); err != nil {
			s.recordErr(err)
		}
	}
	return nil
}

// Wait blocks until everything queued so far has run and returns the
// sticky error, if any.
func (s *cpuStream) Wait() error {
	s.wg.Wait()
	return s.stickyErr()
}

// Close drains the queue, stops the worker and surfaces the sticky error.
// Further submissions fail.
func (s *cpuStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.stickyErr()
	}
	s.closed = true
	s.mu.Unlock()

	close(s.tasks)
	<-s.done
	return s.stickyErr()
}

// recordErr keeps the first failure. The worker takes only errMu, so a
// submitter blocked on a full queue while holding mu cannot starve it.
func (s *cpuStream) recordErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *cpuStream) stickyErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}
