package adaptive

import "sync"

// Stream delivers task results in completion order. Results is closed once
// the execution finishes for any reason; Err then reports how it ended.
type Stream struct {
	results chan any

	mu  sync.Mutex
	err error
}

func newStream() *Stream {
	return &Stream{results: make(chan any)}
}

func (s *Stream) Results() <-chan any {
	return s.results
}

// Err reports the terminal error of the execution, nil on a clean drain.
// It is meaningful once Results has been closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// fail records the first terminal error; later calls keep the original.
func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

type streamOptions struct {
	progress    func(v any)
	onTaskError func(err error)
}

// StreamOption customizes a single Execute call.
type StreamOption func(*streamOptions)

// WithProgress invokes fn synchronously with every non-nil result just
// before it is yielded on the stream.
func WithProgress(fn func(v any)) StreamOption {
	return func(o *streamOptions) {
		o.progress = fn
	}
}

// WithTaskErrorHandler invokes fn for every failed task. With
// ContinueOnError set the execution then carries on; otherwise the same
// error also terminates the stream.
func WithTaskErrorHandler(fn func(err error)) StreamOption {
	return func(o *streamOptions) {
		o.onTaskError = fn
	}
}
