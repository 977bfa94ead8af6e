package adaptive

import (
	"context"
	"sync"
)

// SliceSource serves a fixed list of tasks in order.
type SliceSource struct {
	mu    sync.Mutex
	tasks []Task
	next  int
}

func NewSliceSource(tasks ...Task) *SliceSource {
	return &SliceSource{tasks: tasks}
}

func (s *SliceSource) Next(_ context.Context) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.tasks) {
		return nil, ErrDone
	}
	t := s.tasks[s.next]
	s.next++
	return t, nil
}

// ChanSource pulls tasks from a channel and reports ErrDone once the
// channel is closed and drained.
type ChanSource struct {
	C <-chan Task
}

func (s ChanSource) Next(ctx context.Context) (Task, error) {
	select {
	case t, ok := <-s.C:
		if !ok {
			return nil, ErrDone
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SourceFunc adapts a pull function to the Source interface.
type SourceFunc func(ctx context.Context) (Task, error)

func (f SourceFunc) Next(ctx context.Context) (Task, error) {
	return f(ctx)
}

var (
	_ Source = (*SliceSource)(nil)
	_ Source = ChanSource{}
	_ Source = (SourceFunc)(nil)
)
